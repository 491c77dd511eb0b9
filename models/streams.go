package models

// TorrentStream is one playable candidate returned by the torrent index.
type TorrentStream struct {
	Title      string `json:"title"`
	InfoHash   string `json:"infoHash"`
	Filename   string `json:"filename,omitempty"`
	SizeBytes  *int64 `json:"sizeBytes,omitempty"`
	FileIndex  *int   `json:"fileIdx,omitempty"`
	Magnet     string `json:"magnet"`
	Name       string `json:"name,omitempty"`
	Seeders    *int   `json:"seeders,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Source     string `json:"source,omitempty"`
}

// StreamsResponse wraps stream candidates; an empty list is a valid answer.
type StreamsResponse struct {
	Streams []TorrentStream `json:"streams"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
