package streaming

import (
	"regexp"
	"strings"

	"github.com/anacrolix/torrent/metainfo"

	"rossoflix/internal/upstream"
)

var reHexInfoHash = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)

// Reference identifies what to stream. The info-hash decides which torrent is
// opened; Filename and FileIndex only steer the choice of file inside it.
type Reference struct {
	InfoHash  metainfo.Hash
	Trackers  []string
	Name      string
	Filename  string
	FileIndex int
	// Season and Episode are set when streaming one episode out of a pack.
	Season  int
	Episode int
}

// HexHash is the lower-case info-hash.
func (r Reference) HexHash() string { return r.InfoHash.HexString() }

// ParseReference accepts a magnet URI or a bare 40 character hex info-hash.
// fileIdx < 0 means unknown.
func ParseReference(magnetOrHash, filename string, fileIdx int) (Reference, error) {
	raw := strings.TrimSpace(magnetOrHash)
	ref := Reference{Filename: strings.TrimSpace(filename), FileIndex: fileIdx}
	if ref.FileIndex < 0 {
		ref.FileIndex = -1
	}

	switch {
	case raw == "":
		return Reference{}, upstream.New(upstream.KindBadRequest, "", "stream", "magnet or info-hash is required")
	case reHexInfoHash.MatchString(raw):
		if err := ref.InfoHash.FromHexString(raw); err != nil {
			return Reference{}, upstream.Wrap(upstream.KindBadRequest, "", "stream", err)
		}
	case strings.HasPrefix(strings.ToLower(raw), "magnet:"):
		m, err := metainfo.ParseMagnetUri(raw)
		if err != nil {
			return Reference{}, upstream.Wrap(upstream.KindBadRequest, "", "stream", err)
		}
		ref.InfoHash = m.InfoHash
		ref.Trackers = m.Trackers
		ref.Name = m.DisplayName
	default:
		return Reference{}, upstream.New(upstream.KindBadRequest, "", "stream", "not a magnet URI or info-hash")
	}

	if ref.InfoHash == (metainfo.Hash{}) {
		return Reference{}, upstream.New(upstream.KindBadRequest, "", "stream", "empty info-hash")
	}
	return ref, nil
}
