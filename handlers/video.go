package handlers

import (
	"context"
	"errors"
	"log"
	"mime"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"rossoflix/internal/mediaresolve"
	"rossoflix/internal/upstream"
	"rossoflix/services/streaming"
)

type streamOpener interface {
	Open(ctx context.Context, ref streaming.Reference, rangeHeader string) (*streaming.Session, error)
}

var _ streamOpener = (*streaming.Proxy)(nil)

// VideoHandler relays torrent content to HTTP clients with range support.
type VideoHandler struct {
	Proxy streamOpener
}

func NewVideoHandler(proxy streamOpener) *VideoHandler {
	return &VideoHandler{Proxy: proxy}
}

// StreamVideo serves GET/HEAD /stream?magnet=&filename=[&fileIdx=&season=&episode=].
// The magnet (or bare info-hash) selects the torrent; filename only steers the
// file choice and names the download.
func (h *VideoHandler) StreamVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		h.HandleOptions(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD, OPTIONS")
		WriteErrorCode(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
		return
	}

	ref, err := referenceFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	rangeHeader := strings.TrimSpace(r.Header.Get("Range"))
	rangeSummary := rangeHeader
	if rangeSummary == "" {
		rangeSummary = "full"
	}
	log.Printf("[video] request hash=%s filename=%q fileIdx=%d method=%s range=%s", ref.HexHash(), ref.Filename, ref.FileIndex, r.Method, rangeSummary)

	session, err := h.Proxy.Open(r.Context(), ref, rangeHeader)
	if err != nil {
		var rangeErr *streaming.UnsatisfiableRangeError
		if errors.As(err, &rangeErr) {
			h.writeCommonHeaders(w)
			w.Header().Set("Accept-Ranges", "bytes")
			w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(rangeErr.Size, 10))
		}
		if isClientGone(err) {
			log.Printf("[video] client left while resolving %s", ref.HexHash())
			return
		}
		log.Printf("[video] open %s failed: %v", ref.HexHash(), err)
		writeError(w, r, err)
		return
	}
	defer session.Close()

	h.writeCommonHeaders(w)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", session.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(session.Length(), 10))
	if session.Filename != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": session.Filename}))
		w.Header().Set("X-Filename", session.Filename)
	}
	status := http.StatusOK
	if session.Partial {
		w.Header().Set("Content-Range", session.ContentRange(session.Size))
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return
	}

	start := time.Now()
	n, err := session.WriteTo(r.Context(), w)
	switch {
	case err == nil:
		log.Printf("[video] session %s complete: %d bytes in %s", session.ID, n, time.Since(start).Round(time.Millisecond))
	case isClientGone(err):
		log.Printf("[video] session %s client disconnected after %d bytes", session.ID, n)
	default:
		// headers are already out; the short body tells the client something broke
		log.Printf("[video] session %s aborted after %d/%d bytes: %v", session.ID, n, session.Length(), err)
	}
}

func referenceFromQuery(r *http.Request) (streaming.Reference, error) {
	params := r.URL.Query()

	source := params.Get("magnet")
	if strings.TrimSpace(source) == "" {
		source = params.Get("infoHash")
	}

	fileIdx := -1
	if raw := strings.TrimSpace(params.Get("fileIdx")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return streaming.Reference{}, upstream.Errorf(upstream.KindBadRequest, "", "", "invalid fileIdx %q", raw)
		}
		fileIdx = parsed
	}

	ref, err := streaming.ParseReference(source, params.Get("filename"), fileIdx)
	if err != nil {
		return streaming.Reference{}, err
	}

	seasonRaw := strings.TrimSpace(params.Get("season"))
	episodeRaw := strings.TrimSpace(params.Get("episode"))
	if seasonRaw == "" && episodeRaw == "" {
		// without explicit numbers the advisory filename may still name the episode
		if code, ok := mediaresolve.ExtractEpisodeCode(ref.Filename); ok {
			ref.Season, ref.Episode = code.Season, code.Episode
		}
		return ref, nil
	}

	if raw := seasonRaw; raw != "" {
		if season, err := strconv.Atoi(raw); err == nil && season >= 0 {
			ref.Season = season
		}
	}
	if raw := episodeRaw; raw != "" {
		if episode, err := strconv.Atoi(raw); err == nil && episode > 0 {
			ref.Episode = episode
		}
	}
	return ref, nil
}

// HandleOptions handles CORS preflight requests
func (h *VideoHandler) HandleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	w.Header().Set(
		"Access-Control-Allow-Headers",
		"Range, Content-Type, Accept, Origin, X-Requested-With",
	)
	w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges, Content-Type, Content-Disposition, X-Filename")
	w.Header().Set("Cross-Origin-Resource-Policy", "cross-origin")
	w.WriteHeader(http.StatusOK)
}

func isClientGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		if netErr.Err != nil {
			if errors.Is(netErr.Err, syscall.EPIPE) || errors.Is(netErr.Err, syscall.ECONNRESET) || errors.Is(netErr.Err, os.ErrClosed) {
				return true
			}
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset")
}

func (h *VideoHandler) writeCommonHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges, Content-Type, Content-Disposition, X-Filename")
	w.Header().Set("Cross-Origin-Resource-Policy", "cross-origin")

	// media bytes are never cached
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}
