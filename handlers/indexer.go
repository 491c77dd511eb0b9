package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"rossoflix/internal/upstream"
	"rossoflix/models"
	"rossoflix/services/indexer"
)

type indexerService interface {
	MovieStreams(context.Context, string) ([]models.TorrentStream, error)
	EpisodeStreams(context.Context, string, int, int) ([]models.TorrentStream, error)
}

var _ indexerService = (*indexer.Service)(nil)

type IndexerHandler struct {
	Service indexerService
}

func NewIndexerHandler(s indexerService) *IndexerHandler {
	return &IndexerHandler{Service: s}
}

// MovieStreams handles GET /torrentio/movie/{externalId}.
func (h *IndexerHandler) MovieStreams(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["externalId"])
	if id == "" {
		writeError(w, r, upstream.New(upstream.KindBadRequest, "", "", "externalId is required"))
		return
	}

	streams, err := h.Service.MovieStreams(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeStreams(w, streams)
}

// EpisodeStreams handles GET /torrentio/show/{externalId}/{season}/{episode}.
func (h *IndexerHandler) EpisodeStreams(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := strings.TrimSpace(vars["externalId"])
	if id == "" {
		writeError(w, r, upstream.New(upstream.KindBadRequest, "", "", "externalId is required"))
		return
	}
	season, err := strconv.Atoi(vars["season"])
	if err != nil || season < 0 {
		writeError(w, r, upstream.Errorf(upstream.KindBadRequest, "", "", "invalid season %q", vars["season"]))
		return
	}
	episode, err := strconv.Atoi(vars["episode"])
	if err != nil || episode < 1 {
		writeError(w, r, upstream.Errorf(upstream.KindBadRequest, "", "", "invalid episode %q", vars["episode"]))
		return
	}

	streams, err := h.Service.EpisodeStreams(r.Context(), id, season, episode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeStreams(w, streams)
}

func writeStreams(w http.ResponseWriter, streams []models.TorrentStream) {
	if streams == nil {
		streams = []models.TorrentStream{}
	}
	WriteJSON(w, http.StatusOK, models.StreamsResponse{Streams: streams})
}
