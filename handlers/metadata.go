package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"rossoflix/internal/upstream"
	"rossoflix/models"
	metadatapkg "rossoflix/services/metadata"
)

type metadataService interface {
	Search(context.Context, models.SearchQuery) (models.SearchPage, error)
	MovieDetails(context.Context, string) (models.MovieDetail, error)
}

var _ metadataService = (*metadatapkg.Service)(nil)

type MetadataHandler struct {
	Service metadataService
}

func NewMetadataHandler(s metadataService) *MetadataHandler {
	return &MetadataHandler{Service: s}
}

// Search handles GET /search?q=&page=&type=. Page defaults to 1 and type to movie.
func (h *MetadataHandler) Search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	page := 1
	if raw := strings.TrimSpace(params.Get("page")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, upstream.New(upstream.KindBadRequest, "", "", models.ErrInvalidPage.Error()))
			return
		}
		page = parsed
	}

	mediaType := string(models.MediaTypeMovie)
	if _, present := params["type"]; present {
		mediaType = params.Get("type")
	}

	query, err := models.NewSearchQuery(params.Get("q"), page, mediaType)
	if err != nil {
		writeError(w, r, upstream.New(upstream.KindBadRequest, "", "", err.Error()))
		return
	}

	results, err := h.Service.Search(r.Context(), query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if results.Results == nil {
		results.Results = []models.MovieSummary{}
	}
	WriteJSON(w, http.StatusOK, results)
}

// MovieDetails handles GET /movie/{externalId}.
func (h *MetadataHandler) MovieDetails(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["externalId"])
	if id == "" {
		writeError(w, r, upstream.New(upstream.KindBadRequest, "", "", "externalId is required"))
		return
	}

	details, err := h.Service.MovieDetails(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, details)
}
