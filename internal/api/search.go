package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/starford/deckpack/internal/index"
)

// Searcher is the part of the note index the API reads.
type Searcher interface {
	Search(query string, limit int) ([]index.SearchResult, error)
	FindGUID(guid string) ([]index.SearchResult, error)
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// SearchHandler serves note searches over the workspace index.
type SearchHandler struct {
	idx Searcher
}

// Search handles GET /api/search.
//
//	@Summary		Search notes across workspace definitions
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	false	"Full-text query"
//	@Param			guid	query		string	false	"Exact note guid"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	guid := r.URL.Query().Get("guid")

	var (
		results []index.SearchResult
		err     error
	)
	switch {
	case guid != "":
		results, err = h.idx.FindGUID(guid)
	case q != "":
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		results, err = h.idx.Search(q, limit)
	default:
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' or 'guid' is required"))
		return
	}
	if err != nil {
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if results == nil {
		results = []index.SearchResult{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}
