package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/WessleyAI/catalog-vectors/engine/domain"
	"github.com/WessleyAI/catalog-vectors/engine/graph"
	"github.com/WessleyAI/catalog-vectors/engine/index"
	"github.com/WessleyAI/catalog-vectors/engine/schema"
)

// RelatedFinder looks up books linked through the catalog graph.
type RelatedFinder interface {
	Related(ctx context.Context, key string, limit int) ([]graph.Related, error)
}

type searchResponse struct {
	Query   string        `json:"query"`
	Results []index.Match `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves GET /search?q=...&filter=field=value&fields=a,b&k=n and,
// when related is non-nil, GET /related?key=...&k=n.
func Handler(s *Service, related RelatedFinder) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filters, err := ParseFilters(q["filter"])
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
			return
		}
		k, err := parseK(q.Get("k"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
			return
		}
		req := Request{Text: q.Get("q"), Filters: filters, Fields: ParseFields(q.Get("fields")), K: k}
		matches, err := s.Search(r.Context(), req)
		if err != nil {
			writeJSON(w, statusFor(err), errorResponse{err.Error()})
			return
		}
		if matches == nil {
			matches = []index.Match{}
		}
		writeJSON(w, http.StatusOK, searchResponse{Query: req.Text, Results: matches})
	})
	if related != nil {
		mux.HandleFunc("GET /related", func(w http.ResponseWriter, r *http.Request) {
			key := r.URL.Query().Get("key")
			if key == "" {
				writeJSON(w, http.StatusBadRequest, errorResponse{"missing key"})
				return
			}
			k, err := parseK(r.URL.Query().Get("k"))
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
				return
			}
			out, err := related.Related(r.Context(), key, k)
			if err != nil {
				writeJSON(w, http.StatusBadGateway, errorResponse{err.Error()})
				return
			}
			if out == nil {
				out = []graph.Related{}
			}
			writeJSON(w, http.StatusOK, out)
		})
	}
	return mux
}

func parseK(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	k, err := strconv.Atoi(s)
	if err != nil || k < 0 {
		return 0, errors.New("k must be a non-negative integer")
	}
	return k, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrEmptyQuery), errors.Is(err, schema.ErrInvalidFilter):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDimensionMismatch), errors.Is(err, index.ErrNoSchema):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
