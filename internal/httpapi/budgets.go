package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
)

func bucketFromPath(r *http.Request) domain.Bucket {
	vars := mux.Vars(r)
	return domain.Bucket{BudgetType: vars["type"], SchoolYear: vars["year"]}
}

func (s *Server) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.budgets.ListBuckets(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]bucketView, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, toBucketView(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBucket(w http.ResponseWriter, r *http.Request) {
	b, err := s.budgets.Bucket(r.Context(), bucketFromPath(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBucketView(b))
}

type setTotalInput struct {
	Total *int64 `json:"total_budget"`
}

func (s *Server) handleSetTotal(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in setTotalInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if in.Total == nil || *in.Total < 0 {
		s.writeError(w, r, fmt.Errorf("%w: total_budget must be a non-negative integer", errBadRequest))
		return
	}
	bucket := bucketFromPath(r)
	b, err := s.budgets.SetTotal(r.Context(), bucket, *in.Total)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("budget total set", "bucket", bucket.String(), "total", *in.Total, "actor_id", a.ID)
	writeJSON(w, http.StatusOK, toBucketView(b))
}
