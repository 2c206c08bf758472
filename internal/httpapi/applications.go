package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
	"github.com/twistedwarden/esm-v3-sub005/internal/repository"
	"github.com/twistedwarden/esm-v3-sub005/internal/service"
)

type submitInput struct {
	StudentID       string `json:"student_id"`
	Program         string `json:"program"`
	SchoolYear      string `json:"school_year"`
	Type            string `json:"type"`
	RequestedAmount int64  `json:"requested_amount"`
	Notes           string `json:"notes"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in submitInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	app, err := s.workflow.Submit(r.Context(), service.SubmitRequest{
		StudentID:       in.StudentID,
		Program:         in.Program,
		SchoolYear:      in.SchoolYear,
		Type:            domain.ApplicationType(in.Type),
		RequestedAmount: in.RequestedAmount,
		Actor:           a,
		Notes:           in.Notes,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toApplicationView(app))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repository.ApplicationFilter{
		Status:     domain.ApplicationStatus(q.Get("status")),
		StudentID:  q.Get("student_id"),
		Program:    q.Get("program"),
		SchoolYear: q.Get("school_year"),
	}
	if v := q.Get("include_archived"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: include_archived: %v", errBadRequest, err))
			return
		}
		f.IncludeArchived = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be a non-negative integer", errBadRequest))
			return
		}
		f.Limit = n
	}

	apps, err := s.workflow.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]applicationView, 0, len(apps))
	for _, a := range apps {
		out = append(out, toApplicationView(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	app, err := s.workflow.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationView(app))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	changes, err := s.workflow.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]historyView, 0, len(changes))
	for _, c := range changes {
		out = append(out, historyView{
			From:      string(c.From),
			To:        string(c.To),
			ActorID:   c.ActorID,
			ActorRole: c.ActorRole,
			Notes:     c.Notes,
			CreatedAt: c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type transitionInput struct {
	Target string `json:"target"`
	Notes  string `json:"notes"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in transitionInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if in.Target == "" {
		s.writeError(w, r, fmt.Errorf("%w: target is required", errBadRequest))
		return
	}
	app, err := s.workflow.Transition(r.Context(), service.TransitionRequest{
		ApplicationID: mux.Vars(r)["id"],
		Target:        domain.ApplicationStatus(in.Target),
		Actor:         a,
		Notes:         in.Notes,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationView(app))
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	app, err := s.workflow.Archive(r.Context(), mux.Vars(r)["id"], a)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationView(app))
}

func (s *Server) handleStages(w http.ResponseWriter, r *http.Request) {
	stages, err := s.review.Stages(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]stageView, 0, len(stages))
	for _, st := range stages {
		out = append(out, stageView{
			ID:                st.ID,
			Stage:             string(st.Stage),
			Attempt:           st.Attempt,
			Status:            string(st.Status),
			ReviewerID:        st.ReviewerID,
			RecommendedAmount: st.RecommendedAmount,
			ApprovedAmount:    st.ApprovedAmount,
			Notes:             st.Notes,
			CreatedAt:         st.CreatedAt,
			CompletedAt:       st.CompletedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type decisionInput struct {
	Decision          string `json:"decision"`
	Cycle             int    `json:"cycle"`
	Notes             string `json:"notes"`
	RecommendedAmount *int64 `json:"recommended_amount"`
	ApprovedAmount    *int64 `json:"approved_amount"`
}

func (s *Server) handleStageDecision(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in decisionInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	app, err := s.review.SubmitStageDecision(r.Context(), service.StageDecisionRequest{
		ApplicationID:     vars["id"],
		Stage:             domain.StageName(vars["stage"]),
		Decision:          domain.StageStatus(in.Decision),
		Cycle:             in.Cycle,
		Actor:             a,
		Notes:             in.Notes,
		RecommendedAmount: in.RecommendedAmount,
		ApprovedAmount:    in.ApprovedAmount,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationView(app))
}

type notesInput struct {
	Notes string `json:"notes"`
}

func (s *Server) handleEndorse(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in notesInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	app, err := s.review.Endorse(r.Context(), mux.Vars(r)["id"], a, in.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationView(app))
}
