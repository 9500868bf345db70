package httptransport

import (
	"net/http"

	audit "credline/pkg/platform/audit"
	"credline/pkg/platform/httputil"
)

type eventsResponse struct {
	Events []audit.Event `json:"events"`
}

type checkResult struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status string        `json:"status"`
	Checks []checkResult `json:"checks,omitempty"`
}

func (h *Handler) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	resp := readinessResponse{Status: "ready"}
	status := http.StatusOK
	for _, check := range h.checks {
		result := checkResult{Name: check.Name}
		if err := check.Fn(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "readiness check failed", "check", check.Name, "error", err)
			result.Error = err.Error()
			resp.Status = "not_ready"
			status = http.StatusServiceUnavailable
		}
		resp.Checks = append(resp.Checks, result)
	}
	httputil.WriteJSON(w, status, resp)
}

func (h *Handler) handleSubjectEvents(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subjectParam(w, r)
	if !ok {
		return
	}
	events, err := h.ledger.ListEvents(r.Context(), subject)
	h.respond(w, r, eventsResponse{Events: nonNil(events)}, err)
}

func (h *Handler) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	events, err := h.ledger.RecentEvents(r.Context(), limit)
	h.respond(w, r, eventsResponse{Events: nonNil(events)}, err)
}

func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subjectParam(w, r)
	if !ok {
		return
	}
	record, err := h.ledger.GetScore(r.Context(), subject)
	h.respond(w, r, record, err)
}

func (h *Handler) handleCredential(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subjectParam(w, r)
	if !ok {
		return
	}
	cred, err := h.ledger.GetUserSBT(r.Context(), subject)
	h.respond(w, r, cred, err)
}

func (h *Handler) handleLoans(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subjectParam(w, r)
	if !ok {
		return
	}
	loans, err := h.ledger.LoansByBorrower(r.Context(), subject)
	h.respond(w, r, map[string]any{"loans": nonNil(loans)}, err)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
