package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"agentboard/internal/agentboard/db"
	"agentboard/internal/agentboard/github"
	"agentboard/internal/agentboard/orchestrator"
)

type apiHandler struct {
	db           *db.DB
	orchestrator SessionCreator
	tracker      IssueLister
	owner        string
	repo         string
	startAt      time.Time
}

type apiError struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type issueResponse struct {
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	State     string   `json:"state"`
	Labels    []string `json:"labels"`
	Assignees []string `json:"assignees"`
	HTMLURL   string   `json:"html_url"`
}

type sessionResponse struct {
	ID              string `json:"id"`
	IssueNumber     int    `json:"issue_number"`
	IssueTitle      string `json:"issue_title"`
	Kind            string `json:"kind"`
	RemoteSessionID string `json:"remote_session_id"`
	ActionPlan      string `json:"action_plan,omitempty"`
	ConfidenceScore *int   `json:"confidence_score,omitempty"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

type activityResponse struct {
	EventType  string `json:"event_type"`
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status,omitempty"`
	Detail     string `json:"detail,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type sessionDetailResponse struct {
	sessionResponse
	Activity []activityResponse `json:"activity"`
}

type scopeRequest struct {
	IssueNumber int    `json:"issue_number"`
	IssueTitle  string `json:"issue_title"`
	IssueBody   string `json:"issue_body"`
}

type resolveRequest struct {
	IssueNumber int `json:"issue_number"`
}

func (h *apiHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.startAt).Seconds()),
	})
}

func (h *apiHandler) handleListIssues(w http.ResponseWriter, r *http.Request) {
	if h.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "issue tracker not configured")
		return
	}

	state := r.URL.Query().Get("state")
	if state == "" {
		state = "open"
	}
	labels := r.URL.Query().Get("labels")

	issues, err := h.tracker.ListIssues(r.Context(), h.owner, h.repo, state, labels)
	if err != nil {
		slog.Error("failed to list issues", "error", err)
		writeError(w, http.StatusBadGateway, "failed to list issues")
		return
	}

	resp := make([]issueResponse, 0, len(issues))
	for _, is := range issues {
		resp = append(resp, toIssueResponse(is))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *apiHandler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.db.ListSessions(0)
	if err != nil {
		slog.Error("failed to list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	resp := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		resp = append(resp, toSessionResponse(sess))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *apiHandler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	sess, err := h.db.GetSession(id)
	if err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		slog.Error("failed to get session", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get session")
		return
	}

	entries, err := h.db.ListActivity(id, 200, 0)
	if err != nil {
		slog.Error("failed to list activity", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list activity")
		return
	}

	detail := sessionDetailResponse{
		sessionResponse: toSessionResponse(sess),
		Activity:        make([]activityResponse, 0, len(entries)),
	}
	for _, e := range entries {
		detail.Activity = append(detail.Activity, activityResponse{
			EventType:  e.EventType,
			FromStatus: e.FromStatus,
			ToStatus:   e.ToStatus,
			Detail:     e.Detail,
			CreatedAt:  e.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *apiHandler) handleScopeSession(w http.ResponseWriter, r *http.Request) {
	var req scopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.orchestrator.CreateScopeSession(r.Context(), req.IssueNumber, req.IssueTitle, req.IssueBody)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

func (h *apiHandler) handleResolveSession(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.orchestrator.CreateResolveSession(r.Context(), req.IssueNumber)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

func (h *apiHandler) writeSessionError(w http.ResponseWriter, err error) {
	var verr *orchestrator.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, orchestrator.ErrIssueNotFound):
		writeError(w, http.StatusNotFound, "issue not found")
	case errors.Is(err, orchestrator.ErrAgentUnavailable):
		writeError(w, http.StatusBadGateway, "agent unavailable")
	default:
		slog.Error("failed to create session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
	}
}

func toIssueResponse(is github.Issue) issueResponse {
	labels := is.Labels
	if labels == nil {
		labels = []string{}
	}
	assignees := is.Assignees
	if assignees == nil {
		assignees = []string{}
	}
	return issueResponse{
		Number:    is.Number,
		Title:     is.Title,
		Body:      is.Body,
		State:     is.State,
		Labels:    labels,
		Assignees: assignees,
		HTMLURL:   is.HTMLURL,
	}
}

func toSessionResponse(sess db.Session) sessionResponse {
	return sessionResponse{
		ID:              sess.ID,
		IssueNumber:     sess.IssueNumber,
		IssueTitle:      sess.IssueTitle,
		Kind:            sess.Kind,
		RemoteSessionID: sess.RemoteSessionID,
		ActionPlan:      sess.ActionPlan,
		ConfidenceScore: sess.ConfidenceScore,
		Status:          sess.Status,
		CreatedAt:       sess.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       sess.UpdatedAt.Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}
