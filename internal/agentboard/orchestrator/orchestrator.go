// Package orchestrator owns the session lifecycle: it creates sessions
// against the agent service and advances their state as the remote side
// reports progress.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"agentboard/internal/agentboard/agent"
	"agentboard/internal/agentboard/db"
	"agentboard/internal/agentboard/github"
)

// Status is a state in the session lifecycle.
type Status string

const (
	StatusScoping   Status = "scoping"
	StatusResolving Status = "resolving"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusBlocked   Status = "blocked"
)

// Kind distinguishes the two work-item types.
type Kind string

const (
	KindScope   Kind = "scope"
	KindResolve Kind = "resolve"
)

var validStatuses = map[Status]bool{
	StatusScoping:   true,
	StatusResolving: true,
	StatusCompleted: true,
	StatusFailed:    true,
	StatusBlocked:   true,
}

// ParseStatus validates a stored status string.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !validStatuses[status] {
		return "", fmt.Errorf("invalid session status: %q", s)
	}
	return status, nil
}

// Terminal reports whether status is terminal. Terminal sessions are
// never re-polled and never transition again.
func Terminal(status Status) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusBlocked:
		return true
	}
	return false
}

// ErrAgentUnavailable is returned by the creation operations when the
// remote agent cannot be reached; no session record exists afterward.
var ErrAgentUnavailable = errors.New("agent service unavailable")

// ErrIssueNotFound is returned when the tracker does not know the issue
// a resolve request targets.
var ErrIssueNotFound = errors.New("issue not found")

// ValidationError rejects a malformed creation request before any remote
// call or persistence.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// AgentClient starts remote agent sessions.
type AgentClient interface {
	StartSession(ctx context.Context, prompt string) (string, error)
}

// IssueFetcher reads a single issue from the tracker.
type IssueFetcher interface {
	FetchIssue(ctx context.Context, owner, repo string, number int) (github.Issue, error)
}

// Publisher posts at most one tracker comment per (session, status)
// pair and returns the session with the flag recorded.
type Publisher interface {
	PublishIfNeeded(ctx context.Context, sess db.Session, status Status) (db.Session, error)
}

// Config holds the orchestrator's dependencies.
type Config struct {
	DB        *db.DB
	Agent     AgentClient
	Tracker   IssueFetcher
	Publisher Publisher
	Owner     string
	Repo      string
	Logger    *slog.Logger

	// Notify, when set, is called after a session is created or
	// transitions state (e.g. to broadcast over WebSocket).
	Notify func(sess db.Session)
}

// Orchestrator creates sessions and applies state transitions.
type Orchestrator struct {
	db        *db.DB
	agent     AgentClient
	tracker   IssueFetcher
	publisher Publisher
	owner     string
	repo      string
	logger    *slog.Logger
	notify    func(db.Session)
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		db:        cfg.DB,
		agent:     cfg.Agent,
		tracker:   cfg.Tracker,
		publisher: cfg.Publisher,
		owner:     cfg.Owner,
		repo:      cfg.Repo,
		logger:    logger,
		notify:    cfg.Notify,
	}
}

// CreateScopeSession starts a remote scoping session for the issue and
// persists a tracking record in status "scoping". When the agent cannot
// be reached the error wraps ErrAgentUnavailable and no record is
// created.
func (o *Orchestrator) CreateScopeSession(ctx context.Context, issueNumber int, issueTitle, issueBody string) (db.Session, error) {
	if issueNumber <= 0 {
		return db.Session{}, &ValidationError{Reason: "issue_number must be a positive integer"}
	}
	if issueTitle == "" {
		return db.Session{}, &ValidationError{Reason: "issue_title is required"}
	}

	remoteID, err := o.agent.StartSession(ctx, ScopePrompt(issueTitle, issueBody))
	if err != nil {
		return db.Session{}, fmt.Errorf("%w: %v", ErrAgentUnavailable, err)
	}

	return o.createSession(ctx, db.Session{
		IssueNumber:     issueNumber,
		IssueTitle:      issueTitle,
		Kind:            string(KindScope),
		RemoteSessionID: remoteID,
		Status:          string(StatusScoping),
	})
}

// CreateResolveSession fetches the issue from the tracker, starts a
// remote resolution session, and persists a tracking record in status
// "resolving".
func (o *Orchestrator) CreateResolveSession(ctx context.Context, issueNumber int) (db.Session, error) {
	if issueNumber <= 0 {
		return db.Session{}, &ValidationError{Reason: "issue_number must be a positive integer"}
	}

	issue, err := o.tracker.FetchIssue(ctx, o.owner, o.repo, issueNumber)
	if err != nil {
		if github.IsNotFound(err) {
			return db.Session{}, fmt.Errorf("%w: #%d", ErrIssueNotFound, issueNumber)
		}
		return db.Session{}, fmt.Errorf("fetching issue #%d: %w", issueNumber, err)
	}

	remoteID, err := o.agent.StartSession(ctx, ResolvePrompt(o.owner+"/"+o.repo, issueNumber, issue.Title, issue.Body))
	if err != nil {
		return db.Session{}, fmt.Errorf("%w: %v", ErrAgentUnavailable, err)
	}

	return o.createSession(ctx, db.Session{
		IssueNumber:     issueNumber,
		IssueTitle:      issue.Title,
		Kind:            string(KindResolve),
		RemoteSessionID: remoteID,
		Status:          string(StatusResolving),
	})
}

func (o *Orchestrator) createSession(ctx context.Context, sess db.Session) (db.Session, error) {
	created, err := o.db.CreateSession(sess)
	if err != nil {
		return db.Session{}, err
	}

	if err := o.db.LogActivity(created.ID, "session_created", "", created.Status,
		fmt.Sprintf("%s session created for issue #%d", created.Kind, created.IssueNumber)); err != nil {
		o.logger.Warn("logging activity", "session_id", created.ID, "error", err)
	}

	// Best-effort "started" comment. A tracker failure here never rolls
	// back the session; the comment is retried when the same status is
	// re-observed.
	if o.publisher != nil {
		updated, err := o.publisher.PublishIfNeeded(ctx, created, Status(created.Status))
		if err != nil {
			o.logger.Warn("posting started comment", "session_id", created.ID, "error", err)
		} else {
			created = updated
		}
	}

	if o.notify != nil {
		o.notify(created)
	}
	return created, nil
}

// Advance applies the transition implied by a remote status report to a
// non-terminal session. The write is guarded by the version sess carried
// when it was read, before the remote call: overlapping reconciliation
// passes resolve to one winner and the loser returns
// db.ErrVersionConflict untouched.
//
// A still-running report performs no store write at all.
func (o *Orchestrator) Advance(ctx context.Context, sess db.Session, remote agent.SessionStatus) (db.Session, error) {
	current, err := ParseStatus(sess.Status)
	if err != nil {
		return db.Session{}, err
	}
	if Terminal(current) {
		return sess, nil
	}

	switch remote.State {
	case agent.StateRunning:
		return sess, nil
	case agent.StateCompleted:
		return o.transition(ctx, sess, StatusCompleted, "agent reported completion", func(s *db.Session) {
			if remote.ActionPlan != "" && s.ActionPlan == "" {
				s.ActionPlan = remote.ActionPlan
			}
			if Kind(s.Kind) == KindScope && s.ConfidenceScore == nil && validConfidence(remote.ConfidenceScore) {
				s.ConfidenceScore = remote.ConfidenceScore
			}
		})
	case agent.StateFailed:
		return o.transition(ctx, sess, StatusFailed, "agent reported failure", nil)
	case agent.StateBlocked:
		return o.transition(ctx, sess, StatusBlocked, "agent blocked on human input", nil)
	default:
		return db.Session{}, fmt.Errorf("unhandled remote state %q", remote.State)
	}
}

// Fail moves a non-terminal session to "failed" outside the normal
// remote-report path (e.g. a permanent agent error).
func (o *Orchestrator) Fail(ctx context.Context, sess db.Session, reason string) (db.Session, error) {
	current, err := ParseStatus(sess.Status)
	if err != nil {
		return db.Session{}, err
	}
	if Terminal(current) {
		return sess, nil
	}
	return o.transition(ctx, sess, StatusFailed, reason, nil)
}

// transition performs the guarded status write, logs activity, posts the
// transition comment, and notifies listeners.
func (o *Orchestrator) transition(ctx context.Context, sess db.Session, to Status, detail string, extra func(*db.Session)) (db.Session, error) {
	from := sess.Status
	updated, err := o.db.CompareAndUpdateSession(sess.ID, sess.Version, func(s *db.Session) {
		s.Status = string(to)
		if extra != nil {
			extra(s)
		}
	})
	if err != nil {
		return db.Session{}, err
	}

	if err := o.db.LogActivity(updated.ID, "status_change", from, string(to), detail); err != nil {
		o.logger.Warn("logging activity", "session_id", updated.ID, "error", err)
	}

	if o.publisher != nil {
		published, err := o.publisher.PublishIfNeeded(ctx, updated, to)
		if err != nil {
			// The transition stands; the comment retries on the next
			// cycle that re-observes this status.
			o.logger.Warn("publishing status comment", "session_id", updated.ID, "status", to, "error", err)
		} else {
			updated = published
		}
	}

	if o.notify != nil {
		o.notify(updated)
	}
	return updated, nil
}

func validConfidence(score *int) bool {
	return score != nil && *score >= 0 && *score <= 100
}
