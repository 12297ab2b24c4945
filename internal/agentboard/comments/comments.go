// Package comments publishes session status comments to the issue
// tracker, at most once per (session, status) pair.
package comments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"agentboard/internal/agentboard/db"
	"agentboard/internal/agentboard/github"
	"agentboard/internal/agentboard/orchestrator"
)

// flagRecordAttempts bounds the in-pass retries when recording the
// posted-comment flag loses a version race.
const flagRecordAttempts = 3

// CommentPoster posts a comment on a tracker issue.
type CommentPoster interface {
	PostIssueComment(ctx context.Context, owner, repo string, number int, body string) (github.Comment, error)
}

// Config holds the publisher's dependencies.
type Config struct {
	DB      *db.DB
	Tracker CommentPoster
	Owner   string
	Repo    string

	// DisableBlockedComments suppresses the network call for blocked
	// transitions. The flag is still recorded so re-enabling later does
	// not retroactively post a stale comment.
	DisableBlockedComments bool

	Logger *slog.Logger
}

// Publisher implements idempotent status-comment publishing.
type Publisher struct {
	db             *db.DB
	tracker        CommentPoster
	owner          string
	repo           string
	disableBlocked bool
	logger         *slog.Logger
}

// New creates a Publisher.
func New(cfg Config) *Publisher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		db:             cfg.DB,
		tracker:        cfg.Tracker,
		owner:          cfg.Owner,
		repo:           cfg.Repo,
		disableBlocked: cfg.DisableBlockedComments,
		logger:         logger,
	}
}

// PublishIfNeeded posts the comment for status unless one was already
// recorded for this session. The flag is recorded only after the tracker
// confirms the post, so a failed post is retried by a later cycle that
// re-observes the same status. The returned session carries the recorded
// flag.
func (p *Publisher) PublishIfNeeded(ctx context.Context, sess db.Session, status orchestrator.Status) (db.Session, error) {
	if sess.HasCommented(string(status)) {
		return sess, nil
	}

	body := commentBody(sess, status)
	if body == "" {
		return sess, nil
	}

	if status == orchestrator.StatusBlocked && p.disableBlocked {
		p.logger.Info("blocked-session comment suppressed", "session_id", sess.ID, "issue", sess.IssueNumber)
		return p.recordFlag(sess, status)
	}

	if _, err := p.tracker.PostIssueComment(ctx, p.owner, p.repo, sess.IssueNumber, body); err != nil {
		return sess, fmt.Errorf("posting %s comment for issue #%d: %w", status, sess.IssueNumber, err)
	}

	return p.recordFlag(sess, status)
}

// recordFlag marks status as commented via the store's guarded update.
// A version conflict means another writer touched the session between
// our read and write; the flag-only mutation is safe to retry in-pass
// against a fresh read.
func (p *Publisher) recordFlag(sess db.Session, status orchestrator.Status) (db.Session, error) {
	current := sess
	for attempt := 0; attempt < flagRecordAttempts; attempt++ {
		updated, err := p.db.CompareAndUpdateSession(current.ID, current.Version, func(s *db.Session) {
			if !s.HasCommented(string(status)) {
				s.CommentedStatuses = append(s.CommentedStatuses, string(status))
			}
		})
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, db.ErrVersionConflict) {
			return sess, fmt.Errorf("recording comment flag: %w", err)
		}

		fresh, getErr := p.db.GetSession(sess.ID)
		if getErr != nil {
			return sess, fmt.Errorf("re-reading session after conflict: %w", getErr)
		}
		if fresh.HasCommented(string(status)) {
			return fresh, nil
		}
		current = fresh
	}
	return sess, fmt.Errorf("recording comment flag for session %s: %w", sess.ID, db.ErrVersionConflict)
}

// commentBody returns the tracker comment for a session entering status,
// or empty when no comment is warranted.
func commentBody(sess db.Session, status orchestrator.Status) string {
	kind := orchestrator.Kind(sess.Kind)
	switch status {
	case orchestrator.StatusScoping:
		return fmt.Sprintf("🤖 **Agent Analysis Started**\n\n"+
			"I'm analyzing this issue to provide a detailed action plan and confidence score. Session ID: `%s`",
			sess.RemoteSessionID)
	case orchestrator.StatusResolving:
		return fmt.Sprintf("🚀 **Agent Resolution Started**\n\n"+
			"I'm working on resolving this issue. I'll provide regular updates as I make progress.\n\nSession ID: `%s`",
			sess.RemoteSessionID)
	case orchestrator.StatusCompleted:
		return completedBody(sess, kind)
	case orchestrator.StatusFailed:
		return fmt.Sprintf("❌ **Agent Session Failed**\n\n"+
			"The agent could not finish working on this issue. Session ID: `%s`",
			sess.RemoteSessionID)
	case orchestrator.StatusBlocked:
		return fmt.Sprintf("⏸️ **Agent Session Blocked**\n\n"+
			"The agent needs human input before it can continue. Session ID: `%s`",
			sess.RemoteSessionID)
	}
	return ""
}

func completedBody(sess db.Session, kind orchestrator.Kind) string {
	var b strings.Builder
	if kind == orchestrator.KindScope {
		b.WriteString("✅ **Agent Analysis Complete**\n")
	} else {
		b.WriteString("✅ **Agent Resolution Complete**\n")
	}
	if sess.ActionPlan != "" {
		b.WriteString("\n**Action Plan:**\n")
		b.WriteString(sess.ActionPlan)
		b.WriteString("\n")
	}
	if kind == orchestrator.KindScope && sess.ConfidenceScore != nil {
		fmt.Fprintf(&b, "\n**Confidence Score:** %d%%\n", *sess.ConfidenceScore)
	}
	return b.String()
}
