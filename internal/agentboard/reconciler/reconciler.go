// Package reconciler runs the periodic loop that polls the agent
// service for every non-terminal session and advances local state.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"agentboard/internal/agentboard/agent"
	"agentboard/internal/agentboard/db"
	"agentboard/internal/agentboard/orchestrator"
)

// StatusFetcher fetches the state of a remote agent session.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, remoteSessionID string) (agent.SessionStatus, error)
}

// Advancer applies remote status reports to stored sessions.
type Advancer interface {
	Advance(ctx context.Context, sess db.Session, remote agent.SessionStatus) (db.Session, error)
	Fail(ctx context.Context, sess db.Session, reason string) (db.Session, error)
}

// Config holds the reconciler's dependencies and tunables.
type Config struct {
	DB           *db.DB
	Agent        StatusFetcher
	Orchestrator Advancer

	// Interval between sweeps. Zero defaults to 30 seconds.
	Interval time.Duration
	// Workers bounds concurrent per-session reconciliations in a sweep.
	// Zero defaults to 4.
	Workers int
	// Now is the clock used for sweep timing; tests inject a fake.
	Now func() time.Time

	Logger *slog.Logger
}

// Reconciler sweeps non-terminal sessions on a fixed interval. Sessions
// are independent of each other: each sweep fans out over a bounded
// worker pool with no cross-session ordering.
type Reconciler struct {
	db           *db.DB
	agent        StatusFetcher
	orchestrator Advancer
	interval     time.Duration
	workers      int
	now          func() time.Time
	logger       *slog.Logger
}

// New creates a Reconciler.
func New(cfg Config) *Reconciler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		db:           cfg.DB,
		agent:        cfg.Agent,
		orchestrator: cfg.Orchestrator,
		interval:     interval,
		workers:      workers,
		now:          now,
		logger:       logger,
	}
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("reconciler started", "interval", r.interval, "workers", r.workers)

	// Immediate first sweep before entering the ticker loop.
	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep processes every non-terminal session once.
func (r *Reconciler) sweep(ctx context.Context) {
	start := r.now()

	sessions, err := r.db.ListSessionsByStatus(
		string(orchestrator.StatusScoping),
		string(orchestrator.StatusResolving),
	)
	if err != nil {
		r.logger.Warn("listing open sessions", "error", err)
		return
	}

	sem := make(chan struct{}, r.workers)
	var wg sync.WaitGroup
	for _, sess := range sessions {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(sess db.Session) {
			defer wg.Done()
			defer func() { <-sem }()
			r.reconcile(ctx, sess)
		}(sess)
	}
	wg.Wait()

	r.logger.Info("sweep done", "sessions", len(sessions), "elapsed", r.now().Sub(start))
}

// reconcile advances a single session from one remote status report.
// The session's version was captured by the listing read, before the
// remote call; a concurrent pass racing on the same session loses the
// version check and is simply re-observed next cycle.
func (r *Reconciler) reconcile(ctx context.Context, sess db.Session) {
	remote, err := r.agent.FetchStatus(ctx, sess.RemoteSessionID)
	if err != nil {
		if agent.IsTransient(err) {
			// No state change; retried next cycle. Repeated transient
			// failure is not itself terminal.
			r.logger.Warn("fetching remote status", "session_id", sess.ID, "error", err)
			return
		}
		if _, failErr := r.orchestrator.Fail(ctx, sess, err.Error()); failErr != nil {
			r.logConflictOr(failErr, "marking session failed", sess.ID)
		}
		return
	}

	if _, err := r.orchestrator.Advance(ctx, sess, remote); err != nil {
		r.logConflictOr(err, "advancing session", sess.ID)
	}
}

func (r *Reconciler) logConflictOr(err error, msg, sessionID string) {
	if errors.Is(err, db.ErrVersionConflict) {
		r.logger.Debug("lost reconcile race", "session_id", sessionID)
		return
	}
	r.logger.Warn(msg, "session_id", sessionID, "error", err)
}
