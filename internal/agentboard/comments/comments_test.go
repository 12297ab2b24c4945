package comments

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"agentboard/internal/agentboard/db"
	"agentboard/internal/agentboard/github"
	"agentboard/internal/agentboard/orchestrator"
)

func testDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

type mockPoster struct {
	posts []string
	err   error
}

func (m *mockPoster) PostIssueComment(ctx context.Context, owner, repo string, number int, body string) (github.Comment, error) {
	if m.err != nil {
		return github.Comment{}, m.err
	}
	m.posts = append(m.posts, body)
	return github.Comment{ID: int64(len(m.posts))}, nil
}

func testPublisher(t *testing.T, d *db.DB, poster *mockPoster, disableBlocked bool) *Publisher {
	t.Helper()
	return New(Config{
		DB:                     d,
		Tracker:                poster,
		Owner:                  "octocat",
		Repo:                   "hello",
		DisableBlockedComments: disableBlocked,
	})
}

func TestPublishIfNeeded_PostsOnce(t *testing.T) {
	d := testDB(t)
	poster := &mockPoster{}
	p := testPublisher(t, d, poster, false)

	sess, _ := d.CreateSession(db.Session{IssueNumber: 7, Kind: "scope", RemoteSessionID: "devin-1", Status: "scoping"})

	// The same status observed repeatedly, as successive reconciliation
	// cycles would.
	for i := 0; i < 4; i++ {
		updated, err := p.PublishIfNeeded(context.Background(), sess, orchestrator.StatusScoping)
		if err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
		sess = updated
	}

	if len(poster.posts) != 1 {
		t.Errorf("expected exactly one comment, got %d", len(poster.posts))
	}
	if !strings.Contains(poster.posts[0], "Agent Analysis Started") {
		t.Errorf("unexpected comment body: %q", poster.posts[0])
	}
}

func TestPublishIfNeeded_DistinctStatusesEachComment(t *testing.T) {
	d := testDB(t)
	poster := &mockPoster{}
	p := testPublisher(t, d, poster, false)

	sess, _ := d.CreateSession(db.Session{IssueNumber: 7, Kind: "scope", RemoteSessionID: "devin-1", Status: "scoping"})

	sess, err := p.PublishIfNeeded(context.Background(), sess, orchestrator.StatusScoping)
	if err != nil {
		t.Fatalf("scoping publish: %v", err)
	}
	if _, err := p.PublishIfNeeded(context.Background(), sess, orchestrator.StatusCompleted); err != nil {
		t.Fatalf("completed publish: %v", err)
	}

	if len(poster.posts) != 2 {
		t.Errorf("expected one comment per status, got %d", len(poster.posts))
	}
}

func TestPublishIfNeeded_FailedPostNotRecorded(t *testing.T) {
	d := testDB(t)
	poster := &mockPoster{err: errors.New("tracker down")}
	p := testPublisher(t, d, poster, false)

	sess, _ := d.CreateSession(db.Session{IssueNumber: 7, Kind: "scope", Status: "scoping"})

	if _, err := p.PublishIfNeeded(context.Background(), sess, orchestrator.StatusScoping); err == nil {
		t.Fatal("expected error")
	}

	fresh, _ := d.GetSession(sess.ID)
	if fresh.HasCommented("scoping") {
		t.Error("flag must only be recorded after a confirmed post")
	}

	// Tracker recovers; the retry posts and records.
	poster.err = nil
	updated, err := p.PublishIfNeeded(context.Background(), fresh, orchestrator.StatusScoping)
	if err != nil {
		t.Fatalf("retry publish: %v", err)
	}
	if !updated.HasCommented("scoping") {
		t.Error("flag should be recorded after the successful retry")
	}
	if len(poster.posts) != 1 {
		t.Errorf("expected one post after recovery, got %d", len(poster.posts))
	}
}

func TestPublishIfNeeded_BlockedSuppressed(t *testing.T) {
	d := testDB(t)
	poster := &mockPoster{}
	p := testPublisher(t, d, poster, true)

	sess, _ := d.CreateSession(db.Session{IssueNumber: 7, Kind: "resolve", RemoteSessionID: "devin-1", Status: "blocked"})

	updated, err := p.PublishIfNeeded(context.Background(), sess, orchestrator.StatusBlocked)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(poster.posts) != 0 {
		t.Errorf("blocked comment should be suppressed, got %d posts", len(poster.posts))
	}
	// The flag is still recorded so re-enabling comments later does not
	// post a stale notification.
	if !updated.HasCommented("blocked") {
		t.Error("suppression must still record the flag")
	}
}

func TestPublishIfNeeded_BlockedPostedWhenEnabled(t *testing.T) {
	d := testDB(t)
	poster := &mockPoster{}
	p := testPublisher(t, d, poster, false)

	sess, _ := d.CreateSession(db.Session{IssueNumber: 7, Kind: "resolve", RemoteSessionID: "devin-1", Status: "blocked"})

	if _, err := p.PublishIfNeeded(context.Background(), sess, orchestrator.StatusBlocked); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(poster.posts) != 1 || !strings.Contains(poster.posts[0], "Agent Session Blocked") {
		t.Errorf("unexpected posts: %v", poster.posts)
	}
}

func TestPublishIfNeeded_OnlyBlockedSuppressed(t *testing.T) {
	d := testDB(t)
	poster := &mockPoster{}
	p := testPublisher(t, d, poster, true)

	sess, _ := d.CreateSession(db.Session{IssueNumber: 7, Kind: "scope", RemoteSessionID: "devin-1", Status: "scoping"})

	if _, err := p.PublishIfNeeded(context.Background(), sess, orchestrator.StatusScoping); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(poster.posts) != 1 {
		t.Errorf("non-blocked comments must still post, got %d", len(poster.posts))
	}
}

func TestPublishIfNeeded_RecordsFlagAfterConcurrentWrite(t *testing.T) {
	d := testDB(t)
	poster := &mockPoster{}
	p := testPublisher(t, d, poster, false)

	sess, _ := d.CreateSession(db.Session{IssueNumber: 7, Kind: "scope", RemoteSessionID: "devin-1", Status: "scoping"})

	// Another writer bumps the version between our read and the flag
	// write; the publisher re-reads and retries in-pass.
	if _, err := d.CompareAndUpdateSession(sess.ID, sess.Version, func(s *db.Session) {
		s.ActionPlan = "plan written elsewhere"
	}); err != nil {
		t.Fatalf("concurrent write: %v", err)
	}

	updated, err := p.PublishIfNeeded(context.Background(), sess, orchestrator.StatusScoping)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.HasCommented("scoping") {
		t.Error("flag should survive the version conflict retry")
	}
	if updated.ActionPlan != "plan written elsewhere" {
		t.Error("retry must not clobber the concurrent write")
	}
}

func TestCommentBody_CompletedScope(t *testing.T) {
	score := 85
	body := commentBody(db.Session{
		Kind:            "scope",
		ActionPlan:      "1. fix\n2. test",
		ConfidenceScore: &score,
	}, orchestrator.StatusCompleted)

	for _, want := range []string{"Agent Analysis Complete", "1. fix\n2. test", "85%"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestCommentBody_CompletedResolveOmitsConfidence(t *testing.T) {
	score := 85
	body := commentBody(db.Session{
		Kind:            "resolve",
		ActionPlan:      "did the work",
		ConfidenceScore: &score,
	}, orchestrator.StatusCompleted)

	if !strings.Contains(body, "Agent Resolution Complete") {
		t.Errorf("unexpected body:\n%s", body)
	}
	if strings.Contains(body, "Confidence") {
		t.Errorf("resolve completions carry no confidence:\n%s", body)
	}
}
