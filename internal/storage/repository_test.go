package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"golang.org/x/oauth2"

	"zev/internal/core"
)

func newTestRepo(t *testing.T) (*SQLiteRepository, *time.Time) {
	t.Helper()
	repo, err := NewSQLiteRepository("")
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	return repo, &now
}

func TestFileDatabaseMigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "zev.db")
	repo, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := repo.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	repo.Close()

	repo, err = NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("reopen should find no pending migrations: %v", err)
	}
	repo.Close()
}

func TestInMemoryDatabasesAreIndependent(t *testing.T) {
	a, _ := newTestRepo(t)
	b, _ := newTestRepo(t)
	ctx := context.Background()
	if _, err := a.CreateUploadJob(ctx, core.UploadJob{Tenant: "t", Filename: "a.csv"}); err != nil {
		t.Fatal(err)
	}
	jobs, err := b.ListUploadJobs(ctx, "t", 10)
	if err != nil || len(jobs) != 0 {
		t.Fatalf("second repository sees %d jobs (err=%v)", len(jobs), err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	repo, now := newTestRepo(t)
	ctx := context.Background()

	rec := SessionRecord{
		ID:          "sess-1",
		Tenant:      "sonnenhof",
		Subject:     "user-1",
		DisplayName: "Anna Muster",
		IDToken:     "id.jwt",
		Token:       &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", TokenType: "Bearer", Expiry: now.Add(5 * time.Minute)},
		ExpiresAt:   now.Add(time.Hour),
	}
	if err := repo.SaveSession(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Tenant != "sonnenhof" || got.Token == nil || got.Token.AccessToken != "a1" || !got.Token.Expiry.Equal(now.Add(5*time.Minute)) {
		t.Fatalf("unexpected session: %+v token=%+v", got, got.Token)
	}
	if !got.CreatedAt.Equal(*now) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, *now)
	}

	refreshed := &oauth2.Token{AccessToken: "a2", RefreshToken: "r2", TokenType: "Bearer", Expiry: now.Add(10 * time.Minute)}
	if err := repo.UpdateSessionToken(ctx, "sess-1", refreshed); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.GetSession(ctx, "sess-1")
	if got.Token.AccessToken != "a2" || got.Token.RefreshToken != "r2" {
		t.Fatalf("refreshed token not stored: %+v", got.Token)
	}
	if err := repo.UpdateSessionToken(ctx, "missing", refreshed); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	*now = now.Add(2 * time.Hour)
	if _, err := repo.GetSession(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired session should be not found, got %v", err)
	}
	n, err := repo.DeleteExpiredSessions(ctx)
	if err != nil || n != 1 {
		t.Fatalf("DeleteExpiredSessions = %d, %v", n, err)
	}

	if err := repo.SaveSession(ctx, SessionRecord{ID: "sess-2", Tenant: "t", Subject: "s", ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	got, err = repo.GetSession(ctx, "sess-2")
	if err != nil || got.Token != nil {
		t.Fatalf("session without token = %+v, %v", got, err)
	}
	if err := repo.DeleteSession(ctx, "sess-2"); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.GetSession(ctx, "sess-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted session should be not found, got %v", err)
	}
}

func TestUploadJobLifecycle(t *testing.T) {
	repo, now := newTestRepo(t)
	ctx := context.Background()

	job, err := repo.CreateUploadJob(ctx, core.UploadJob{
		SessionID: "sess-1", Tenant: "t", Filename: "wohnung.csv", Content: []byte("00:00;1\n"), Confidence: 0.4,
	})
	if err != nil {
		t.Fatal(err)
	}
	if job.ID == "" || job.Status != core.UploadDraft {
		t.Fatalf("unexpected job: %+v", job)
	}

	if err := repo.MarkUploadPending(ctx, "t", job.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("draft without unit must not be queued, got %v", err)
	}
	if err := repo.AssignUploadJob(ctx, "other", job.ID, core.Einheit{ID: 3, Name: "Wohnung"}, core.NewDate(2025, 2, 1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other tenant must not edit the job, got %v", err)
	}
	if err := repo.AssignUploadJob(ctx, "t", job.ID, core.Einheit{ID: 3, Name: "Wohnung"}, core.NewDate(2025, 2, 1)); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkUploadPending(ctx, "t", job.ID); err != nil {
		t.Fatal(err)
	}

	full, err := repo.GetUploadJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if full.Status != core.UploadPending || full.EinheitID != 3 || full.Date.ISO() != "2025-02-01" || string(full.Content) != "00:00;1\n" {
		t.Fatalf("unexpected stored job: %+v", full)
	}

	listed, _ := repo.ListUploadJobs(ctx, "t", 10)
	if len(listed) != 1 || len(listed[0].Content) != 0 {
		t.Fatalf("listing should omit content: %+v", listed)
	}

	ok, err := repo.ClaimUploadJob(ctx, job.ID, 2)
	if err != nil || !ok {
		t.Fatalf("first claim = %v, %v", ok, err)
	}
	if err := repo.MarkUploadFailed(ctx, job.ID, "backend unavailable", true); err != nil {
		t.Fatal(err)
	}

	*now = now.Add(time.Minute)
	pending, err := repo.GetPendingUploadJobs(ctx, now.Add(-30*time.Second), 2, 10)
	if err != nil || len(pending) != 1 || pending[0].Attempts != 1 || pending[0].Message != "backend unavailable" {
		t.Fatalf("pending = %+v, %v", pending, err)
	}

	ok, _ = repo.ClaimUploadJob(ctx, job.ID, 2)
	if !ok {
		t.Fatal("second claim should succeed")
	}
	if ok, _ := repo.ClaimUploadJob(ctx, job.ID, 2); ok {
		t.Fatal("claim beyond max attempts must fail")
	}
	pending, _ = repo.GetPendingUploadJobs(ctx, now.Add(time.Hour), 2, 10)
	if len(pending) != 0 {
		t.Fatalf("exhausted job should not be swept: %+v", pending)
	}

	if err := repo.MarkUploadDone(ctx, job.ID, "96 Messwerte importiert"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := repo.ClaimUploadJob(ctx, job.ID, 10); ok {
		t.Fatal("done job must not be claimed")
	}

	n, err := repo.PurgeUploadJobs(ctx, now.Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("recent job purged: %d, %v", n, err)
	}
	*now = now.Add(8 * 24 * time.Hour)
	n, err = repo.PurgeUploadJobs(ctx, now.Add(-7*24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("old done job not purged: %d, %v", n, err)
	}
	if _, err := repo.GetUploadJob(ctx, job.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("purged job still present: %v", err)
	}
}

func TestFailExhaustedUploadJobs(t *testing.T) {
	repo, now := newTestRepo(t)
	ctx := context.Background()

	queued := func(name string) core.UploadJob {
		job, err := repo.CreateUploadJob(ctx, core.UploadJob{Tenant: "t", Filename: name, EinheitID: 1, Date: core.NewDate(2025, 1, 1)})
		if err != nil {
			t.Fatal(err)
		}
		if err := repo.MarkUploadPending(ctx, "t", job.ID); err != nil {
			t.Fatal(err)
		}
		return job
	}
	stuck := queued("stuck.csv")
	fresh := queued("fresh.csv")

	for range 2 {
		if ok, _ := repo.ClaimUploadJob(ctx, stuck.ID, 2); !ok {
			t.Fatal("claim should succeed")
		}
	}
	if ok, _ := repo.ClaimUploadJob(ctx, fresh.ID, 2); !ok {
		t.Fatal("claim should succeed")
	}

	n, err := repo.FailExhaustedUploadJobs(ctx, now.Add(-time.Minute), 2, "keine Versuche mehr")
	if err != nil || n != 0 {
		t.Fatalf("job still in its last attempt was failed: %d, %v", n, err)
	}

	*now = now.Add(5 * time.Minute)
	n, err = repo.FailExhaustedUploadJobs(ctx, now.Add(-time.Minute), 2, "keine Versuche mehr")
	if err != nil || n != 1 {
		t.Fatalf("failed %d jobs, %v", n, err)
	}
	got, _ := repo.GetUploadJob(ctx, stuck.ID)
	if got.Status != core.UploadError || got.Message != "keine Versuche mehr" {
		t.Errorf("stuck job = %s %q", got.Status, got.Message)
	}
	if got, _ := repo.GetUploadJob(ctx, fresh.ID); got.Status != core.UploadPending {
		t.Errorf("job with attempts left = %s, want pending", got.Status)
	}
}

func TestDeleteUploadJob(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	job, _ := repo.CreateUploadJob(ctx, core.UploadJob{Tenant: "t", Filename: "x.csv", EinheitID: 1, Date: core.NewDate(2025, 1, 1)})

	if err := repo.DeleteUploadJob(ctx, "other", job.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other tenant, got %v", err)
	}
	if err := repo.MarkUploadPending(ctx, "t", job.ID); err != nil {
		t.Fatal(err)
	}
	if err := repo.DeleteUploadJob(ctx, "t", job.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("queued job must not be deleted, got %v", err)
	}
	if err := repo.MarkUploadFailed(ctx, job.ID, "kaputt", false); err != nil {
		t.Fatal(err)
	}
	if err := repo.DeleteUploadJob(ctx, "t", job.ID); err != nil {
		t.Fatalf("failed job should be deletable: %v", err)
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"  kurz  ", 10, "kurz"},
		{"Prüfung", 3, "Pr"},
		{"Prüfung", 4, "Prü"},
		{"äöü", 1, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestFailedMessageStaysValidUTF8(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	job, err := repo.CreateUploadJob(ctx, core.UploadJob{Tenant: "t", Filename: "x.csv", EinheitID: 1, Date: core.NewDate(2025, 1, 1)})
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkUploadFailed(ctx, job.ID, "x"+strings.Repeat("ü", 300), false); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.GetUploadJob(ctx, job.ID)
	if !utf8.ValidString(got.Message) || len(got.Message) > 500 || len(got.Message) < 499 {
		t.Errorf("stored message is %d bytes, valid=%v", len(got.Message), utf8.ValidString(got.Message))
	}
}
