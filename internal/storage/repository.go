package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"zev/internal/core"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a session or upload job does not exist.
var ErrNotFound = errors.New("not found")

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

// NewSQLiteRepository opens (and migrates) the database at dbPath. An empty
// path opens a private in-memory database that lives as long as the repository.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	dsn := "file:zev-" + uuid.NewString() + "?mode=memory&cache=shared"
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		// The web process and the worker share the file.
		dsn = dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if dbPath == "" {
		// The shared in-memory database disappears with its last connection.
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, queries: New(db), now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping backs the readiness check.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// SessionRecord is a server-side login session.
type SessionRecord struct {
	ID          string
	Tenant      string
	Subject     string
	DisplayName string
	IDToken     string
	Token       *oauth2.Token
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (r *SQLiteRepository) SaveSession(ctx context.Context, s SessionRecord) error {
	row := Session{
		ID:          s.ID,
		Tenant:      s.Tenant,
		Subject:     s.Subject,
		DisplayName: s.DisplayName,
		IDToken:     s.IDToken,
		CreatedAt:   s.CreatedAt.Unix(),
		ExpiresAt:   s.ExpiresAt.Unix(),
	}
	if s.CreatedAt.IsZero() {
		row.CreatedAt = r.now().Unix()
	}
	if s.Token != nil {
		row.AccessToken = s.Token.AccessToken
		row.RefreshToken = s.Token.RefreshToken
		row.TokenType = s.Token.TokenType
		row.TokenExpiry = unixOrZero(s.Token.Expiry)
	}
	if err := r.queries.UpsertSession(ctx, row); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession returns the session, or ErrNotFound when it is missing or expired.
func (r *SQLiteRepository) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	row, err := r.queries.GetSession(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("get session: %w", err)
	}
	if row.ExpiresAt <= r.now().Unix() {
		return SessionRecord{}, ErrNotFound
	}
	rec := SessionRecord{
		ID:          row.ID,
		Tenant:      row.Tenant,
		Subject:     row.Subject,
		DisplayName: row.DisplayName,
		IDToken:     row.IDToken,
		CreatedAt:   time.Unix(row.CreatedAt, 0),
		ExpiresAt:   time.Unix(row.ExpiresAt, 0),
	}
	if row.AccessToken != "" {
		rec.Token = &oauth2.Token{
			AccessToken:  row.AccessToken,
			RefreshToken: row.RefreshToken,
			TokenType:    row.TokenType,
		}
		if row.TokenExpiry > 0 {
			rec.Token.Expiry = time.Unix(row.TokenExpiry, 0)
		}
	}
	return rec, nil
}

// UpdateSessionToken writes a refreshed token back to its session.
func (r *SQLiteRepository) UpdateSessionToken(ctx context.Context, id string, tok *oauth2.Token) error {
	n, err := r.queries.UpdateSessionToken(ctx, id, tok.AccessToken, tok.RefreshToken, tok.TokenType, unixOrZero(tok.Expiry))
	if err != nil {
		return fmt.Errorf("update session token: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) DeleteSession(ctx context.Context, id string) error {
	if err := r.queries.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions past their expiry and reports how many.
func (r *SQLiteRepository) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	n, err := r.queries.DeleteExpiredSessions(ctx, r.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return n, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func toCore(j UploadJob) core.UploadJob {
	job := core.UploadJob{
		ID:          j.ID,
		SessionID:   j.SessionID,
		Tenant:      j.Tenant,
		Filename:    j.Filename,
		Content:     j.Content,
		EinheitID:   j.EinheitID,
		EinheitName: j.EinheitName,
		Confidence:  j.Confidence,
		Status:      core.UploadStatus(j.Status),
		Message:     j.Message,
		Attempts:    int(j.Attempts),
		CreatedAt:   time.Unix(j.CreatedAt, 0),
		UpdatedAt:   time.Unix(j.UpdatedAt, 0),
	}
	if j.UploadDate != "" {
		job.Date, _ = core.ParseDate(j.UploadDate)
	}
	return job
}

// CreateUploadJob stores a new job. ID, status and timestamps are filled in
// when empty; the stored job is returned.
func (r *SQLiteRepository) CreateUploadJob(ctx context.Context, j core.UploadJob) (core.UploadJob, error) {
	now := r.now()
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = core.UploadDraft
	}
	if j.Content == nil {
		j.Content = []byte{}
	}
	j.CreatedAt, j.UpdatedAt = now, now
	err := r.queries.CreateUploadJob(ctx, UploadJob{
		ID:          j.ID,
		SessionID:   j.SessionID,
		Tenant:      j.Tenant,
		Filename:    j.Filename,
		Content:     j.Content,
		EinheitID:   j.EinheitID,
		EinheitName: j.EinheitName,
		Confidence:  j.Confidence,
		UploadDate:  j.Date.ISO(),
		Status:      string(j.Status),
		Message:     j.Message,
		Attempts:    int64(j.Attempts),
		CreatedAt:   now.Unix(),
		UpdatedAt:   now.Unix(),
	})
	if err != nil {
		return core.UploadJob{}, fmt.Errorf("create upload job: %w", err)
	}
	return j, nil
}

// GetUploadJob returns the job including its file content.
func (r *SQLiteRepository) GetUploadJob(ctx context.Context, id string) (core.UploadJob, error) {
	row, err := r.queries.GetUploadJob(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.UploadJob{}, ErrNotFound
	}
	if err != nil {
		return core.UploadJob{}, fmt.Errorf("get upload job: %w", err)
	}
	return toCore(row), nil
}

// ListUploadJobs returns the tenant's most recent jobs without content.
func (r *SQLiteRepository) ListUploadJobs(ctx context.Context, tenant string, limit int) ([]core.UploadJob, error) {
	rows, err := r.queries.ListUploadJobsByTenant(ctx, tenant, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list upload jobs: %w", err)
	}
	out := make([]core.UploadJob, len(rows))
	for i, row := range rows {
		out[i] = toCore(row)
	}
	return out, nil
}

// AssignUploadJob sets unit and reading date of a draft job during review.
func (r *SQLiteRepository) AssignUploadJob(ctx context.Context, tenant, id string, einheit core.Einheit, date core.Date) error {
	n, err := r.queries.AssignUploadJob(ctx, id, tenant, einheit.ID, einheit.Name, date.ISO(), r.now().Unix())
	if err != nil {
		return fmt.Errorf("assign upload job: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkUploadPending queues a reviewed draft (or retries a failed job).
// Jobs without unit or date are not queued and yield ErrNotFound.
func (r *SQLiteRepository) MarkUploadPending(ctx context.Context, tenant, id string) error {
	n, err := r.queries.MarkUploadJobPending(ctx, id, tenant, r.now().Unix())
	if err != nil {
		return fmt.Errorf("mark upload pending: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimUploadJob counts an import attempt. It reports false when the job is
// no longer pending or has used up maxAttempts, so concurrent workers never
// process the same attempt twice.
func (r *SQLiteRepository) ClaimUploadJob(ctx context.Context, id string, maxAttempts int) (bool, error) {
	n, err := r.queries.ClaimUploadJob(ctx, id, r.now().Unix(), int64(maxAttempts))
	if err != nil {
		return false, fmt.Errorf("claim upload job: %w", err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) MarkUploadDone(ctx context.Context, id, message string) error {
	if err := r.queries.FinishUploadJob(ctx, id, string(core.UploadDone), message, r.now().Unix()); err != nil {
		return fmt.Errorf("mark upload done: %w", err)
	}
	return nil
}

// MarkUploadFailed records a failed attempt. With retry the job stays
// pending for the sweep, otherwise it ends in error.
func (r *SQLiteRepository) MarkUploadFailed(ctx context.Context, id, message string, retry bool) error {
	status := core.UploadError
	if retry {
		status = core.UploadPending
	}
	if err := r.queries.FinishUploadJob(ctx, id, string(status), truncate(message, 500), r.now().Unix()); err != nil {
		return fmt.Errorf("mark upload failed: %w", err)
	}
	return nil
}

// GetPendingUploadJobs returns pending jobs untouched since olderThan that
// still have attempts left.
func (r *SQLiteRepository) GetPendingUploadJobs(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]core.UploadJob, error) {
	rows, err := r.queries.GetPendingUploadJobs(ctx, olderThan.Unix(), int64(maxAttempts), int64(limit))
	if err != nil {
		return nil, fmt.Errorf("get pending upload jobs: %w", err)
	}
	out := make([]core.UploadJob, len(rows))
	for i, row := range rows {
		out[i] = toCore(row)
	}
	return out, nil
}

// FailExhaustedUploadJobs ends pending jobs that used up maxAttempts and
// were untouched since olderThan. A worker that died after its last claim
// leaves such jobs behind.
func (r *SQLiteRepository) FailExhaustedUploadJobs(ctx context.Context, olderThan time.Time, maxAttempts int, message string) (int64, error) {
	n, err := r.queries.FailExhaustedUploadJobs(ctx, truncate(message, 500), r.now().Unix(), int64(maxAttempts), olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("fail exhausted upload jobs: %w", err)
	}
	return n, nil
}

// DeleteUploadJob discards a job that is not queued.
func (r *SQLiteRepository) DeleteUploadJob(ctx context.Context, tenant, id string) error {
	n, err := r.queries.DeleteUploadJob(ctx, id, tenant)
	if err != nil {
		return fmt.Errorf("delete upload job: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeUploadJobs deletes done jobs last updated before the cutoff.
func (r *SQLiteRepository) PurgeUploadJobs(ctx context.Context, before time.Time) (int64, error) {
	n, err := r.queries.PurgeUploadJobs(ctx, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("purge upload jobs: %w", err)
	}
	return n, nil
}

// truncate caps s at n bytes without splitting a rune.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
