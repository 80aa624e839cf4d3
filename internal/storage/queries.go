package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Session is a row of the sessions table. Times are unix seconds.
type Session struct {
	ID           string
	Tenant       string
	Subject      string
	DisplayName  string
	IDToken      string
	AccessToken  string
	RefreshToken string
	TokenType    string
	TokenExpiry  int64
	CreatedAt    int64
	ExpiresAt    int64
}

// UploadJob is a row of the upload_jobs table. Times are unix seconds.
type UploadJob struct {
	ID          string
	SessionID   string
	Tenant      string
	Filename    string
	Content     []byte
	EinheitID   int64
	EinheitName string
	Confidence  float64
	UploadDate  string
	Status      string
	Message     string
	Attempts    int64
	CreatedAt   int64
	UpdatedAt   int64
}

const upsertSession = `
INSERT INTO sessions (id, tenant, subject, display_name, id_token, access_token, refresh_token, token_type, token_expiry, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    tenant = excluded.tenant,
    subject = excluded.subject,
    display_name = excluded.display_name,
    id_token = excluded.id_token,
    access_token = excluded.access_token,
    refresh_token = excluded.refresh_token,
    token_type = excluded.token_type,
    token_expiry = excluded.token_expiry,
    expires_at = excluded.expires_at`

func (q *Queries) UpsertSession(ctx context.Context, s Session) error {
	_, err := q.db.ExecContext(ctx, upsertSession,
		s.ID, s.Tenant, s.Subject, s.DisplayName, s.IDToken, s.AccessToken,
		s.RefreshToken, s.TokenType, s.TokenExpiry, s.CreatedAt, s.ExpiresAt)
	return err
}

const getSession = `
SELECT id, tenant, subject, display_name, id_token, access_token, refresh_token, token_type, token_expiry, created_at, expires_at
FROM sessions WHERE id = ?`

func (q *Queries) GetSession(ctx context.Context, id string) (Session, error) {
	var s Session
	err := q.db.QueryRowContext(ctx, getSession, id).Scan(
		&s.ID, &s.Tenant, &s.Subject, &s.DisplayName, &s.IDToken, &s.AccessToken,
		&s.RefreshToken, &s.TokenType, &s.TokenExpiry, &s.CreatedAt, &s.ExpiresAt)
	return s, err
}

const updateSessionToken = `
UPDATE sessions SET access_token = ?, refresh_token = ?, token_type = ?, token_expiry = ?
WHERE id = ?`

func (q *Queries) UpdateSessionToken(ctx context.Context, id, access, refresh, tokenType string, expiry int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateSessionToken, access, refresh, tokenType, expiry, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteSession = `DELETE FROM sessions WHERE id = ?`

func (q *Queries) DeleteSession(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, deleteSession, id)
	return err
}

const deleteExpiredSessions = `DELETE FROM sessions WHERE expires_at <= ?`

func (q *Queries) DeleteExpiredSessions(ctx context.Context, now int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteExpiredSessions, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const createUploadJob = `
INSERT INTO upload_jobs (id, session_id, tenant, filename, content, einheit_id, einheit_name, confidence, upload_date, status, message, attempts, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateUploadJob(ctx context.Context, j UploadJob) error {
	_, err := q.db.ExecContext(ctx, createUploadJob,
		j.ID, j.SessionID, j.Tenant, j.Filename, j.Content, j.EinheitID, j.EinheitName,
		j.Confidence, j.UploadDate, j.Status, j.Message, j.Attempts, j.CreatedAt, j.UpdatedAt)
	return err
}

const uploadJobColumns = `id, session_id, tenant, filename, content, einheit_id, einheit_name, confidence, upload_date, status, message, attempts, created_at, updated_at`

// Listing omits the file content.
const uploadJobListColumns = `id, session_id, tenant, filename, x'', einheit_id, einheit_name, confidence, upload_date, status, message, attempts, created_at, updated_at`

func scanUploadJob(row interface{ Scan(...any) error }) (UploadJob, error) {
	var j UploadJob
	err := row.Scan(&j.ID, &j.SessionID, &j.Tenant, &j.Filename, &j.Content, &j.EinheitID, &j.EinheitName,
		&j.Confidence, &j.UploadDate, &j.Status, &j.Message, &j.Attempts, &j.CreatedAt, &j.UpdatedAt)
	return j, err
}

const getUploadJob = `SELECT ` + uploadJobColumns + ` FROM upload_jobs WHERE id = ?`

func (q *Queries) GetUploadJob(ctx context.Context, id string) (UploadJob, error) {
	return scanUploadJob(q.db.QueryRowContext(ctx, getUploadJob, id))
}

const listUploadJobsByTenant = `
SELECT ` + uploadJobListColumns + ` FROM upload_jobs
WHERE tenant = ?
ORDER BY created_at DESC, filename ASC
LIMIT ?`

func (q *Queries) ListUploadJobsByTenant(ctx context.Context, tenant string, limit int64) ([]UploadJob, error) {
	return q.listUploadJobs(ctx, listUploadJobsByTenant, tenant, limit)
}

const getPendingUploadJobs = `
SELECT ` + uploadJobListColumns + ` FROM upload_jobs
WHERE status = 'pending' AND updated_at <= ? AND attempts < ?
ORDER BY updated_at ASC
LIMIT ?`

func (q *Queries) GetPendingUploadJobs(ctx context.Context, updatedBefore, maxAttempts, limit int64) ([]UploadJob, error) {
	return q.listUploadJobs(ctx, getPendingUploadJobs, updatedBefore, maxAttempts, limit)
}

func (q *Queries) listUploadJobs(ctx context.Context, query string, args ...any) ([]UploadJob, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []UploadJob
	for rows.Next() {
		j, err := scanUploadJob(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, j)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const failExhaustedUploadJobs = `
UPDATE upload_jobs SET status = 'error', message = ?, updated_at = ?
WHERE status = 'pending' AND attempts >= ? AND updated_at <= ?`

func (q *Queries) FailExhaustedUploadJobs(ctx context.Context, message string, now, maxAttempts, updatedBefore int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, failExhaustedUploadJobs, message, now, maxAttempts, updatedBefore)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const assignUploadJob = `
UPDATE upload_jobs SET einheit_id = ?, einheit_name = ?, upload_date = ?, updated_at = ?
WHERE id = ? AND tenant = ? AND status = 'draft'`

func (q *Queries) AssignUploadJob(ctx context.Context, id, tenant string, einheitID int64, einheitName, uploadDate string, now int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, assignUploadJob, einheitID, einheitName, uploadDate, now, id, tenant)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const markUploadJobPending = `
UPDATE upload_jobs SET status = 'pending', message = '', attempts = 0, updated_at = ?
WHERE id = ? AND tenant = ? AND status IN ('draft', 'error') AND einheit_id > 0 AND upload_date != ''`

func (q *Queries) MarkUploadJobPending(ctx context.Context, id, tenant string, now int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, markUploadJobPending, now, id, tenant)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const claimUploadJob = `
UPDATE upload_jobs SET attempts = attempts + 1, updated_at = ?
WHERE id = ? AND status = 'pending' AND attempts < ?`

func (q *Queries) ClaimUploadJob(ctx context.Context, id string, now, maxAttempts int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, claimUploadJob, now, id, maxAttempts)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const finishUploadJob = `
UPDATE upload_jobs SET status = ?, message = ?, updated_at = ?
WHERE id = ?`

func (q *Queries) FinishUploadJob(ctx context.Context, id, status, message string, now int64) error {
	_, err := q.db.ExecContext(ctx, finishUploadJob, status, message, now, id)
	return err
}

const deleteUploadJob = `DELETE FROM upload_jobs WHERE id = ? AND tenant = ? AND status IN ('draft', 'done', 'error')`

func (q *Queries) DeleteUploadJob(ctx context.Context, id, tenant string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteUploadJob, id, tenant)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const purgeUploadJobs = `DELETE FROM upload_jobs WHERE status = 'done' AND updated_at <= ?`

func (q *Queries) PurgeUploadJobs(ctx context.Context, before int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, purgeUploadJobs, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
