package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"zev/internal/core"
	applog "zev/internal/log"
	"zev/internal/storage"
	"zev/internal/zevapi"
)

const (
	// MaxUploadAttempts bounds how often one job is sent to the backend.
	MaxUploadAttempts = 5
	// DoneJobRetention is how long finished jobs stay visible before the purge.
	DoneJobRetention = 7 * 24 * time.Hour

	jobListLimit = 50
)

// ErrJobNotReady is returned when a job cannot be queued or changed in its current state.
var ErrJobNotReady = errors.New("upload job not ready")

// JobStore persists upload jobs; implemented by storage.SQLiteRepository.
type JobStore interface {
	CreateUploadJob(ctx context.Context, j core.UploadJob) (core.UploadJob, error)
	GetUploadJob(ctx context.Context, id string) (core.UploadJob, error)
	ListUploadJobs(ctx context.Context, tenant string, limit int) ([]core.UploadJob, error)
	AssignUploadJob(ctx context.Context, tenant, id string, einheit core.Einheit, date core.Date) error
	MarkUploadPending(ctx context.Context, tenant, id string) error
	ClaimUploadJob(ctx context.Context, id string, maxAttempts int) (bool, error)
	MarkUploadDone(ctx context.Context, id, message string) error
	MarkUploadFailed(ctx context.Context, id, message string, retry bool) error
	GetPendingUploadJobs(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]core.UploadJob, error)
	FailExhaustedUploadJobs(ctx context.Context, olderThan time.Time, maxAttempts int, message string) (int64, error)
	DeleteUploadJob(ctx context.Context, tenant, id string) error
	PurgeUploadJobs(ctx context.Context, before time.Time) (int64, error)
}

// UploadBackend is the part of the billing backend the upload pipeline talks to.
type UploadBackend interface {
	GetEinheit(ctx context.Context, id int64) (core.Einheit, error)
	MatchEinheit(ctx context.Context, filename string) (core.MatchResult, error)
	UploadMesswerte(ctx context.Context, u zevapi.Upload) (core.UploadResult, error)
}

// Publisher hands queued jobs to cmd/zev-worker.
type Publisher interface {
	PublishUploadJob(ctx context.Context, jobID, tenant string) error
}

// SessionContexts restores the backend credentials of the session that created a job.
type SessionContexts interface {
	SessionContext(ctx context.Context, sessionID, tenant string) (context.Context, error)
}

type JobRecorder interface {
	RecordUploadJob(status string)
}

// UploadFile is one file of a multi-file upload.
type UploadFile struct {
	Filename string
	Content  []byte
}

// ImportSummary reports what Import did with the selected jobs.
type ImportSummary struct {
	Queued    int
	Processed int
	Failed    int
	Skipped   []string
}

type UploadServiceConfig struct {
	Concurrency int
}

// UploadService runs the meter file pipeline: match, review, import.
// With a publisher jobs are imported by the worker, otherwise inline.
type UploadService struct {
	store       JobStore
	backend     UploadBackend
	sessions    SessionContexts
	publisher   Publisher
	recorder    JobRecorder
	concurrency int
	logger      *applog.Logger
	now         func() time.Time
}

func NewUploadService(store JobStore, backend UploadBackend, sessions SessionContexts, publisher Publisher, recorder JobRecorder, config UploadServiceConfig) *UploadService {
	return &UploadService{
		store:       store,
		backend:     backend,
		sessions:    sessions,
		publisher:   publisher,
		recorder:    recorder,
		concurrency: max(1, config.Concurrency),
		logger:      applog.FromContext(context.Background()).WithComponent(applog.ComponentUpload),
		now:         time.Now,
	}
}

// WithLogger replaces the service logger.
func (s *UploadService) WithLogger(l *applog.Logger) *UploadService {
	s.logger = l.WithComponent(applog.ComponentUpload)
	return s
}

// Async reports whether imports are handed to the worker.
func (s *UploadService) Async() bool {
	return s.publisher != nil
}

// Match stores each file as a draft job carrying the backend's unit guess.
// A guess above the threshold is preselected, lower ones are proposals.
func (s *UploadService) Match(ctx context.Context, sessionID string, date core.Date, files []UploadFile) ([]core.UploadJob, error) {
	if len(files) == 0 {
		return nil, core.NewValidationError("file: mindestens eine Datei auswählen")
	}
	tenant := zevapi.TenantFrom(ctx)
	jobs := make([]core.UploadJob, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, f := range files {
		g.Go(func() error {
			job := core.UploadJob{
				SessionID: sessionID,
				Tenant:    tenant,
				Filename:  f.Filename,
				Content:   f.Content,
				Date:      date,
				Status:    core.UploadDraft,
			}
			match, err := s.backend.MatchEinheit(gctx, f.Filename)
			switch {
			case errors.Is(err, zevapi.ErrUnauthorized), gctx.Err() != nil:
				return err
			case err != nil:
				s.logger.WarnContext(gctx, "Unit matching failed",
					applog.FieldFilename, f.Filename, applog.FieldError, err)
				job.Message = "Automatische Zuordnung fehlgeschlagen"
			case match.Matched():
				job.EinheitID = match.EinheitID
				job.EinheitName = match.EinheitName
				job.Confidence = match.Confidence
			default:
				job.Message = match.Message
			}

			created, err := s.store.CreateUploadJob(gctx, job)
			if err != nil {
				return err
			}
			s.logger.DebugContext(gctx, "Upload job drafted",
				applog.FieldJobID, created.ID,
				applog.FieldFilename, created.Filename,
				applog.FieldConfidence, created.Confidence)
			jobs[i] = created
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("match uploads: %w", err)
	}
	return jobs, nil
}

// Assign sets unit and date of a draft job during review.
func (s *UploadService) Assign(ctx context.Context, jobID string, einheitID int64, date core.Date) error {
	if einheitID <= 0 {
		return core.NewValidationError("einheitId: Einheit auswählen")
	}
	if date.IsZero() {
		return core.NewValidationError("date: Datum ist ein Pflichtfeld")
	}
	einheit, err := s.backend.GetEinheit(ctx, einheitID)
	if err != nil {
		return fmt.Errorf("load einheit %d: %w", einheitID, err)
	}
	err = s.store.AssignUploadJob(ctx, zevapi.TenantFrom(ctx), jobID, einheit, date)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrJobNotReady
	}
	return err
}

// Import queues the reviewed jobs. Without a publisher they are processed
// before Import returns.
func (s *UploadService) Import(ctx context.Context, jobIDs []string) (ImportSummary, error) {
	var sum ImportSummary
	tenant := zevapi.TenantFrom(ctx)
	var queued []string
	for _, id := range lo.Uniq(jobIDs) {
		err := s.store.MarkUploadPending(ctx, tenant, id)
		if errors.Is(err, storage.ErrNotFound) {
			sum.Skipped = append(sum.Skipped, id)
			continue
		}
		if err != nil {
			return sum, err
		}
		s.record(string(core.UploadPending))
		queued = append(queued, id)
	}
	sum.Queued = len(queued)

	if s.publisher != nil {
		for _, id := range queued {
			// unpublished jobs stay pending and are picked up by the sweep
			if err := s.publisher.PublishUploadJob(ctx, id, tenant); err != nil {
				s.logger.WarnContext(ctx, "Failed to publish upload job",
					applog.FieldJobID, id, applog.FieldError, err)
			}
		}
		return sum, nil
	}

	processed, failed := s.processAll(ctx, queued)
	sum.Processed, sum.Failed = processed, failed
	return sum, nil
}

func (s *UploadService) processAll(ctx context.Context, ids []string) (processed, failed int) {
	results := make([]error, len(ids))
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = s.Process(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	for _, err := range results {
		if err != nil {
			failed++
		} else {
			processed++
		}
	}
	return processed, failed
}

// Process sends one pending job to the backend under the credentials of the
// session that created it. Jobs that are not pending are ignored.
func (s *UploadService) Process(ctx context.Context, jobID string) error {
	job, err := s.store.GetUploadJob(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.WarnContext(ctx, "Upload job vanished", applog.FieldJobID, jobID)
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status != core.UploadPending {
		return nil
	}
	claimed, err := s.store.ClaimUploadJob(ctx, job.ID, MaxUploadAttempts)
	if err != nil || !claimed {
		return err
	}
	attempt := job.Attempts + 1
	logger := s.logger.With(applog.NewFields().
		WithUploadJob(job.ID, job.Filename, job.EinheitID, attempt).
		WithTenant(job.Tenant).ToSlice()...)

	callCtx := zevapi.WithTenant(ctx, job.Tenant)
	if s.sessions != nil {
		callCtx, err = s.sessions.SessionContext(ctx, job.SessionID, job.Tenant)
		if err != nil {
			logger.WarnContext(ctx, "Session of upload job unavailable", applog.FieldError, err)
			return s.fail(ctx, job.ID, "Sitzung abgelaufen, bitte erneut anmelden und importieren", false, err)
		}
	}

	res, err := s.backend.UploadMesswerte(callCtx, zevapi.Upload{
		Date:      job.Date,
		EinheitID: job.EinheitID,
		Filename:  job.Filename,
		Content:   job.Content,
	})
	if err != nil {
		retry := retryable(err) && attempt < MaxUploadAttempts
		logger.WarnContext(ctx, "Upload attempt failed", applog.FieldError, err, "retry", retry)
		return s.fail(ctx, job.ID, failureMessage(err), retry, err)
	}

	msg := res.Message
	if msg == "" {
		msg = fmt.Sprintf("%d Messwerte importiert", res.Count)
	}
	if err := s.store.MarkUploadDone(ctx, job.ID, msg); err != nil {
		return err
	}
	s.record(string(core.UploadDone))
	logger.InfoContext(ctx, "Upload job imported", "count", res.Count)
	return nil
}

func (s *UploadService) fail(ctx context.Context, id, msg string, retry bool, cause error) error {
	if err := s.store.MarkUploadFailed(ctx, id, msg, retry); err != nil {
		return errors.Join(cause, err)
	}
	if retry {
		s.record("retry")
	} else {
		s.record(string(core.UploadError))
	}
	return cause
}

// ProcessPending retries pending jobs untouched for at least idle, oldest
// first. Stale jobs without attempts left end in error.
func (s *UploadService) ProcessPending(ctx context.Context, idle time.Duration, limit int) (int, error) {
	cutoff := s.now().Add(-idle)
	exhausted, err := s.store.FailExhaustedUploadJobs(ctx, cutoff, MaxUploadAttempts, "Import abgebrochen, keine Versuche mehr übrig")
	if err != nil {
		return 0, err
	}
	if exhausted > 0 {
		s.logger.WarnContext(ctx, "Abandoned upload jobs without attempts left", "count", exhausted)
		for range exhausted {
			s.record(string(core.UploadError))
		}
	}

	jobs, err := s.store.GetPendingUploadJobs(ctx, cutoff, MaxUploadAttempts, limit)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}
	processed, _ := s.processAll(ctx, lo.Map(jobs, func(j core.UploadJob, _ int) string { return j.ID }))
	return processed, nil
}

// PurgeFinished deletes done jobs older than DoneJobRetention.
func (s *UploadService) PurgeFinished(ctx context.Context) (int64, error) {
	return s.store.PurgeUploadJobs(ctx, s.now().Add(-DoneJobRetention))
}

// Jobs lists the tenant's recent jobs, newest first.
func (s *UploadService) Jobs(ctx context.Context) ([]core.UploadJob, error) {
	return s.store.ListUploadJobs(ctx, zevapi.TenantFrom(ctx), jobListLimit)
}

// Discard removes a job that is not queued.
func (s *UploadService) Discard(ctx context.Context, jobID string) error {
	err := s.store.DeleteUploadJob(ctx, zevapi.TenantFrom(ctx), jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrJobNotReady
	}
	return err
}

func (s *UploadService) record(status string) {
	if s.recorder != nil {
		s.recorder.RecordUploadJob(status)
	}
}

// retryable reports whether another attempt may succeed: the backend was
// unreachable or failed with a server error.
func retryable(err error) bool {
	var apiErr *zevapi.APIError
	switch {
	case errors.Is(err, zevapi.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.As(err, &apiErr):
		return apiErr.Status >= 500
	default:
		return false
	}
}

func failureMessage(err error) string {
	var ve *core.ValidationError
	switch {
	case errors.As(err, &ve):
		return strings.Join(ve.Messages, "; ")
	case errors.Is(err, zevapi.ErrUnauthorized):
		return "Nicht berechtigt, bitte erneut anmelden"
	case errors.Is(err, zevapi.ErrNotFound):
		return "Einheit nicht gefunden"
	default:
		return err.Error()
	}
}
