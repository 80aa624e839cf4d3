package http

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"zev/internal/auth"
	"zev/internal/core"
	applog "zev/internal/log"
	"zev/internal/services"
)

const chartLabels = 6

type messwerteData struct {
	Date      core.Date
	Einheiten []core.Einheit
	Drafts    []core.UploadJob
	Jobs      []core.UploadJob
	Polling   bool
	Async     bool
	Range     core.DateRange
	Chart     core.Chart
}

func (s *Server) handleMesswerte(w http.ResponseWriter, r *http.Request) {
	s.messwerteScreen("")(w, r, http.StatusOK, nil)
}

// messwerteScreen renders the upload pipeline and the chart. fragment picks
// the part htmx swaps: the uploads panel or just the job list.
func (s *Server) messwerteScreen(fragment string) screenFunc {
	return func(w http.ResponseWriter, r *http.Request, status int, banner *Banner) {
		ctx := r.Context()
		data := messwerteData{
			Date:  core.DateOf(s.now()),
			Async: s.uploads.Async(),
			Range: core.QuarterOf(s.now()).Previous().Range(),
		}

		var einheiten []core.Einheit
		var jobs []core.UploadJob
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			einheiten, err = s.backend.ListEinheiten(gctx)
			return err
		})
		g.Go(func() error {
			var err error
			jobs, err = s.uploads.Jobs(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			code, b := s.problem(ctx, err, applog.OpList)
			if isHTMX(r) {
				s.reply(w, r, code, b)
				return
			}
			status, banner = code, b
		}

		core.SortBy(einheiten, einheitSortKeys["name"], true)
		data.Einheiten = einheiten
		data.Drafts = lo.Filter(jobs, func(j core.UploadJob, _ int) bool { return j.Status == core.UploadDraft })
		data.Jobs = lo.Filter(jobs, func(j core.UploadJob, _ int) bool { return j.Status != core.UploadDraft })
		data.Polling = lo.ContainsBy(jobs, func(j core.UploadJob) bool { return j.Status == core.UploadPending })

		s.render(w, r, status, "messwerte", fragment, "MESSWERTE", data, banner)
	}
}

func (s *Server) handleUploadJobs(w http.ResponseWriter, r *http.Request) {
	s.messwerteScreen("upload_jobs")(w, r, http.StatusOK, nil)
}

// readUploads reads every file of the multipart field "files".
func readUploads(headers []*multipart.FileHeader) ([]services.UploadFile, error) {
	files := make([]services.UploadFile, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", h.Filename, err)
		}
		content, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", h.Filename, err)
		}
		if len(content) == 0 {
			return nil, core.NewValidationError(h.Filename + ": Datei ist leer")
		}
		files = append(files, services.UploadFile{Filename: h.Filename, Content: content})
	}
	return files, nil
}

// handleUploadMesswerte drafts one job per uploaded file, each with the
// backend's unit guess, and shows them for review.
func (s *Server) handleUploadMesswerte(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	screen := s.messwerteScreen("messwerte_uploads")

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = core.NewValidationError(fmt.Sprintf("files: Upload grösser als %d MB", s.maxUpload>>20))
		} else {
			err = core.NewValidationError("files: Upload konnte nicht gelesen werden")
		}
		s.fail(w, r, err, applog.OpUpload, screen)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	p := newFormParser(r.MultipartForm.Value)
	date := p.Date("date")
	if err := p.Err(); err != nil {
		s.fail(w, r, err, applog.OpUpload, screen)
		return
	}
	files, err := readUploads(r.MultipartForm.File["files"])
	if err != nil {
		s.fail(w, r, err, applog.OpUpload, screen)
		return
	}

	principal, _ := auth.PrincipalFrom(ctx)
	jobs, err := s.uploads.Match(ctx, principal.SessionID, date, files)
	if err != nil {
		s.fail(w, r, err, applog.OpMatch, screen)
		return
	}

	matched := lo.CountBy(jobs, func(j core.UploadJob) bool { return j.Match().AutoSelect() })
	applog.FromContext(ctx).InfoContext(ctx, "Meter files uploaded",
		"files", len(jobs),
		"auto_matched", matched)
	screen(w, r, http.StatusOK, SuccessBanner(
		fmt.Sprintf("%d Datei(en) hochgeladen, %d automatisch zugeordnet. Bitte Zuordnung prüfen.", len(jobs), matched)))
}

// handleImportMesswerte applies the reviewed unit and date of every selected
// draft and imports them.
func (s *Server) handleImportMesswerte(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	screen := s.messwerteScreen("messwerte_uploads")
	if err := r.ParseForm(); err != nil {
		s.fail(w, r, core.NewValidationError("Formular konnte nicht gelesen werden"), applog.OpUpload, screen)
		return
	}
	ids := lo.Uniq(lo.Compact(lo.Map(r.PostForm["job"], func(v string, _ int) string { return sanitizeInput(v) })))
	if len(ids) == 0 {
		s.fail(w, r, core.NewValidationError("job: mindestens einen Upload auswählen"), applog.OpUpload, screen)
		return
	}

	var problems []string
	var assigned []string
	for _, id := range ids {
		p := newFormParser(r.PostForm)
		einheitID := p.Int64("einheit_" + id)
		date := p.Date("date_" + id)
		err := p.Err()
		if err == nil {
			err = s.uploads.Assign(ctx, id, einheitID, date)
		}
		if err != nil {
			problems = append(problems, jobLabel(r.PostForm, id)+": "+reason(err))
			continue
		}
		assigned = append(assigned, id)
	}
	if len(assigned) == 0 {
		s.fail(w, r, core.NewValidationError(problems...), applog.OpUpload, screen)
		return
	}

	sum, err := s.uploads.Import(ctx, assigned)
	if err != nil {
		s.fail(w, r, err, applog.OpUpload, screen)
		return
	}
	for _, id := range sum.Skipped {
		problems = append(problems, jobLabel(r.PostForm, id)+": bereits in Bearbeitung")
	}

	applog.FromContext(ctx).InfoContext(ctx, "Meter files imported",
		"queued", sum.Queued,
		"processed", sum.Processed,
		"failed", sum.Failed,
		"skipped", len(sum.Skipped))

	var banner *Banner
	switch {
	case sum.Failed > 0:
		banner = ErrorBanner(fmt.Sprintf("%d von %d Dateien konnten nicht importiert werden", sum.Failed, sum.Queued), problems...)
	case len(problems) > 0:
		banner = ErrorBanner(fmt.Sprintf("%d Datei(en) übernommen, einige Uploads wurden übersprungen", sum.Queued), problems...)
	case s.uploads.Async():
		banner = SuccessBanner(fmt.Sprintf("%d Datei(en) zum Import eingereiht", sum.Queued))
	default:
		banner = SuccessBanner(fmt.Sprintf("%d Datei(en) importiert", sum.Processed))
	}
	screen(w, r, http.StatusOK, banner)
}

// jobLabel names a job in banners by its file name when the form carried it.
func jobLabel(form map[string][]string, id string) string {
	if names := form["filename_"+id]; len(names) > 0 && strings.TrimSpace(names[0]) != "" {
		return sanitizeInput(names[0])
	}
	return id
}

// reason is the user-facing text of an import problem.
func reason(err error) string {
	var ve *core.ValidationError
	switch {
	case errors.As(err, &ve):
		return strings.Join(ve.Messages, "; ")
	case errors.Is(err, services.ErrJobNotReady):
		return "Upload nicht mehr im Entwurf"
	default:
		return "Zuordnung fehlgeschlagen"
	}
}

func (s *Server) handleDiscardUploadJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	screen := s.messwerteScreen("messwerte_uploads")
	id := sanitizeInput(r.PathValue("id"))
	if err := s.uploads.Discard(ctx, id); err != nil {
		s.fail(w, r, err, applog.OpDelete, screen)
		return
	}
	applog.FromContext(ctx).InfoContext(ctx, "Upload job discarded", applog.FieldJobID, id)
	screen(w, r, http.StatusOK, SuccessBanner("Upload verworfen"))
}

// handleMesswerteChart draws readings of the selected period, the previous
// quarter when none is given.
func (s *Server) handleMesswerteChart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rng, ok, err := parseDateRange(r.URL.Query())
	if !ok {
		rng = core.QuarterOf(s.now()).Previous().Range()
	}
	var values []core.Messwert
	if err == nil {
		values, err = s.backend.MesswerteByTime(ctx, rng)
	}
	if err != nil {
		s.fail(w, r, err, applog.OpRead, nil)
		return
	}
	data := messwerteData{Range: rng, Chart: core.BuildChart(values, chartLabels)}
	s.render(w, r, http.StatusOK, "messwerte", "messwerte_chart", "MESSWERTE", data, nil)
}

// handleCalculateDistribution splits solar production of the period among consumers.
func (s *Server) handleCalculateDistribution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	screen := s.messwerteScreen("")
	if err := r.ParseForm(); err != nil {
		s.fail(w, r, core.NewValidationError("Formular konnte nicht gelesen werden"), applog.OpGenerate, screen)
		return
	}
	rng, ok, err := parseDateRange(r.PostForm)
	if !ok {
		err = core.NewValidationError("zeitraum: Von und Bis sind Pflichtfelder")
	}
	var res core.DistributionResult
	if err == nil {
		res, err = s.backend.CalculateDistribution(ctx, rng)
	}
	if err != nil {
		s.fail(w, r, err, applog.OpGenerate, screen)
		return
	}

	applog.FromContext(ctx).InfoContext(ctx, "Distribution calculated",
		"von", rng.Von.ISO(),
		"bis", rng.Bis.ISO(),
		"timestamps", res.ProcessedTimestamps)
	banner := SuccessBanner(fmt.Sprintf("Verteilung berechnet: %d Zeitpunkte, %s produziert, %s verteilt",
		res.ProcessedTimestamps, core.FormatKWh(res.TotalSolarProduced), core.FormatKWh(res.TotalDistributed)))
	if isHTMX(r) {
		s.reply(w, r, http.StatusOK, banner)
		return
	}
	screen(w, r, http.StatusOK, banner)
}
