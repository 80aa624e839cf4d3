package http

import (
	"context"
	"net/http"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"zev/internal/core"
	applog "zev/internal/log"
)

const dashboardTimeout = 7 * time.Second

type dashboardData struct {
	Producer      int
	Consumer      int
	AktiveMieter  int
	Tarife        int
	TarifeHeute   int
	PendingJobs   int
	FailedJobs    int
	Einstellungen bool
}

// handleDashboard shows master data counts, the upload queue and quarter
// shortcuts into the statistics screen.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), dashboardTimeout)
	defer cancel()

	var (
		data      dashboardData
		einheiten []core.Einheit
		mieter    []core.Mieter
		tarife    []core.Tarif
		jobs      []core.UploadJob
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { einheiten, err = s.backend.ListEinheiten(gctx); return })
	g.Go(func() (err error) { mieter, err = s.backend.ListMieter(gctx); return })
	g.Go(func() (err error) { tarife, err = s.backend.ListTarife(gctx); return })
	g.Go(func() (err error) { jobs, err = s.uploads.Jobs(gctx); return })
	g.Go(func() error {
		_, err := s.backend.GetEinstellungen(gctx)
		data.Einstellungen = err == nil
		return nil
	})

	var banner *Banner
	status := http.StatusOK
	if err := g.Wait(); err != nil {
		status, banner = s.problem(r.Context(), err, applog.OpRead)
	}

	today := core.DateOf(s.now())
	data.Producer = lo.CountBy(einheiten, func(e core.Einheit) bool { return e.Typ == core.Producer })
	data.Consumer = lo.CountBy(einheiten, func(e core.Einheit) bool { return e.Typ == core.Consumer })
	data.AktiveMieter = lo.CountBy(mieter, func(m core.Mieter) bool { return m.ActiveOn(today) })
	data.Tarife = len(tarife)
	data.TarifeHeute = lo.CountBy(tarife, func(t core.Tarif) bool { return t.CoversDay(today) })
	data.PendingJobs = lo.CountBy(jobs, func(j core.UploadJob) bool { return j.Status == core.UploadPending })
	data.FailedJobs = lo.CountBy(jobs, func(j core.UploadJob) bool { return j.Status == core.UploadError })

	s.render(w, r, status, "dashboard", "", "DASHBOARD", data, banner)
}
