package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/BidScout/internal/analysis"
	"github.com/TobiSchelling/BidScout/internal/database"
	"github.com/TobiSchelling/BidScout/internal/housekeeping"
	"github.com/TobiSchelling/BidScout/internal/metrics"
	"github.com/TobiSchelling/BidScout/internal/notify"
	"github.com/TobiSchelling/BidScout/internal/scoring"
	"github.com/TobiSchelling/BidScout/internal/search"
	"github.com/TobiSchelling/BidScout/internal/source"
)

// alertSearchLimit caps the candidates considered per alert and cycle.
const alertSearchLimit = 50

// Collector ingests one time window from the source.
type Collector interface {
	Collect(ctx context.Context, cycleID string, from, to time.Time) source.CollectResult
}

// AnalysisRunner analyzes the best matched records.
type AnalysisRunner interface {
	AnalyzeTop(ctx context.Context, n int) (analysis.BatchResult, error)
}

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Summary is the outcome of one cycle. It is always returned, even when
// stages failed.
type Summary struct {
	CycleID            string
	StartedAt          time.Time
	Duration           time.Duration
	Collected          int
	New                int
	Updated            int
	AxisErrors         int
	Matched            int
	Analyzed           int
	NotificationsSent  int
	NotificationErrors int
	DocsExpiring       int
	DocsExpired        int
	ChatPruned         int64
	UsagePruned        int64
	Steps              []StepResult
}

// Failed returns the number of steps that ended with an error.
func (s *Summary) Failed() int {
	n := 0
	for _, st := range s.Steps {
		if st.Err != nil {
			n++
		}
	}
	return n
}

// Options are the cycle parameters resolved from config.
type Options struct {
	Keywords            []string
	Lookback            time.Duration
	Threshold           int
	MaxClassifyPerCycle int
	MaxClassifyPerDay   int
	AutoAnalyze         bool
	AnalyzeTopN         int
	DocumentWarningDays int
}

// Deps are the collaborators a Pipeline drives. Analyzer, Documents and
// Retention may be nil, in which case their part of the cycle is skipped.
type Deps struct {
	DB         *database.DB
	Collector  Collector
	Index      *search.Index
	Scorer     *scoring.Scorer
	Dispatcher *notify.Dispatcher
	Analyzer   AnalysisRunner
	Documents  housekeeping.DocumentChecker
	Retention  *housekeeping.Retention
	Metrics    *metrics.Metrics
	Log        logrus.FieldLogger
}

// Pipeline runs the collect, match, analyze, alert and housekeeping stages.
type Pipeline struct {
	Deps
	opts Options
	now  func() time.Time
}

// New creates a pipeline.
func New(deps Deps, opts Options) *Pipeline {
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 24 * time.Hour
	}
	return &Pipeline{Deps: deps, opts: opts, now: time.Now}
}

// Run executes one cycle. Each stage is isolated: an error or panic is
// recorded in its StepResult and the following stages still run.
func (p *Pipeline) Run(ctx context.Context) *Summary {
	start := p.now()
	s := &Summary{CycleID: ulid.Make().String(), StartedAt: start}
	log := p.Log.WithField("cycle", s.CycleID)
	log.Info("cycle started")

	steps := []struct {
		name string
		fn   func(context.Context, *Summary) (string, error)
	}{
		{"Collect", p.collect},
		{"Match", p.match},
		{"Analyze", p.analyze},
		{"Alerts", p.alerts},
		{"Housekeeping", p.housekeeping},
	}
	for i, st := range steps {
		log.Infof("Step %d/%d: %s", i+1, len(steps), st.name)
		res := runStep(ctx, st.name, s, st.fn)
		if res.Err != nil {
			log.WithError(res.Err).WithField("step", st.name).Error("step failed")
		}
		s.Steps = append(s.Steps, res)
	}

	s.Duration = time.Since(start)
	p.Metrics.ObserveCycle(s.Duration, s.Failed())
	log.WithFields(logrus.Fields{
		"collected": s.Collected,
		"new":       s.New,
		"sent":      s.NotificationsSent,
		"failed":    s.Failed(),
	}).Infof("cycle finished in %s", s.Duration.Round(time.Millisecond))
	return s
}

func runStep(ctx context.Context, name string, s *Summary, fn func(context.Context, *Summary) (string, error)) (res StepResult) {
	res.Name = name
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic in %s: %v\n%s", name, r, debug.Stack())
		}
	}()
	res.Summary, res.Err = fn(ctx, s)
	return res
}

func (p *Pipeline) collect(ctx context.Context, s *Summary) (string, error) {
	to := p.now()
	from := to.Add(-p.opts.Lookback)
	r := p.Collector.Collect(ctx, s.CycleID, from, to)
	s.Collected, s.New, s.Updated, s.AxisErrors = r.Total, r.New, r.Updated, r.AxisErrors

	summary := fmt.Sprintf("Collected %d records (%d new, %d updated)", r.Total, r.New, r.Updated)
	if r.AxisErrors > 0 {
		return summary, fmt.Errorf("%d collection axes failed", r.AxisErrors)
	}
	return summary, ctx.Err()
}

func (p *Pipeline) match(ctx context.Context, s *Summary) (string, error) {
	if len(p.opts.Keywords) == 0 {
		return "No keywords configured", nil
	}
	n, err := p.Index.AutoMatch(ctx, p.opts.Keywords)
	s.Matched = n
	return fmt.Sprintf("Matched %d records", n), err
}

func (p *Pipeline) analyze(ctx context.Context, s *Summary) (string, error) {
	if !p.opts.AutoAnalyze || p.Analyzer == nil || p.opts.AnalyzeTopN <= 0 {
		return "Skipped", nil
	}
	r, err := p.Analyzer.AnalyzeTop(ctx, p.opts.AnalyzeTopN)
	s.Analyzed = r.Analyzed
	summary := fmt.Sprintf("Analyzed %d records (%d failed)", r.Analyzed, r.Failed)
	if r.StoppedByLimit {
		summary += ", daily limit reached"
	}
	return summary, err
}

func (p *Pipeline) alerts(ctx context.Context, s *Summary) (string, error) {
	alerts, err := p.DB.ListAlerts(true)
	if err != nil {
		return "", fmt.Errorf("listing alerts: %w", err)
	}
	if len(alerts) == 0 {
		return "No active alerts", nil
	}

	used, err := p.Scorer.UsedToday()
	if err != nil {
		p.Log.WithError(err).Warn("reading today's classifier usage")
	}
	budget := scoring.NewBudget(p.opts.MaxClassifyPerCycle, p.opts.MaxClassifyPerDay, used)

	for i := range alerts {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		sent, failed := p.processAlert(ctx, &alerts[i], budget)
		s.NotificationsSent += sent
		s.NotificationErrors += failed
	}

	summary := fmt.Sprintf("%d alerts: %d notifications sent, %d errors, %d classifier calls",
		len(alerts), s.NotificationsSent, s.NotificationErrors, budget.Used())
	if s.NotificationErrors > 0 {
		return summary, fmt.Errorf("%d deliveries failed", s.NotificationErrors)
	}
	return summary, nil
}

// processAlert handles one alert; its failures are counted, never returned,
// so one bad alert cannot stop the others.
func (p *Pipeline) processAlert(ctx context.Context, alert *database.Alert, budget *scoring.Budget) (sent, failed int) {
	log := p.Log.WithFields(logrus.Fields{"alert": alert.ID, "name": alert.Name})

	candidates, err := p.Index.Search(ctx, search.Filter{
		Keywords:   alert.Keywords,
		Regions:    alert.Regions,
		Categories: alert.Categories,
		ValueMin:   alert.ValueMin,
		ValueMax:   alert.ValueMax,
		Limit:      alertSearchLimit,
	})
	if err != nil {
		log.WithError(err).Error("searching alert candidates")
		return 0, 1
	}

	pending, err := p.Dispatcher.Unsent(alert, candidates)
	if err != nil {
		log.WithError(err).Error("reading sent-log")
		return 0, 1
	}
	if len(pending) == 0 {
		log.Debug("no new records")
		return 0, 0
	}

	kept := scoring.Filter(p.Scorer.ScoreAll(ctx, alert, pending, budget), p.opts.Threshold)
	if len(kept) == 0 {
		log.WithField("threshold", p.opts.Threshold).Info("no records above threshold")
		return 0, 0
	}

	items := make([]notify.Item, len(kept))
	for i, sc := range kept {
		items[i] = notify.Item{Record: sc.Record, Score: sc.Score, Rationale: sc.Rationale}
	}
	report := p.Dispatcher.Deliver(ctx, alert, items)
	return report.Sent(), report.Errors()
}

func (p *Pipeline) housekeeping(ctx context.Context, s *Summary) (string, error) {
	var errs []error

	if p.Documents != nil {
		report, err := p.Documents.CheckExpiry(ctx, p.opts.DocumentWarningDays)
		if err != nil {
			errs = append(errs, fmt.Errorf("document expiry: %w", err))
		} else {
			s.DocsExpiring, s.DocsExpired = len(report.Expiring), len(report.Expired)
			if !report.Empty() && p.Dispatcher != nil {
				if err := p.Dispatcher.Broadcast(ctx, housekeeping.Notice(report)); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}

	if p.Retention != nil {
		pruned, err := p.Retention.Prune(ctx)
		s.ChatPruned, s.UsagePruned = pruned.ChatRows, pruned.UsageRows
		if err != nil {
			errs = append(errs, err)
		}
	}

	summary := fmt.Sprintf("%d documents expiring, %d expired; pruned %d chat rows, %d usage events",
		s.DocsExpiring, s.DocsExpired, s.ChatPruned, s.UsagePruned)
	return summary, errors.Join(errs...)
}
