package scoring

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/BidScout/internal/database"
	"github.com/TobiSchelling/BidScout/internal/llm"
	"github.com/TobiSchelling/BidScout/internal/metrics"
	"github.com/TobiSchelling/BidScout/internal/money"
)

// Kind tags which branch produced a score.
type Kind int

const (
	KindCached Kind = iota + 1
	KindClassified
	KindFallback
)

func (k Kind) String() string {
	switch k {
	case KindCached:
		return "cached"
	case KindClassified:
		return "classified"
	case KindFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Cache sources stored alongside a score.
const (
	SourceClassifier = "classifier"
	SourceFallback   = "fallback"
)

const (
	DefaultThreshold   = 60
	DefaultConcurrency = 4
	classifyMaxTokens  = 150
)

// Result is the outcome of scoring one (alert, record) pair.
type Result struct {
	Kind      Kind
	Score     int
	Rationale string
}

// Scored pairs a record with its result.
type Scored struct {
	Record database.Record
	Result
}

// Scorer decides relevance via cache, then classifier, then keyword fallback.
type Scorer struct {
	db          *database.DB
	classifier  llm.Provider
	concurrency int
	metrics     *metrics.Metrics
	log         logrus.FieldLogger
	now         func() time.Time
}

// New creates a Scorer. classifier may be nil, in which case every cache miss
// uses the keyword fallback.
func New(db *database.DB, classifier llm.Provider, concurrency int, m *metrics.Metrics, log logrus.FieldLogger) *Scorer {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scorer{
		db:          db,
		classifier:  classifier,
		concurrency: concurrency,
		metrics:     m,
		log:         log,
		now:         time.Now,
	}
}

// UsedToday returns how many classifications were recorded today, for seeding a Budget.
func (s *Scorer) UsedToday() (int, error) {
	return s.db.CountUsage(database.UsageClassification, s.now().Format(time.DateOnly))
}

// Score returns the relevance of a record for an alert. It never fails:
// classifier and parse errors degrade to the keyword fallback.
func (s *Scorer) Score(ctx context.Context, alert *database.Alert, record *database.Record, budget *Budget) Result {
	log := s.log.WithFields(logrus.Fields{"alert": alert.ID, "record": record.ExternalID})

	cached, err := s.db.GetScore(alert.ID, record.ExternalID)
	if err != nil {
		log.WithError(err).Warn("reading score cache")
	}
	if cached != nil {
		s.metrics.Scored(KindCached.String())
		return Result{Kind: KindCached, Score: cached.Score, Rationale: cached.Rationale}
	}

	if s.classifier != nil && budget != nil {
		if err := budget.TryAcquire(); err != nil {
			log.WithError(err).Debug("using keyword fallback")
		} else {
			res, err := s.classify(ctx, alert, record)
			if err == nil {
				s.store(log, alert, record, res, SourceClassifier)
				s.metrics.Scored(KindClassified.String())
				return res
			}
			log.WithError(err).Warn("classifier failed, using keyword fallback")
		}
	}

	// Every first score is cached, fallback included, so a pair is scored once.
	res := FallbackScore(alert.Keywords, record.Description)
	s.store(log, alert, record, res, SourceFallback)
	s.metrics.Scored(KindFallback.String())
	return res
}

func (s *Scorer) store(log logrus.FieldLogger, alert *database.Alert, record *database.Record, res Result, source string) {
	err := s.db.PutScore(&database.ScoreEntry{
		AlertID:   alert.ID,
		RecordID:  record.ExternalID,
		Score:     res.Score,
		Rationale: res.Rationale,
		Source:    source,
	})
	if err != nil {
		log.WithError(err).Warn("caching score")
	}
}

type classifierReply struct {
	Score     *float64 `json:"score"`
	Rationale string   `json:"rationale"`
	Resumo    string   `json:"resumo"`
}

func (s *Scorer) classify(ctx context.Context, alert *database.Alert, record *database.Record) (Result, error) {
	resp, err := s.classifier.Generate(ctx, classifyPrompt(alert.Keywords, record), classifyMaxTokens)
	if err != nil {
		s.metrics.ClassifierCall("error")
		return Result{}, err
	}

	// The call was made, so it counts against the daily budget even if the reply is unusable.
	err = s.db.InsertUsage(&database.UsageEvent{
		Kind:         database.UsageClassification,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      llm.EstimateCost(resp.Model, resp.InputTokens, resp.OutputTokens),
		Day:          s.now().Format(time.DateOnly),
	})
	if err != nil {
		s.log.WithError(err).Warn("recording classifier usage")
	}

	var reply classifierReply
	if err := llm.ParseJSON(resp.Text, &reply); err != nil {
		s.metrics.ClassifierCall("parse_error")
		return Result{}, err
	}
	if reply.Score == nil {
		s.metrics.ClassifierCall("parse_error")
		return Result{}, fmt.Errorf("%w: reply has no score", llm.ErrParse)
	}
	s.metrics.ClassifierCall("ok")

	rationale := reply.Rationale
	if rationale == "" {
		rationale = reply.Resumo
	}
	return Result{Kind: KindClassified, Score: clamp(*reply.Score), Rationale: rationale}, nil
}

func clamp(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, v))))
}

func classifyPrompt(keywords []string, r *database.Record) string {
	value := "Não informado"
	if r.EstimatedValue.Valid {
		value = "R$ " + money.FormatBRL(r.EstimatedValue.Decimal)
	}
	agency := r.AgencyName
	if agency == "" {
		agency = "N/A"
	}
	region := r.RegionCode
	if region == "" {
		region = "N/A"
	}
	return strings.Join([]string{
		fmt.Sprintf("Classifique a relevância desta licitação para uma empresa que busca: %s.", strings.Join(keywords, ", ")),
		fmt.Sprintf("Licitação: %s | Órgão: %s | UF: %s | Valor: %s", r.Description, agency, region, value),
		`Responda APENAS com JSON: {"score": 0-100, "rationale": "uma linha explicando"}`,
	}, "\n")
}

// FallbackScore is the deterministic keyword score: 100 when every keyword is
// a case-insensitive substring of text, 0 when none is, otherwise a value
// strictly between, proportional to the share matched.
func FallbackScore(keywords []string, text string) Result {
	lower := strings.ToLower(text)
	total, hits := 0, 0
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		total++
		if strings.Contains(lower, k) {
			hits++
		}
	}

	var score int
	switch {
	case total == 0 || hits == 0:
		score = 0
	case hits == total:
		score = 100
	default:
		score = min(99, max(1, int(math.Round(100*float64(hits)/float64(total)))))
	}
	return Result{
		Kind:      KindFallback,
		Score:     score,
		Rationale: fmt.Sprintf("%d/%d keywords matched", hits, total),
	}
}

// ScoreAll scores records for an alert with bounded concurrency. The output
// keeps the input order.
func (s *Scorer) ScoreAll(ctx context.Context, alert *database.Alert, records []database.Record, budget *Budget) []Scored {
	out := make([]Scored, len(records))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range records {
		g.Go(func() error {
			r := &records[i]
			out[i] = Scored{Record: *r, Result: s.Score(ctx, alert, r, budget)}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Filter keeps pairs scoring at or above threshold.
func Filter(scored []Scored, threshold int) []Scored {
	var kept []Scored
	for _, sc := range scored {
		if sc.Score >= threshold {
			kept = append(kept, sc)
		}
	}
	return kept
}
