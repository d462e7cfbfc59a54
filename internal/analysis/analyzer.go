package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/BidScout/internal/database"
	"github.com/TobiSchelling/BidScout/internal/llm"
	"github.com/TobiSchelling/BidScout/internal/money"
)

var (
	// ErrLimitReached is returned when today's analysis quota is used up.
	ErrLimitReached = errors.New("daily analysis limit reached")
	// ErrNotFound is returned for an unknown record.
	ErrNotFound = errors.New("record not found")
)

const (
	defaultMaxTokens = 2048
	originMaxChars   = 6000
)

// OriginFetcher returns the readable text of a record's origin page.
type OriginFetcher interface {
	Text(ctx context.Context, url string) (string, error)
}

// Analyzer produces and caches a plain-language analysis of a record.
type Analyzer struct {
	db        *database.DB
	provider  llm.Provider
	origin    OriginFetcher
	maxPerDay int
	maxTokens int
	log       logrus.FieldLogger
	now       func() time.Time
}

// New creates an Analyzer. origin may be nil to skip fetching origin pages;
// maxPerDay <= 0 disables the daily quota.
func New(db *database.DB, provider llm.Provider, origin OriginFetcher, maxPerDay, maxTokens int, log logrus.FieldLogger) *Analyzer {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Analyzer{
		db:        db,
		provider:  provider,
		origin:    origin,
		maxPerDay: maxPerDay,
		maxTokens: maxTokens,
		log:       log,
		now:       time.Now,
	}
}

// LimitReached reports whether today's analysis quota is exhausted.
func (a *Analyzer) LimitReached() (bool, error) {
	if a.maxPerDay <= 0 {
		return false, nil
	}
	n, err := a.db.CountUsage(database.UsageAnalysis, a.today())
	if err != nil {
		return false, err
	}
	return n >= a.maxPerDay, nil
}

func (a *Analyzer) today() string {
	return a.now().Format(time.DateOnly)
}

type reply struct {
	Summary      string `json:"summary"`
	Resumo       string `json:"resumo"`
	Difficulty   string `json:"difficulty"`
	Dificuldade  string `json:"dificuldade"`
	NextStep     string `json:"next_step"`
	ProximoPasso string `json:"proximoPasso"`
}

// Analyze returns the analysis for a record, calling the model only when no
// analysis is stored yet. cached reports whether the stored one was used.
func (a *Analyzer) Analyze(ctx context.Context, externalID string) (result *database.Analysis, cached bool, err error) {
	existing, err := a.db.GetAnalysis(externalID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, true, nil
	}

	if a.provider == nil {
		return nil, false, errors.New("no analysis model configured")
	}
	limited, err := a.LimitReached()
	if err != nil {
		return nil, false, err
	}
	if limited {
		return nil, false, fmt.Errorf("%w (%d)", ErrLimitReached, a.maxPerDay)
	}

	record, err := a.db.GetRecord(externalID)
	if err != nil {
		return nil, false, err
	}
	if record == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrNotFound, externalID)
	}

	var originText string
	if a.origin != nil && record.OriginURL != nil && *record.OriginURL != "" {
		originText, err = a.origin.Text(ctx, *record.OriginURL)
		if err != nil {
			a.log.WithError(err).WithField("record", externalID).Debug("origin page unavailable")
			originText = ""
		}
	}

	resp, err := a.provider.Generate(ctx, buildPrompt(record, originText), a.maxTokens)
	if err != nil {
		return nil, false, fmt.Errorf("analysis call: %w", err)
	}

	cost := llm.EstimateCost(resp.Model, resp.InputTokens, resp.OutputTokens)
	err = a.db.InsertUsage(&database.UsageEvent{
		Kind:         database.UsageAnalysis,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      cost,
		Day:          a.today(),
	})
	if err != nil {
		a.log.WithError(err).Warn("recording analysis usage")
	}

	var r reply
	if err := llm.ParseJSON(resp.Text, &r); err != nil {
		return nil, false, err
	}
	summary := firstNonEmpty(r.Summary, r.Resumo)
	if summary == "" {
		return nil, false, fmt.Errorf("%w: reply has no summary", llm.ErrParse)
	}

	raw := resp.Text
	result = &database.Analysis{
		RecordID:    externalID,
		Summary:     summary,
		Difficulty:  optional(normalizeDifficulty(firstNonEmpty(r.Difficulty, r.Dificuldade))),
		NextStep:    optional(firstNonEmpty(r.NextStep, r.ProximoPasso)),
		RawResponse: &raw,
		Model:       resp.Model,
		Tokens:      resp.InputTokens + resp.OutputTokens,
		CostUSD:     cost,
	}
	if err := a.db.SaveAnalysis(result); err != nil {
		return nil, false, err
	}
	if err := a.db.MarkAnalyzed(externalID); err != nil {
		return nil, false, err
	}
	return result, false, nil
}

// BatchResult summarizes AnalyzeTop.
type BatchResult struct {
	Analyzed       int
	Cached         int
	Failed         int
	StoppedByLimit bool
}

// AnalyzeTop analyzes the n highest-scoring matched records not yet
// analyzed. It stops early once the daily quota is reached.
func (a *Analyzer) AnalyzeTop(ctx context.Context, n int) (BatchResult, error) {
	var res BatchResult
	records, err := a.db.TopMatchedUnanalyzed(n)
	if err != nil {
		return res, err
	}
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		_, cached, err := a.Analyze(ctx, r.ExternalID)
		switch {
		case errors.Is(err, ErrLimitReached):
			res.StoppedByLimit = true
			a.log.Info("daily analysis limit reached")
			return res, nil
		case err != nil:
			res.Failed++
			a.log.WithError(err).WithField("record", r.ExternalID).Warn("analysis failed")
		case cached:
			res.Cached++
		default:
			res.Analyzed++
		}
	}
	return res, nil
}

func buildPrompt(r *database.Record, originText string) string {
	data := map[string]any{
		"id":         r.ExternalID,
		"objeto":     r.Description,
		"modalidade": r.CategoryName,
		"orgao":      r.AgencyName,
		"uf":         r.RegionCode,
		"municipio":  r.City,
		"situacao":   r.StatusName,
	}
	if r.EstimatedValue.Valid {
		data["valor"] = "R$ " + money.FormatBRL(r.EstimatedValue.Decimal)
	} else {
		data["valor"] = "Não informado"
	}
	for k, v := range map[string]*string{
		"dataPublicacao":         r.PublishedAt,
		"dataAbertura":           r.OpeningAt,
		"dataEncerramento":       r.ClosingAt,
		"linkOrigem":             r.OriginURL,
		"informacaoComplementar": r.ExtraInfo,
	} {
		if v != nil && *v != "" {
			data[k] = *v
		}
	}
	payload, _ := json.MarshalIndent(data, "", "  ")

	var b strings.Builder
	b.WriteString(`Você é um especialista em licitações públicas brasileiras.
Analise a licitação abaixo para alguém que nunca participou de uma licitação. Seja direto e use linguagem simples.
Responda APENAS com JSON válido, com esta estrutura exata:

{
  "summary": "resumo em linguagem simples (máx. 200 palavras)",
  "difficulty": "facil | medio | dificil",
  "next_step": "o que fazer agora para participar"
}

Quando o valor não for informado, diga "Não informado" em vez de inventar.

Dados da licitação:
`)
	b.Write(payload)
	if originText != "" {
		b.WriteString("\n\nTexto da página de origem:\n")
		b.WriteString(truncateRunes(originText, originMaxChars))
	}
	return b.String()
}

func normalizeDifficulty(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "fácil":
		return "facil"
	case "médio":
		return "medio"
	case "difícil":
		return "dificil"
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
