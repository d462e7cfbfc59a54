package pipeline

import (
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/BidScout/internal/analysis"
	"github.com/TobiSchelling/BidScout/internal/config"
	"github.com/TobiSchelling/BidScout/internal/database"
	"github.com/TobiSchelling/BidScout/internal/fetch"
	"github.com/TobiSchelling/BidScout/internal/housekeeping"
	"github.com/TobiSchelling/BidScout/internal/llm"
	"github.com/TobiSchelling/BidScout/internal/metrics"
	"github.com/TobiSchelling/BidScout/internal/notify"
	"github.com/TobiSchelling/BidScout/internal/scoring"
	"github.com/TobiSchelling/BidScout/internal/search"
	"github.com/TobiSchelling/BidScout/internal/source"
)

// Build wires a Pipeline from config. Missing model credentials or channel
// secrets disable the corresponding feature instead of failing.
func Build(cfg *config.Config, db *database.DB, m *metrics.Metrics, log logrus.FieldLogger) *Pipeline {
	src := cfg.Source
	client := source.NewClient(source.Options{
		BaseURL:    src.BaseURL,
		PageSize:   src.PageSize,
		MaxRetries: src.MaxRetries,
		RetryBase:  src.RetryBase,
		RetryMax:   src.RetryMax,
		Timeout:    src.Timeout,
		Logger:     log.WithField("component", "source"),
	})

	var classifier llm.Provider
	if cfg.Scoring.Enabled {
		classifier = llm.CreateProvider(cfg.Scoring.Provider, cfg.Scoring.Model, cfg.LLM, log)
	}

	var analyzer AnalysisRunner
	if cfg.Analysis.AutoAnalyze {
		if provider := llm.CreateProvider(cfg.Analysis.Provider, cfg.Analysis.Model, cfg.LLM, log); provider != nil {
			var origin analysis.OriginFetcher
			if cfg.Analysis.FetchOrigin {
				origin = fetch.NewOriginFetcher(src.Timeout, 0, log.WithField("component", "fetch"))
			}
			analyzer = analysis.New(db, provider, origin, cfg.Analysis.MaxPerDay, cfg.Analysis.MaxTokens, log.WithField("component", "analysis"))
		}
	}

	hk := cfg.Housekeeping
	return New(Deps{
		DB:         db,
		Collector:  source.NewCollector(client, db, src.Categories, src.Regions, m, log.WithField("component", "collector")),
		Index:      search.New(db, log.WithField("component", "search")),
		Scorer:     scoring.New(db, classifier, cfg.Scoring.Concurrency, m, log.WithField("component", "scoring")),
		Dispatcher: notify.NewDispatcher(db, notify.FromConfig(cfg.Channels, log), m, log.WithField("component", "notify")),
		Analyzer:   analyzer,
		Documents:  housekeeping.NewDocumentChecker(db),
		Retention:  housekeeping.NewRetention(db, hk.ChatRetentionDays, hk.UsageRetentionDays),
		Metrics:    m,
		Log:        log,
	}, Options{
		Keywords:            cfg.Keywords,
		Lookback:            cfg.Lookback(),
		Threshold:           cfg.Scoring.Threshold,
		MaxClassifyPerCycle: cfg.Scoring.MaxClassificationsPerCycle,
		MaxClassifyPerDay:   cfg.Scoring.MaxClassificationsPerDay,
		AutoAnalyze:         cfg.Analysis.AutoAnalyze,
		AnalyzeTopN:         cfg.Analysis.TopN,
		DocumentWarningDays: hk.DocumentWarningDays,
	})
}
