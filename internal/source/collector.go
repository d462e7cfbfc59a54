package source

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/BidScout/internal/database"
	"github.com/TobiSchelling/BidScout/internal/metrics"
)

const runTimeLayout = "2006-01-02 15:04:05"

// CollectResult summarizes one collection pass over every axis.
type CollectResult struct {
	Total      int
	New        int
	Updated    int
	AxisErrors int
	ByCategory map[int]int
	Duration   time.Duration
}

// Collector walks the configured axes sequentially and upserts every batch.
type Collector struct {
	client     *Client
	db         *database.DB
	categories []int
	regions    []string
	metrics    *metrics.Metrics
	log        logrus.FieldLogger
}

// NewCollector creates a Collector for the given category codes and regions.
func NewCollector(client *Client, db *database.DB, categories []int, regions []string, m *metrics.Metrics, log logrus.FieldLogger) *Collector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Collector{
		client:     client,
		db:         db,
		categories: categories,
		regions:    regions,
		metrics:    m,
		log:        log,
	}
}

// Collect fetches every axis for the window [from, to]. One CollectionRun row
// is appended per axis. A failing axis is logged and recorded, and the
// remaining axes still run.
func (c *Collector) Collect(ctx context.Context, cycleID string, from, to time.Time) CollectResult {
	start := time.Now()
	result := CollectResult{ByCategory: make(map[int]int)}

	for _, axis := range Axes(c.categories, c.regions, from, to) {
		if ctx.Err() != nil {
			break
		}
		run := c.collectAxis(ctx, cycleID, axis)
		result.Total += run.Total
		result.New += run.NewCount
		result.Updated += run.UpdatedCount
		result.ByCategory[axis.Category] += run.Total
		if !run.Success {
			result.AxisErrors++
		}
	}

	result.Duration = time.Since(start)
	c.log.WithFields(logrus.Fields{
		"cycle":   cycleID,
		"total":   result.Total,
		"new":     result.New,
		"updated": result.Updated,
		"errors":  result.AxisErrors,
	}).Infof("collection finished in %s", result.Duration.Round(time.Millisecond))
	return result
}

func (c *Collector) collectAxis(ctx context.Context, cycleID string, axis Axis) *database.CollectionRun {
	log := c.log.WithFields(logrus.Fields{"cycle": cycleID, "axis": axis.String()})
	started := time.Now()
	run := &database.CollectionRun{
		CycleID:      cycleID,
		CategoryCode: axis.Category,
		RegionCode:   axis.Region,
		DateFrom:     axis.DateFrom.Format(dateLayout),
		DateTo:       axis.DateTo.Format(dateLayout),
		StartedAt:    started.UTC().Format(runTimeLayout),
		Success:      true,
	}

	var failure error
	for batch, err := range c.client.FetchAll(ctx, axis) {
		if err != nil {
			failure = err
			break
		}
		for _, it := range batch {
			outcome, err := c.db.UpsertRecord(it.Record())
			if err != nil {
				log.WithError(err).WithField("record", it.NumeroControlePNCP).Error("upsert failed")
				continue
			}
			run.Total++
			if outcome == database.UpsertNew {
				run.NewCount++
			} else {
				run.UpdatedCount++
			}
			c.metrics.RecordUpserted(outcome.String())
		}
	}

	if failure != nil {
		msg := failure.Error()
		run.Success = false
		run.ErrorMessage = &msg
		c.metrics.AxisFailed(strconv.Itoa(axis.Category))
		log.WithError(failure).Warn("axis failed, continuing with remaining axes")
	} else {
		log.WithFields(logrus.Fields{"total": run.Total, "new": run.NewCount}).Debug("axis collected")
	}

	finished := time.Now()
	run.FinishedAt = finished.UTC().Format(runTimeLayout)
	run.DurationMS = finished.Sub(started).Milliseconds()
	if err := c.db.InsertCollectionRun(run); err != nil {
		log.WithError(err).Error("recording collection run")
	}
	return run
}
