package search

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/BidScout/internal/database"
)

const (
	// candidateLimit bounds the text-search candidate set that structured
	// filters are applied to.
	candidateLimit = 500
	autoMatchLimit = 1000
	defaultLimit   = 20

	// Timestamp layout used by the source for opening/closing dates.
	timestampLayout = "2006-01-02T15:04:05"
)

// Filter combines keyword search with structured criteria.
type Filter struct {
	Keywords   []string
	Regions    []string
	Categories []int
	ValueMin   decimal.NullDecimal
	ValueMax   decimal.NullDecimal
	OpenOnly   bool
	Limit      int
	Offset     int
}

// Index runs full-text and structured searches over the record store.
type Index struct {
	db  *database.DB
	log logrus.FieldLogger
	now func() time.Time
}

// New creates an Index.
func New(db *database.DB, log logrus.FieldLogger) *Index {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Index{db: db, log: log, now: time.Now}
}

// SearchText returns records matching any of the keywords, best first.
// Advanced syntax is honored; a query FTS5 rejects is retried as a plain OR
// over its words, and if that fails too the result is empty. Syntax problems
// are never returned to the caller.
func (ix *Index) SearchText(ctx context.Context, keywords []string, limit int) ([]database.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	advanced := false
	for _, k := range keywords {
		if HasAdvancedOperators(k) {
			advanced = true
			break
		}
	}

	var query string
	if advanced {
		query = advancedQuery(keywords)
	} else {
		query = simpleQuery(keywords)
	}
	if query == "" {
		return nil, nil
	}

	records, err := ix.db.MatchRecords(query, limit)
	if err == nil {
		return records, nil
	}
	log := ix.log.WithField("query", query)

	fallback := simpleQuery(strippedWords(keywords))
	if fallback == "" || fallback == query {
		log.WithError(err).Warn("full-text query failed")
		return nil, nil
	}
	log.WithError(err).Debug("full-text query rejected, retrying as plain OR")

	records, err = ix.db.MatchRecords(fallback, limit)
	if err != nil {
		log.WithError(err).WithField("fallback", fallback).Warn("fallback full-text query failed")
		return nil, nil
	}
	return records, nil
}

// Search applies a structured filter. With keywords, text search produces the
// candidate set and the structured criteria are applied to it in memory.
// Without keywords a single SQL query is used, newest publication first.
func (ix *Index) Search(ctx context.Context, f Filter) ([]database.Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	var closingAfter string
	if f.OpenOnly {
		closingAfter = ix.now().Format(timestampLayout)
	}

	if len(f.Keywords) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return ix.db.FilterRecords(database.RecordQuery{
			Regions:      f.Regions,
			Categories:   f.Categories,
			ValueMin:     f.ValueMin,
			ValueMax:     f.ValueMax,
			ClosingAfter: closingAfter,
			Limit:        limit,
			Offset:       f.Offset,
		})
	}

	candidates, err := ix.SearchText(ctx, f.Keywords, max(candidateLimit, limit+f.Offset))
	if err != nil {
		return nil, err
	}

	regions := make(map[string]bool, len(f.Regions))
	for _, r := range f.Regions {
		regions[r] = true
	}
	categories := make(map[int]bool, len(f.Categories))
	for _, c := range f.Categories {
		categories[c] = true
	}

	filtered := candidates[:0]
	for _, r := range candidates {
		if len(regions) > 0 && !regions[r.RegionCode] {
			continue
		}
		if len(categories) > 0 && !categories[r.CategoryCode] {
			continue
		}
		if !inValueRange(r.EstimatedValue, f.ValueMin, f.ValueMax) {
			continue
		}
		if closingAfter != "" && (r.ClosingAt == nil || *r.ClosingAt < closingAfter) {
			continue
		}
		filtered = append(filtered, r)
	}

	if f.Offset >= len(filtered) {
		return nil, nil
	}
	filtered = filtered[f.Offset:]
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

func inValueRange(v, lo, hi decimal.NullDecimal) bool {
	if !lo.Valid && !hi.Valid {
		return true
	}
	if !v.Valid {
		return false
	}
	if lo.Valid && v.Decimal.LessThan(lo.Decimal) {
		return false
	}
	if hi.Valid && v.Decimal.GreaterThan(hi.Decimal) {
		return false
	}
	return true
}

// AutoMatch flags every record hit by the operator keywords as matched and
// returns how many were flagged.
func (ix *Index) AutoMatch(ctx context.Context, keywords []string) (int, error) {
	if len(keywords) == 0 {
		return 0, nil
	}
	hits, err := ix.SearchText(ctx, keywords, autoMatchLimit)
	if err != nil {
		return 0, err
	}

	matched := 0
	for _, r := range hits {
		score := 1.0
		if r.MatchScore != nil {
			score = *r.MatchScore
		}
		if err := ix.db.SetMatched(r.ExternalID, score); err != nil {
			ix.log.WithError(err).WithField("record", r.ExternalID).Warn("flagging match failed")
			continue
		}
		matched++
	}
	ix.log.WithField("matched", matched).Info("auto-match finished")
	return matched, nil
}
