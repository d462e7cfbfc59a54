package database

import "github.com/shopspring/decimal"

// Record is one ingested procurement notice, keyed by its source control number.
type Record struct {
	ID             int64
	ExternalID     string
	Description    string
	CategoryCode   int
	CategoryName   string
	RegionCode     string
	City           string
	AgencyName     string
	AgencyCNPJ     string
	EstimatedValue decimal.NullDecimal
	StatusName     string
	PublishedAt    *string
	OpeningAt      *string
	ClosingAt      *string
	OriginURL      *string
	ExtraInfo      *string
	RawJSON        *string
	Matched        bool
	MatchScore     *float64
	Analyzed       bool
	CreatedAt      *string
	UpdatedAt      *string
}

// UpsertOutcome reports whether UpsertRecord inserted or refreshed a row.
type UpsertOutcome int

const (
	UpsertNew UpsertOutcome = iota + 1
	UpsertUpdated
)

func (o UpsertOutcome) String() string {
	switch o {
	case UpsertNew:
		return "new"
	case UpsertUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// Alert is a user-defined watch specification.
type Alert struct {
	ID         int64
	Name       string
	Keywords   []string
	Regions    []string
	Categories []int
	ValueMin   decimal.NullDecimal
	ValueMax   decimal.NullDecimal
	Channels   []string
	Active     bool
	CreatedAt  *string
}

// SentNotification is one row of the sent-log.
type SentNotification struct {
	ID       int64
	AlertID  int64
	RecordID string
	Channel  string
	SentAt   *string
}

// ScoreEntry is a cached relevance score for an (alert, record) pair.
type ScoreEntry struct {
	AlertID   int64
	RecordID  string
	Score     int
	Rationale string
	Source    string // "classifier" or "fallback"
	CreatedAt *string
}

// CollectionRun is the audit row written for one ingestion axis.
type CollectionRun struct {
	ID           int64
	CycleID      string
	CategoryCode int
	RegionCode   string
	DateFrom     string
	DateTo       string
	Total        int
	NewCount     int
	UpdatedCount int
	Success      bool
	ErrorMessage *string
	DurationMS   int64
	StartedAt    string
	FinishedAt   string
}

// Usage kinds.
const (
	UsageClassification = "classification"
	UsageAnalysis       = "analysis"
)

// UsageEvent records one external model call.
type UsageEvent struct {
	ID           int64
	Kind         string
	Model        string
	InputTokens  int64
	OutputTokens int64
	CostUSD      decimal.Decimal
	Day          string
	CreatedAt    *string
}

// UsageTotals aggregates usage for a day.
type UsageTotals struct {
	Day             string
	Classifications int
	Analyses        int
	Tokens          int64
	CostUSD         decimal.Decimal
}

// Analysis is the stored deep-analysis result for a record.
type Analysis struct {
	RecordID    string
	Summary     string
	Difficulty  *string
	NextStep    *string
	RawResponse *string
	Model       string
	Tokens      int64
	CostUSD     decimal.Decimal
	CreatedAt   *string
}

// CompanyDocument is a compliance document with an optional expiry date.
type CompanyDocument struct {
	ID        int64
	Kind      string
	Name      string
	Issuer    string
	ExpiresAt *string
	Status    string
	CreatedAt *string
}

// CountBy is one bucket of a grouped count.
type CountBy struct {
	Key   string
	Label string
	Count int
}

// Stats contains aggregate database statistics.
type Stats struct {
	TotalRecords    int
	MatchedRecords  int
	AnalyzedRecords int
	OpenRecords     int
	ActiveAlerts    int
	Notifications   int
	ByRegion        []CountBy
	ByCategory      []CountBy
}
