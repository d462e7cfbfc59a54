package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TobiSchelling/BidScout/internal/database"
)

// Document statuses written back by the expiry check.
const (
	StatusValid    = "valid"
	StatusExpiring = "expiring"
	StatusExpired  = "expired"
)

// ExpiryReport lists documents past or near their expiry date.
type ExpiryReport struct {
	Expiring []database.CompanyDocument
	Expired  []database.CompanyDocument
}

// Empty reports whether there is nothing to warn about.
func (r ExpiryReport) Empty() bool {
	return len(r.Expiring) == 0 && len(r.Expired) == 0
}

// DocumentChecker finds company documents that are expired or expire within
// warningDays.
type DocumentChecker interface {
	CheckExpiry(ctx context.Context, warningDays int) (ExpiryReport, error)
}

// DBDocumentChecker reads company_documents and refreshes their status.
type DBDocumentChecker struct {
	db  *database.DB
	now func() time.Time
}

func NewDocumentChecker(db *database.DB) *DBDocumentChecker {
	return &DBDocumentChecker{db: db, now: time.Now}
}

func (c *DBDocumentChecker) CheckExpiry(ctx context.Context, warningDays int) (ExpiryReport, error) {
	var report ExpiryReport
	if err := ctx.Err(); err != nil {
		return report, err
	}
	today := c.now().Format(time.DateOnly)
	horizon := c.now().AddDate(0, 0, warningDays).Format(time.DateOnly)

	docs, err := c.db.DocumentsExpiringBefore(horizon)
	if err != nil {
		return report, fmt.Errorf("listing documents: %w", err)
	}
	for _, d := range docs {
		status := StatusExpiring
		if dateOnly(*d.ExpiresAt) < today {
			status = StatusExpired
		}
		if d.Status != status {
			if err := c.db.SetDocumentStatus(d.ID, status); err != nil {
				return report, fmt.Errorf("updating document %d: %w", d.ID, err)
			}
			d.Status = status
		}
		if status == StatusExpired {
			report.Expired = append(report.Expired, d)
		} else {
			report.Expiring = append(report.Expiring, d)
		}
	}
	return report, nil
}

func dateOnly(s string) string {
	if len(s) > 10 {
		return s[:10]
	}
	return s
}

// Notice renders the report as a plain-text message for the alert channels.
func Notice(r ExpiryReport) string {
	var b strings.Builder
	b.WriteString("BidScout: alerta de documentos\n")
	if len(r.Expired) > 0 {
		fmt.Fprintf(&b, "\nVencidos (%d):\n", len(r.Expired))
		for _, d := range r.Expired {
			fmt.Fprintf(&b, "- %s (venceu em %s)\n", d.Name, dateOnly(*d.ExpiresAt))
		}
	}
	if len(r.Expiring) > 0 {
		fmt.Fprintf(&b, "\nVencendo em breve (%d):\n", len(r.Expiring))
		for _, d := range r.Expiring {
			fmt.Fprintf(&b, "- %s (vence em %s)\n", d.Name, dateOnly(*d.ExpiresAt))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// PruneResult counts rows removed by Retention.Prune.
type PruneResult struct {
	ChatRows  int64
	UsageRows int64
}

// Retention deletes chat history and usage events past their retention
// windows. A window of 0 days keeps everything.
type Retention struct {
	db        *database.DB
	chatDays  int
	usageDays int
	now       func() time.Time
}

// NewRetention creates a Retention keeping chatDays of chat history and
// usageDays of usage events.
func NewRetention(db *database.DB, chatDays, usageDays int) *Retention {
	return &Retention{db: db, chatDays: chatDays, usageDays: usageDays, now: time.Now}
}

// Prune deletes rows older than the retention windows and reports how many
// were removed. Failures of either table are joined.
func (r *Retention) Prune(ctx context.Context) (PruneResult, error) {
	var res PruneResult
	if err := ctx.Err(); err != nil {
		return res, err
	}
	now := r.now().UTC()
	var errs []error

	if r.chatDays > 0 {
		cutoff := now.AddDate(0, 0, -r.chatDays).Format(time.DateTime)
		n, err := r.db.DeleteChatBefore(cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("pruning chat history: %w", err))
		}
		res.ChatRows = n
	}
	if r.usageDays > 0 {
		cutoff := now.AddDate(0, 0, -r.usageDays).Format(time.DateOnly)
		n, err := r.db.DeleteUsageBefore(cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("pruning usage events: %w", err))
		}
		res.UsageRows = n
	}
	return res, errors.Join(errs...)
}
