package notify

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/BidScout/internal/database"
	"github.com/TobiSchelling/BidScout/internal/money"
)

// maxInline is how many records a batch lists before collapsing the rest
// into a "+N more" line.
const maxInline = 10

// Item is one record selected for delivery, with the score that selected it.
type Item struct {
	Record    database.Record
	Score     int
	Rationale string
}

// Message is a batch of new records for one alert.
type Message struct {
	AlertID   int64
	AlertName string
	Items     []Item
}

// Inline returns the items rendered in full.
func (m Message) Inline() []Item {
	if len(m.Items) > maxInline {
		return m.Items[:maxInline]
	}
	return m.Items
}

// Remaining is how many items the "+N more" line stands for.
func (m Message) Remaining() int {
	return max(0, len(m.Items)-maxInline)
}

// Headline is the one-line summary shared by every rendering.
func (m Message) Headline() string {
	return fmt.Sprintf("%d nova(s) licitação(ões) encontrada(s)", len(m.Items))
}

// PlainSummary is the text sent on the plain-text fallback path.
func PlainSummary(msg Message) string {
	return fmt.Sprintf("BidScout: %d nova(s) licitação(ões) para %q", len(msg.Items), msg.AlertName)
}

func formatValue(r database.Record) string {
	if !r.EstimatedValue.Valid {
		return "Não informado"
	}
	return "R$ " + money.FormatBRL(r.EstimatedValue.Decimal)
}

func region(r database.Record) string {
	if r.RegionCode == "" {
		return "??"
	}
	return r.RegionCode
}

func location(r database.Record) string {
	parts := make([]string, 0, 2)
	if r.City != "" {
		parts = append(parts, r.City)
	}
	if r.RegionCode != "" {
		parts = append(parts, r.RegionCode)
	}
	if len(parts) == 0 {
		return "N/A"
	}
	return strings.Join(parts, "/")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func moreLine(n int) string {
	return fmt.Sprintf("...e mais %d resultado(s)", n)
}

// Markdown renders the batch as CommonMark, used for e-mail bodies.
func Markdown(msg Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## BidScout: %s\n\n%s:\n\n", escapeMarkdown(msg.AlertName), msg.Headline())
	for i, it := range msg.Inline() {
		r := it.Record
		fmt.Fprintf(&b, "%d. **%s** (%s)\n", i+1, escapeMarkdown(truncate(r.Description, 120)), escapeMarkdown(location(r)))
		fmt.Fprintf(&b, "   - Órgão: %s\n", escapeMarkdown(orNA(r.AgencyName)))
		fmt.Fprintf(&b, "   - Valor: %s\n", escapeMarkdown(formatValue(r)))
		fmt.Fprintf(&b, "   - Relevância: %d", it.Score)
		if it.Rationale != "" {
			fmt.Fprintf(&b, " (%s)", escapeMarkdown(it.Rationale))
		}
		b.WriteString("\n")
		if r.ClosingAt != nil {
			fmt.Fprintf(&b, "   - Prazo: %s\n", escapeMarkdown(*r.ClosingAt))
		}
		if r.OriginURL != nil && *r.OriginURL != "" {
			fmt.Fprintf(&b, "   - <%s>\n", *r.OriginURL)
		}
		fmt.Fprintf(&b, "   - ID: `%s`\n", r.ExternalID)
	}
	if n := msg.Remaining(); n > 0 {
		fmt.Fprintf(&b, "\n*%s*\n", escapeMarkdown(moreLine(n)))
	}
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`,
	"<", `\<`, ">", `\>`, "#", `\#`,
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

var markdownV2Escaper = strings.NewReplacer(
	`\`, `\\`, "_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`,
	"~", `\~`, "`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`, "=", `\=`,
	"|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
)

// EscapeMarkdownV2 escapes every character Telegram's MarkdownV2 reserves.
func EscapeMarkdownV2(s string) string {
	return markdownV2Escaper.Replace(s)
}

// TelegramMarkdown renders the batch in Telegram MarkdownV2.
func TelegramMarkdown(msg Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n%s:\n", EscapeMarkdownV2("Alerta: "+msg.AlertName), EscapeMarkdownV2(msg.Headline()))
	for i, it := range msg.Inline() {
		r := it.Record
		line := fmt.Sprintf("%d. [%s] %s — %s (%d)", i+1, region(r), truncate(r.Description, 100), formatValue(r), it.Score)
		b.WriteString("\n" + EscapeMarkdownV2(line))
	}
	if n := msg.Remaining(); n > 0 {
		fmt.Fprintf(&b, "\n\n_%s_", EscapeMarkdownV2(moreLine(n)))
	}
	return b.String()
}

var slackEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// SlackMarkdown renders the batch in Slack mrkdwn.
func SlackMarkdown(msg Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Alerta: %s*\n%s:\n", slackEscaper.Replace(msg.AlertName), msg.Headline())
	for i, it := range msg.Inline() {
		r := it.Record
		desc := slackEscaper.Replace(truncate(r.Description, 100))
		if r.OriginURL != nil && *r.OriginURL != "" {
			desc = fmt.Sprintf("<%s|%s>", *r.OriginURL, desc)
		}
		fmt.Fprintf(&b, "%d. [%s] %s — %s (%d)\n", i+1, region(r), desc, formatValue(r), it.Score)
	}
	if n := msg.Remaining(); n > 0 {
		fmt.Fprintf(&b, "_%s_\n", moreLine(n))
	}
	return strings.TrimRight(b.String(), "\n")
}
