package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TobiSchelling/BidScout/internal/config"
	"github.com/TobiSchelling/BidScout/internal/database"
	"github.com/TobiSchelling/BidScout/internal/logging"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeChannel struct {
	name     string
	richErr  error
	plainErr error

	mu     sync.Mutex
	rich   []Message
	plains []string
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(ctx context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.richErr != nil {
		return f.richErr
	}
	f.rich = append(f.rich, msg)
	return nil
}

func (f *fakeChannel) SendPlain(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.plainErr != nil {
		return f.plainErr
	}
	f.plains = append(f.plains, text)
	return nil
}

func items(t *testing.T, db *database.DB, ids ...string) []Item {
	t.Helper()
	var out []Item
	for _, id := range ids {
		r := &database.Record{ExternalID: id, Description: "software " + id, CategoryCode: 6, RegionCode: "SP"}
		if _, err := db.UpsertRecord(r); err != nil {
			t.Fatal(err)
		}
		out = append(out, Item{Record: *r, Score: 80})
	}
	return out
}

func newAlert(t *testing.T, db *database.DB, channels ...string) *database.Alert {
	t.Helper()
	a := &database.Alert{Name: "TI", Keywords: []string{"software"}, Channels: channels, Active: true}
	if _, err := db.InsertAlert(a); err != nil {
		t.Fatal(err)
	}
	return a
}

func TestDeliverOncePerChannel(t *testing.T) {
	db := openTestDB(t)
	tg := &fakeChannel{name: ChannelTelegram}
	d := NewDispatcher(db, []Channel{tg}, nil, logging.Discard())
	alert := newAlert(t, db, ChannelTelegram)
	batch := items(t, db, "A", "B")

	first := d.Deliver(context.Background(), alert, batch)
	if first.Sent() != 2 || first.Errors() != 0 {
		t.Fatalf("first delivery: sent=%d errors=%d", first.Sent(), first.Errors())
	}

	second := d.Deliver(context.Background(), alert, batch)
	if second.Sent() != 0 {
		t.Errorf("second delivery re-sent %d records", second.Sent())
	}
	if len(tg.rich) != 1 {
		t.Errorf("expected one send, got %d", len(tg.rich))
	}

	n, _ := db.CountSent(alert.ID)
	if n != 2 {
		t.Errorf("sent-log has %d rows, want 2", n)
	}
}

func TestDeliverFailureLeavesNoSentRows(t *testing.T) {
	db := openTestDB(t)
	tg := &fakeChannel{name: ChannelTelegram, richErr: errors.New("rich"), plainErr: errors.New("plain")}
	d := NewDispatcher(db, []Channel{tg}, nil, logging.Discard())
	alert := newAlert(t, db, ChannelTelegram)

	report := d.Deliver(context.Background(), alert, items(t, db, "A"))
	if report.Errors() != 1 || report.Sent() != 0 {
		t.Fatalf("sent=%d errors=%d", report.Sent(), report.Errors())
	}
	var de *DeliveryError
	if !errors.As(report.Results[0].Err, &de) || de.Channel != ChannelTelegram || de.AlertID != alert.ID {
		t.Errorf("expected DeliveryError, got %v", report.Results[0].Err)
	}
	if n, _ := db.CountSent(alert.ID); n != 0 {
		t.Errorf("failed delivery wrote %d sent rows", n)
	}
}

func TestDeliverChannelsIndependent(t *testing.T) {
	db := openTestDB(t)
	tg := &fakeChannel{name: ChannelTelegram, richErr: errors.New("down"), plainErr: errors.New("down")}
	em := &fakeChannel{name: ChannelEmail}
	d := NewDispatcher(db, []Channel{tg, em}, nil, logging.Discard())
	alert := newAlert(t, db, ChannelTelegram, ChannelEmail)

	report := d.Deliver(context.Background(), alert, items(t, db, "A"))
	if report.Sent() != 1 || report.Errors() != 1 {
		t.Fatalf("sent=%d errors=%d", report.Sent(), report.Errors())
	}
	sent, _ := db.SentRecordIDs(alert.ID, ChannelEmail)
	if !sent["A"] {
		t.Error("email delivery should be logged")
	}
	sent, _ = db.SentRecordIDs(alert.ID, ChannelTelegram)
	if sent["A"] {
		t.Error("telegram delivery should not be logged")
	}
}

func TestSendBatchFallsBackToPlain(t *testing.T) {
	db := openTestDB(t)
	tg := &fakeChannel{name: ChannelTelegram, richErr: errors.New("can't parse entities")}
	d := NewDispatcher(db, []Channel{tg}, nil, logging.Discard())
	alert := newAlert(t, db, ChannelTelegram)

	report := d.Deliver(context.Background(), alert, items(t, db, "A", "B"))
	if report.Sent() != 2 {
		t.Fatalf("sent = %d, want 2", report.Sent())
	}
	if len(tg.plains) != 1 || !strings.Contains(tg.plains[0], `2 nova(s) licitação(ões) para "TI"`) {
		t.Errorf("unexpected plain messages: %v", tg.plains)
	}
}

func TestDeliverSkipsUnconfiguredChannel(t *testing.T) {
	db := openTestDB(t)
	d := NewDispatcher(db, nil, nil, logging.Discard())
	alert := newAlert(t, db, ChannelSlack)

	report := d.Deliver(context.Background(), alert, items(t, db, "A"))
	if report.Sent() != 0 || report.Errors() != 0 {
		t.Errorf("sent=%d errors=%d", report.Sent(), report.Errors())
	}
}

func TestFindNewAndUnsent(t *testing.T) {
	db := openTestDB(t)
	d := NewDispatcher(db, nil, nil, logging.Discard())
	alert := newAlert(t, db, ChannelTelegram, ChannelEmail)
	batch := items(t, db, "A", "B", "C")

	db.RecordSent(alert.ID, "A", ChannelTelegram)
	db.RecordSent(alert.ID, "A", ChannelEmail)
	db.RecordSent(alert.ID, "B", ChannelTelegram)

	fresh, err := d.FindNew(context.Background(), alert.ID, ChannelTelegram, batch)
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh) != 1 || fresh[0].Record.ExternalID != "C" {
		t.Errorf("FindNew = %v", fresh)
	}

	records := []database.Record{batch[0].Record, batch[1].Record, batch[2].Record}
	pending, err := d.Unsent(alert, records)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ExternalID != "B" || pending[1].ExternalID != "C" {
		t.Errorf("Unsent = %v", pending)
	}
}

func TestBroadcast(t *testing.T) {
	db := openTestDB(t)
	ok := &fakeChannel{name: ChannelEmail}
	bad := &fakeChannel{name: ChannelSlack, plainErr: errors.New("nope")}
	d := NewDispatcher(db, []Channel{ok, bad}, nil, logging.Discard())

	err := d.Broadcast(context.Background(), "documentos vencendo")
	var de *DeliveryError
	if !errors.As(err, &de) || de.Channel != ChannelSlack {
		t.Errorf("expected slack DeliveryError, got %v", err)
	}
	if len(ok.plains) != 1 {
		t.Error("healthy channel should still receive the notice")
	}
}

func manyItems(n int) []Item {
	var out []Item
	for i := range n {
		out = append(out, Item{
			Record: database.Record{
				ExternalID:     fmt.Sprintf("R-%d", i),
				Description:    fmt.Sprintf("Serviço %d de TI (suporte)", i),
				RegionCode:     "RJ",
				EstimatedValue: decimal.NewNullDecimal(decimal.RequireFromString("1234.5")),
			},
			Score: 70,
		})
	}
	return out
}

func TestTelegramMarkdownTruncatesBatch(t *testing.T) {
	msg := Message{AlertName: "TI-RJ", Items: manyItems(13)}
	text := TelegramMarkdown(msg)

	if !strings.Contains(text, `\.\.\.e mais 3 resultado\(s\)`) {
		t.Errorf("missing overflow line:\n%s", text)
	}
	if strings.Contains(text, "Serviço 10 ") {
		t.Error("item beyond the inline limit was rendered")
	}
	if !strings.Contains(text, `R$ 1\.234,50`) {
		t.Errorf("value not formatted and escaped:\n%s", text)
	}
	if !strings.HasPrefix(text, `*Alerta: TI\-RJ*`) {
		t.Errorf("unexpected header: %q", strings.SplitN(text, "\n", 2)[0])
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	got := EscapeMarkdownV2("a_b*c[d](e).f!g-h")
	want := `a\_b\*c\[d\]\(e\)\.f\!g\-h`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSlackMarkdown(t *testing.T) {
	items := manyItems(1)
	url := "https://pncp.gov.br/app/editais/1"
	items[0].Record.OriginURL = &url
	items[0].Record.Description = "A & B <c>"
	text := SlackMarkdown(Message{AlertName: "TI", Items: items})
	if !strings.Contains(text, "<https://pncp.gov.br/app/editais/1|A &amp; B &lt;c&gt;>") {
		t.Errorf("unexpected slack text:\n%s", text)
	}
}

func TestTelegramChannelAgainstBotAPI(t *testing.T) {
	var mu sync.Mutex
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bottest-token/sendMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`)
	}))
	defer srv.Close()

	ch, err := NewTelegramChannel("test-token", 42, srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.Send(context.Background(), Message{AlertName: "TI", Items: manyItems(2)}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := ch.SendPlain(context.Background(), "plain"); err != nil {
		t.Fatalf("SendPlain: %v", err)
	}

	if len(bodies) != 2 {
		t.Fatalf("got %d requests", len(bodies))
	}
	if bodies[0]["parse_mode"] != "MarkdownV2" {
		t.Errorf("parse_mode = %v", bodies[0]["parse_mode"])
	}
	if fmt.Sprint(bodies[0]["chat_id"]) != "42" {
		t.Errorf("chat_id = %v", bodies[0]["chat_id"])
	}
	if _, ok := bodies[1]["parse_mode"]; ok {
		t.Error("plain send should not set parse_mode")
	}
}

func TestTelegramChannelAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`)
	}))
	defer srv.Close()

	ch, err := NewTelegramChannel("test-token", 42, srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.Send(context.Background(), Message{AlertName: "TI", Items: manyItems(1)}); err == nil {
		t.Error("expected API error")
	}
}

func TestEmailChannel(t *testing.T) {
	ch := NewEmailChannel("smtp.example.com", 587, "user", "pass", "bot@example.com", []string{"ops@example.com"})
	ch.now = func() time.Time { return time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC) }

	var gotAddr string
	var gotMsg []byte
	ch.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotMsg = addr, msg
		if a == nil {
			t.Error("expected auth when username is set")
		}
		return nil
	}

	if err := ch.Send(context.Background(), Message{AlertName: "TI", Items: manyItems(2)}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Errorf("addr = %q", gotAddr)
	}
	msg := string(gotMsg)
	for _, want := range []string{"Content-Type: text/html", "<ol>", "R$ 1.234,50", "To: ops@example.com"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}

	ch.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("refused") }
	if err := ch.SendPlain(context.Background(), "x"); err == nil {
		t.Error("expected smtp error")
	}
}

func TestSlackAndWebhookChannels(t *testing.T) {
	var got []map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		auth = r.Header.Get("Authorization")
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		got = append(got, body)
	}))
	defer srv.Close()

	msg := Message{AlertID: 7, AlertName: "TI", Items: manyItems(2)}

	if err := NewSlackChannel(srv.URL + "/slack").Send(context.Background(), msg); err != nil {
		t.Fatalf("slack: %v", err)
	}
	if text, _ := got[0]["text"].(string); !strings.Contains(text, "*Alerta: TI*") {
		t.Errorf("slack text = %q", text)
	}

	wh := NewWebhookChannel(srv.URL+"/hook", map[string]string{"Authorization": "Bearer x"})
	if err := wh.Send(context.Background(), msg); err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if auth != "Bearer x" {
		t.Errorf("header not forwarded: %q", auth)
	}
	if got[1]["total"] != float64(2) || got[1]["alert_id"] != float64(7) {
		t.Errorf("webhook payload = %v", got[1])
	}
	first := got[1]["items"].([]any)[0].(map[string]any)
	if first["estimated_value"] != "1234.50" {
		t.Errorf("estimated_value = %v", first["estimated_value"])
	}

	if err := NewWebhookChannel(srv.URL+"/fail", nil).SendPlain(context.Background(), "x"); err == nil {
		t.Error("expected error on 500")
	}
}

func TestFromConfig(t *testing.T) {
	t.Setenv("TEST_SLACK_URL", "https://hooks.slack.test/x")
	cfg := config.Channels{
		Telegram: config.TelegramConfig{Enabled: true, BotTokenEnv: "TEST_MISSING_TOKEN", ChatID: 1},
		Email:    config.EmailConfig{Enabled: true, SMTPHost: "smtp", SMTPPort: 25, From: "a@b", To: []string{"c@d"}},
		Slack:    config.SlackConfig{Enabled: true, WebhookURLEnv: "TEST_SLACK_URL"},
		Webhook:  config.WebhookConfig{Enabled: false, URL: "http://x"},
	}
	var names []string
	for _, c := range FromConfig(cfg, logging.Discard()) {
		names = append(names, c.Name())
	}
	if strings.Join(names, ",") != "email,slack" {
		t.Errorf("channels = %v", names)
	}
}
