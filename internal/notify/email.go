package notify

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
)

var md = goldmark.New()

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel delivers batches as HTML mail over SMTP.
type EmailChannel struct {
	addr     string
	auth     smtp.Auth
	from     string
	to       []string
	sendMail sendMailFunc
	now      func() time.Time
}

// NewEmailChannel creates an SMTP channel. Authentication is used only when
// a username is set.
func NewEmailChannel(host string, port int, username, password, from string, to []string) *EmailChannel {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &EmailChannel{
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		auth:     auth,
		from:     from,
		to:       to,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
}

func (e *EmailChannel) Name() string { return ChannelEmail }

func (e *EmailChannel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var body bytes.Buffer
	body.WriteString(`<div style="font-family:Arial,sans-serif;max-width:800px;margin:0 auto">`)
	if err := md.Convert([]byte(Markdown(msg)), &body); err != nil {
		return fmt.Errorf("rendering email: %w", err)
	}
	body.WriteString(`<p style="color:#999;font-size:11px">Enviado por BidScout</p></div>`)

	subject := fmt.Sprintf("[BidScout] %s: %s", msg.Headline(), msg.AlertName)
	return e.send(subject, "text/html", body.Bytes())
}

func (e *EmailChannel) SendPlain(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.send("[BidScout] Novas licitações", "text/plain", []byte(text))
}

func (e *EmailChannel) send(subject, contentType string, body []byte) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", e.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", e.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: %s; charset=\"utf-8\"\r\n", contentType)
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.Write(body)

	if err := e.sendMail(e.addr, e.auth, e.from, e.to, b.Bytes()); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
