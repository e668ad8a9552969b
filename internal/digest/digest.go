// Package digest composes and sends the email summary of a pipeline run. It
// is a no-op whenever email is disabled or missing required configuration —
// never an error the orchestrator needs to handle specially.
package digest

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/arxivdigest/internal/config"
	"github.com/hyperifyio/arxivdigest/internal/orchestrator"
)

// Publisher composes an HTML digest and sends it over SMTP.
type Publisher struct {
	Config config.EmailConfig
	Now    func() time.Time
}

func (p *Publisher) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

type topicSection struct {
	Label  string
	Papers []paperRow
}

type paperRow struct {
	Title string
	Score float64
	Href  string
}

type digestView struct {
	RunDate    string
	PaperCount int
	Topics     []topicSection
}

var bodyTemplate = template.Must(template.New("digest").Parse(`<!doctype html>
<html><body>
<h1>Research Digest — {{.RunDate}}</h1>
<p>{{.PaperCount}} paper(s) selected this run.</p>
{{range .Topics}}
<h2>{{.Label}}</h2>
{{if .Papers}}
<ul>{{range .Papers}}<li>{{.Title}} — {{printf "%.1f" .Score}}/100</li>{{end}}</ul>
{{else}}<p><em>No papers this run.</em></p>{{end}}
{{end}}
</body></html>
`))

// Publish renders and sends the digest for result. It silently no-ops when
// disabled or missing sender, recipients, or SMTP host, per configuration.
func (p *Publisher) Publish(ctx context.Context, result orchestrator.PipelineResult) error {
	cfg := p.Config
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Sender) == "" || len(cfg.Recipients) == 0 || strings.TrimSpace(cfg.SMTPHost) == "" {
		log.Warn().Msg("email enabled but sender, recipients, or smtp_host missing; skipping digest")
		return nil
	}

	view, count := buildView(p.now(), result)
	subject := renderSubject(cfg.SubjectTemplate, p.now(), count)

	var body bytes.Buffer
	if err := bodyTemplate.Execute(&body, view); err != nil {
		return fmt.Errorf("render digest body: %w", err)
	}

	msg := buildMessage(cfg, subject, body.String())
	return sendMail(ctx, cfg, msg)
}

func buildView(now time.Time, result orchestrator.PipelineResult) (digestView, int) {
	view := digestView{RunDate: now.Format("2006-01-02")}
	count := 0
	for _, tr := range result.Topics {
		section := topicSection{Label: tr.Topic.Label}
		for _, paper := range tr.Papers {
			section.Papers = append(section.Papers, paperRow{
				Title: paper.Scored.Paper.Title,
				Score: paper.Scored.NormalizedScore,
			})
			count++
		}
		view.Topics = append(view.Topics, section)
	}
	view.PaperCount = count
	return view, count
}

func renderSubject(tmpl string, now time.Time, count int) string {
	if strings.TrimSpace(tmpl) == "" {
		return fmt.Sprintf("Research Digest — %s (%d papers)", now.Format("2006-01-02"), count)
	}
	subject := strings.ReplaceAll(tmpl, "{run_date}", now.Format("2006-01-02"))
	subject = strings.ReplaceAll(subject, "{paper_count}", fmt.Sprintf("%d", count))
	return subject
}

func buildMessage(cfg config.EmailConfig, subject, htmlBody string) []byte {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", cfg.Sender)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(cfg.Recipients, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.WriteString(htmlBody)
	return msg.Bytes()
}

func sendMail(ctx context.Context, cfg config.EmailConfig, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort)
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost)
	}

	dialer := net.Dialer{Timeout: timeout}
	var conn net.Conn
	var err error
	if cfg.UseSSL {
		conn, err = tls.DialWithDialer(&dialer, "tcp", addr, &tls.Config{ServerName: cfg.SMTPHost})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	if cfg.UseTLS && !cfg.UseSSL {
		if err := client.StartTLS(&tls.Config{ServerName: cfg.SMTPHost}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(cfg.Sender); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range cfg.Recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt to %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close: %w", err)
	}
	return client.Quit()
}
