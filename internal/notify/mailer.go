package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"log"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// Deviation timestamps are always rendered in Brasília time, regardless of
// server locale.
var brasilia = time.FixedZone("UTC-3", -3*60*60)

// Message is one evaluated-deviation notification, rendered identically for
// every recipient of the study.
type Message struct {
	StudyCode   string
	StudyName   string
	SeqNumber   int64
	ActorName   string
	Evaluation  string
	SubmittedAt time.Time
}

type DeliveryFailure struct {
	Recipient string
	Err       error
}

// DeliveryReport records the per-recipient outcome of one fan-out. It is
// observability data only; nothing in it feeds back into the submission
// result.
type DeliveryReport struct {
	Sent   []string
	Failed []DeliveryFailure
}

// Sender delivers one rendered message to one address.
type Sender interface {
	Send(recipient, subject, body string) error
}

var bodyTemplate = template.Must(template.New("evaluation").Funcs(template.FuncMap{
	"nl2br": func(s string) template.HTML {
		escaped := template.HTMLEscapeString(s)
		return template.HTML(strings.ReplaceAll(escaped, "\n", "<br>"))
	},
}).Parse(`<html>
<body>
<p>O desvio <strong>#{{.SeqNumber}}</strong> do estudo <strong>{{.StudyCode}}</strong> ({{.StudyName}}) foi avaliado.</p>
<p><strong>Avaliado por:</strong> {{.ActorName}}<br>
<strong>Data:</strong> {{.Timestamp}}</p>
<p><strong>Avaliação:</strong></p>
<p>{{nl2br .Evaluation}}</p>
</body>
</html>`))

// Mailer renders and dispatches one notification per recipient. Each
// delivery is attempted independently; one recipient failing never stops
// the others.
type Mailer struct {
	sender Sender
}

func NewMailer(sender Sender) *Mailer {
	return &Mailer{sender: sender}
}

func (m *Mailer) Notify(msg Message, recipients []string) *DeliveryReport {
	report := &DeliveryReport{}
	if len(recipients) == 0 {
		return report
	}

	subject := fmt.Sprintf("[%s] Desvio #%d avaliado", msg.StudyCode, msg.SeqNumber)
	body, err := renderBody(msg)
	if err != nil {
		for _, r := range recipients {
			report.Failed = append(report.Failed, DeliveryFailure{Recipient: r, Err: err})
		}
		return report
	}

	for _, recipient := range recipients {
		if err := m.sender.Send(recipient, subject, body); err != nil {
			report.Failed = append(report.Failed, DeliveryFailure{Recipient: recipient, Err: err})
			continue
		}
		report.Sent = append(report.Sent, recipient)
	}
	return report
}

func renderBody(msg Message) (string, error) {
	data := struct {
		Message
		Timestamp string
	}{
		Message:   msg,
		Timestamp: msg.SubmittedAt.In(brasilia).Format("02/01/2006 15:04"),
	}

	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render notification body: %w", err)
	}
	return buf.String(), nil
}

// ShoutrrrSender delivers via nicholas-fedor/shoutrrr. The URL template
// carries the transport configuration (typically an smtp:// URL) with a
// {recipient} placeholder filled per delivery.
type ShoutrrrSender struct {
	urlTemplate string
	timeout     time.Duration
}

func NewShoutrrrSender(urlTemplate string, timeout time.Duration) (*ShoutrrrSender, error) {
	if !strings.Contains(urlTemplate, "{recipient}") {
		return nil, fmt.Errorf("notify URL template must contain {recipient}")
	}
	// Validate the template once with a placeholder address.
	probe := strings.NewReplacer("{recipient}", "probe@localhost").Replace(urlTemplate)
	if _, err := shoutrrr.CreateSender(probe); err != nil {
		return nil, fmt.Errorf("invalid notify URL template: %w", err)
	}

	return &ShoutrrrSender{
		urlTemplate: urlTemplate,
		timeout:     timeout,
	}, nil
}

func (s *ShoutrrrSender) Send(recipient, subject, body string) error {
	url := strings.NewReplacer("{recipient}", recipient).Replace(s.urlTemplate)

	sender, err := shoutrrr.CreateSender(url)
	if err != nil {
		return fmt.Errorf("failed to create sender: %w", err)
	}
	if s.timeout > 0 {
		sender.Timeout = s.timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))

	params := stypes.Params{}
	params.SetTitle(subject)

	for _, err := range sender.Send(body, &params) {
		if err != nil {
			return fmt.Errorf("delivery to %s failed: %w", recipient, err)
		}
	}
	return nil
}
