package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/psds-microservice/helpdesk-service/internal/credential"
	"github.com/psds-microservice/helpdesk-service/internal/model"
)

var (
	createdTmpl = template.Must(template.New("created").Parse(`<p>Hello {{.Name}},</p>
<p>Your support ticket has been created.</p>
<p><strong>Subject:</strong> {{.Subject}}</p>
<p>You can view and reply to your ticket using the link below while it remains open:</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>
<p><strong>Login Credentials:</strong></p>
<ul>
  <li>Username: <code>{{.Username}}</code></li>
  <li>Password: <code>{{.Password}}</code></li>
</ul>
<p><em>Keep this email safe. If lost, you will need to create a new ticket.</em></p>
`))

	replyTmpl = template.Must(template.New("reply").Parse(`<p>Hello {{.Name}},</p>
<p>Support replied to your ticket <strong>{{.Subject}}</strong>:</p>
<blockquote>{{.Message}}</blockquote>
<p>View your ticket: <a href="{{.Link}}">{{.Link}}</a></p>
`))

	inboxTmpl = template.Must(template.New("inbox").Parse(`<p>New ticket created:</p>
<p><strong>Subject:</strong> {{.Subject}}<br>
<strong>Priority:</strong> {{.Priority}}<br>
<strong>From:</strong> {{.Name}} &lt;{{.Email}}&gt;</p>
<p>{{.Description}}</p>
`))
)

// Dispatcher sends ticket notifications. Delivery is best-effort: each send
// runs in its own goroutine with a timeout and failures are only logged.
type Dispatcher struct {
	mailer   Mailer
	linkBase string
	inbox    string
	timeout  time.Duration
	log      *slog.Logger
	wg       sync.WaitGroup
}

type DispatcherConfig struct {
	// LinkBase is the customer portal origin, e.g. https://support.example.com.
	LinkBase string
	// Inbox, when set, receives a copy of every new ticket.
	Inbox   string
	Timeout time.Duration
}

func NewDispatcher(mailer Mailer, cfg DispatcherConfig, log *slog.Logger) *Dispatcher {
	if mailer == nil {
		mailer = Discard{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		mailer:   mailer,
		linkBase: strings.TrimRight(cfg.LinkBase, "/"),
		inbox:    cfg.Inbox,
		timeout:  cfg.Timeout,
		log:      log,
	}
}

// TicketLink is the customer portal URL for a ticket.
func (d *Dispatcher) TicketLink(t *model.Ticket) string {
	staff := "unassigned"
	if t.AssignedTo != nil && *t.AssignedTo != "" {
		staff = *t.AssignedTo
	}
	q := url.Values{}
	q.Set("ticketid", t.ID)
	q.Set("supportstaff", staff)
	return d.linkBase + "/ticket?" + q.Encode()
}

func displayName(t *model.Ticket) string {
	if t.CreatorName != "" {
		return t.CreatorName
	}
	return "Customer"
}

// TicketCreated mails the creator their access link and credentials, and the
// support inbox if configured.
func (d *Dispatcher) TicketCreated(t *model.Ticket, creds credential.Issued) {
	body, err := render(createdTmpl, map[string]string{
		"Name":     displayName(t),
		"Subject":  t.Subject,
		"Link":     d.TicketLink(t),
		"Username": creds.Username,
		"Password": creds.Password,
	})
	if err != nil {
		d.log.Error("notify: render created email", "ticket_id", t.ID, "error", err)
		return
	}
	d.sendAsync(t.ID, Email{
		To:      t.CreatorEmail,
		Subject: "Your Support Ticket " + t.ID,
		HTML:    body,
	})

	if d.inbox == "" {
		return
	}
	inbox, err := render(inboxTmpl, map[string]string{
		"Subject":     t.Subject,
		"Priority":    string(t.Priority),
		"Name":        displayName(t),
		"Email":       t.CreatorEmail,
		"Description": t.Description,
	})
	if err != nil {
		d.log.Error("notify: render inbox email", "ticket_id", t.ID, "error", err)
		return
	}
	d.sendAsync(t.ID, Email{
		To:      d.inbox,
		Subject: fmt.Sprintf("New Support Ticket %s: %s", t.ID, t.Subject),
		HTML:    inbox,
	})
}

// StaffReplied mails the creator the support response.
func (d *Dispatcher) StaffReplied(t *model.Ticket, message string) {
	body, err := render(replyTmpl, map[string]string{
		"Name":    displayName(t),
		"Subject": t.Subject,
		"Message": message,
		"Link":    d.TicketLink(t),
	})
	if err != nil {
		d.log.Error("notify: render reply email", "ticket_id", t.ID, "error", err)
		return
	}
	d.sendAsync(t.ID, Email{
		To:      t.CreatorEmail,
		Subject: fmt.Sprintf("Update on your ticket %s: %s", t.ID, t.Subject),
		HTML:    body,
		Text:    "Support replied:\n\n" + message + "\n\nView your ticket: " + d.TicketLink(t),
	})
}

func (d *Dispatcher) sendAsync(ticketID string, e Email) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		err := d.mailer.Send(ctx, e)
		if errors.Is(err, ErrMailDisabled) {
			d.log.Info("notify: email dropped, smtp not configured", "ticket_id", ticketID, "subject", e.Subject)
			return
		}
		if err != nil {
			d.log.Error("notify: email not delivered", "ticket_id", ticketID, "subject", e.Subject, "error", err)
			return
		}
		d.log.Info("notify: email sent", "ticket_id", ticketID, "subject", e.Subject)
	}()
}

// Wait blocks until in-flight sends finish. Called on shutdown and in tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
