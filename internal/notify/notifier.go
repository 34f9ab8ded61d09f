// Package notify delivers operator notifications. Delivery is best effort:
// a failed send is logged and never changes the outcome of a run.
package notify

import (
	"context"
	"log"
	"time"

	"github.com/ignite/report-etl/internal/pkg/logger"
)

const sendTimeout = 30 * time.Second

// Message is one rendered notification.
type Message struct {
	Subject string
	Body    string
}

// Transport delivers a message to the configured recipients.
type Transport interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier renders and sends notifications.
type Notifier struct {
	transport Transport
	templates *Templates
}

// New creates a Notifier.
func New(transport Transport, templates *Templates) *Notifier {
	return &Notifier{transport: transport, templates: templates}
}

// Notify sends subject and body. Errors are logged, not returned. Delivery
// is still attempted after ctx is canceled, bounded by sendTimeout.
func (n *Notifier) Notify(ctx context.Context, subject, body string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	if err := n.transport.Send(ctx, Message{Subject: subject, Body: body}); err != nil {
		logger.Error("notification not delivered",
			"transport", n.transport.Name(), "subject", subject, "error", err)
		return
	}
	log.Printf("[notify] sent via %s: %s", n.transport.Name(), subject)
}

// Send renders the message for kind and delivers it.
func (n *Notifier) Send(ctx context.Context, kind Kind, vars Vars) {
	msg, err := n.templates.Render(kind, vars)
	if err != nil {
		logger.Warn("notification template failed, sending plain message", "kind", string(kind), "error", err)
		msg = fallback(kind, vars)
	}
	n.Notify(ctx, msg.Subject, msg.Body)
}
