package notify

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenancy/pkg/async"
)

// Dispatch outcomes reported to the Observer
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

// Observer is told the outcome of every dispatch
type Observer interface {
	RecordEmailDispatch(template, outcome string)
}

// Dispatcher renders and sends notifications on a bounded worker pool.
// A nil Dispatcher sends nothing.
type Dispatcher struct {
	templates TemplateStore
	sender    Sender
	pool      *async.WorkerPool
	log       *logrus.Logger
	observer  Observer
}

// NewDispatcher creates a dispatcher. pool may be nil, in which case Notify
// delivers synchronously.
func NewDispatcher(templates TemplateStore, sender Sender, pool *async.WorkerPool, log *logrus.Logger, observer Observer) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		templates: templates,
		sender:    sender,
		pool:      pool,
		log:       log,
		observer:  observer,
	}
}

// Notify queues a notification. Failures are logged, never returned.
func (d *Dispatcher) Notify(ctx context.Context, typ TemplateType, to string, data Data) {
	if d == nil || to == "" {
		return
	}

	task := func(ctx context.Context) error {
		return d.Deliver(ctx, typ, to, data)
	}

	if d.pool == nil {
		if err := task(ctx); err != nil {
			d.log.WithError(err).WithField("template", typ).Warn("Failed to send email")
		}
		return
	}

	if err := d.pool.TrySubmit(task); err != nil {
		d.record(typ, OutcomeDropped)
		d.log.WithError(err).WithFields(logrus.Fields{
			"template": typ,
			"to":       to,
		}).Warn("Email dropped")
	}
}

// Deliver renders and sends a notification synchronously
func (d *Dispatcher) Deliver(ctx context.Context, typ TemplateType, to string, data Data) error {
	tmpl, err := d.template(ctx, typ)
	if err != nil {
		d.record(typ, OutcomeFailed)
		return err
	}

	msg, err := Render(tmpl, to, data)
	if err != nil {
		d.record(typ, OutcomeFailed)
		return err
	}

	if err := d.sender.Send(ctx, msg); err != nil {
		d.record(typ, OutcomeFailed)
		return fmt.Errorf("%s email to %s: %w", typ, to, err)
	}
	d.record(typ, OutcomeSent)
	return nil
}

func (d *Dispatcher) template(ctx context.Context, typ TemplateType) (*Template, error) {
	if d.templates == nil {
		return DefaultTemplate(typ)
	}
	tmpl, err := d.templates.GetTemplate(ctx, typ)
	if err != nil {
		// A broken template table must not stop mail from going out
		d.log.WithError(err).WithField("template", typ).Warn("Falling back to default email template")
		return DefaultTemplate(typ)
	}
	return tmpl, nil
}

func (d *Dispatcher) record(typ TemplateType, outcome string) {
	if d.observer != nil {
		d.observer.RecordEmailDispatch(string(typ), outcome)
	}
}
