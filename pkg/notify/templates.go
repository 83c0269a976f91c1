package notify

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/platinummonkey/tenancy/pkg/apperr"
)

// defaultTemplates are used when no active row exists in email_templates
var defaultTemplates = map[TemplateType]Template{
	TemplateWelcome: {
		Subject: "Welcome to {{.TenantName}}",
		Body: `Hi {{.Name}},

Your workspace {{.TenantName}} has been created and is waiting for approval.
We will let you know as soon as it is active.
`,
	},
	TemplateTenantApproved: {
		Subject: "{{.TenantName}} is now active",
		Body: `Hi,

Your workspace {{.TenantName}} has been approved. You can sign in at {{.URL}}.
`,
	},
	TemplateTenantSuspended: {
		Subject: "{{.TenantName}} has been suspended",
		Body: `Hi,

Your workspace {{.TenantName}} has been suspended.{{if .Reason}}
Reason: {{.Reason}}{{end}}
`,
	},
	TemplatePaymentSuccess: {
		Subject: "Payment received",
		Body: `Hi,

We received your payment of {{.Amount}} {{.Currency}} for {{.TenantName}}. Thank you.
`,
	},
	TemplatePaymentFailed: {
		Subject: "Payment failed",
		Body: `Hi,

Your payment of {{.Amount}} {{.Currency}} for {{.TenantName}} could not be processed.
`,
	},
	TemplatePaymentRejected: {
		Subject: "Payment could not be verified",
		Body: `Hi,

Your payment of {{.Amount}} {{.Currency}} for {{.TenantName}} was rejected.
Reason: {{.Reason}}
`,
	},
	TemplateInvoice: {
		Subject: "Invoice {{.Number}}",
		Body: `Hi,

Invoice {{.Number}} for {{.Total}} {{.Currency}} is due on {{.DueDate}}.
`,
	},
	TemplateInvitation: {
		Subject: "You have been invited to {{.TenantName}}",
		Body: `Hi,

You have been invited to join {{.TenantName}} as {{.Role}}.
Accept the invitation before {{.ExpiresAt}} with this token: {{.Token}}
`,
	},
	TemplateSubscriptionExpiring: {
		Subject: "Your trial ends in {{.DaysLeft}} days",
		Body: `Hi,

The trial of {{.TenantName}} ends on {{.EndsAt}}. Submit a payment to keep your workspace active.
`,
	},
}

// TemplateStore loads templates
type TemplateStore interface {
	GetTemplate(ctx context.Context, typ TemplateType) (*Template, error)
}

// PostgresTemplateStore reads and writes email_templates
type PostgresTemplateStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresTemplateStore creates a template store
func NewPostgresTemplateStore(db *sql.DB) *PostgresTemplateStore {
	return &PostgresTemplateStore{db: db, now: time.Now}
}

// GetTemplate returns the active template for typ, falling back to the
// built-in default when none is stored
func (s *PostgresTemplateStore) GetTemplate(ctx context.Context, typ TemplateType) (*Template, error) {
	query := `
		SELECT id, type, subject, body, is_active, created_at, updated_at
		FROM email_templates
		WHERE type = $1 AND is_active = TRUE
	`

	t := &Template{}
	err := s.db.QueryRowContext(ctx, query, typ).Scan(
		&t.ID, &t.Type, &t.Subject, &t.Body, &t.IsActive, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultTemplate(typ)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email template: %w", err)
	}
	return t, nil
}

// UpsertTemplate stores a template after checking that it parses
func (s *PostgresTemplateStore) UpsertTemplate(ctx context.Context, t *Template) error {
	if !t.Type.Valid() {
		return apperr.Validation("unknown template type %q", t.Type)
	}
	if strings.TrimSpace(t.Subject) == "" || strings.TrimSpace(t.Body) == "" {
		return apperr.Validation("subject and body are required")
	}
	if _, _, err := parse(t); err != nil {
		return apperr.Validation("invalid template: %v", err)
	}

	query := `
		INSERT INTO email_templates (type, subject, body, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (type) DO UPDATE
		SET subject = EXCLUDED.subject, body = EXCLUDED.body,
			is_active = EXCLUDED.is_active, updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at
	`

	err := s.db.QueryRowContext(ctx, query, t.Type, t.Subject, t.Body, t.IsActive, s.now()).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save email template: %w", err)
	}
	return nil
}

// DefaultTemplate returns the built-in template for typ
func DefaultTemplate(typ TemplateType) (*Template, error) {
	t, ok := defaultTemplates[typ]
	if !ok {
		return nil, apperr.NotFound("email template", typ)
	}
	t.Type = typ
	t.IsActive = true
	return &t, nil
}

func parse(t *Template) (*template.Template, *template.Template, error) {
	subject, err := template.New("subject").Option("missingkey=zero").Parse(t.Subject)
	if err != nil {
		return nil, nil, err
	}
	body, err := template.New("body").Option("missingkey=zero").Parse(t.Body)
	if err != nil {
		return nil, nil, err
	}
	return subject, body, nil
}

// Render renders t with data into a message for to
func Render(t *Template, to string, data Data) (*Message, error) {
	subjectTmpl, bodyTmpl, err := parse(t)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s template: %w", t.Type, err)
	}

	var subject, body bytes.Buffer
	if err := subjectTmpl.Execute(&subject, data); err != nil {
		return nil, fmt.Errorf("failed to render %s subject: %w", t.Type, err)
	}
	if err := bodyTmpl.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("failed to render %s body: %w", t.Type, err)
	}

	return &Message{
		To:      []string{to},
		Subject: strings.TrimSpace(strings.ReplaceAll(subject.String(), "\n", " ")),
		Body:    body.String(),
	}, nil
}
