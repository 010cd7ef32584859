// Package notify renders billing notification emails for the notify-worker.
package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	texttemplate "text/template"
	"time"

	"aiohub/internal/types"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// RenderedEmail holds the pre-rendered email content ready for transmission.
type RenderedEmail struct {
	Subject  string
	BodyHTML string
	BodyText string
}

// templateData is the struct passed into Go templates for rendering.
type templateData struct {
	Subject       string
	PlanName      string
	FormattedDate string
}

// subjects maps notification kinds to their email subject lines. Plan name
// is appended for the welcome email.
var subjects = map[types.NotificationKind]string{
	types.NotificationWelcome: "Welcome to AIOHub",
	types.NotificationReceipt: "Your AIOHub payment receipt",
}

// planNames maps plan tiers to their customer-facing display names.
var planNames = map[types.PlanTier]string{
	types.PlanFree:       "Free",
	types.PlanStarter:    "Starter",
	types.PlanPro:        "Pro",
	types.PlanEnterprise: "Enterprise",
}

// Renderer performs email template rendering using Go templates embedded in
// the binary. Each notification kind has an HTML template (composed with the
// shared base layout) and a plaintext alternative.
type Renderer struct {
	htmlTemplates map[types.NotificationKind]*template.Template
	textTemplates map[types.NotificationKind]*texttemplate.Template
	now           func() time.Time
}

// NewRenderer parses the embedded templates and returns a Renderer.
// Returns an error if any template fails to parse.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		htmlTemplates: make(map[types.NotificationKind]*template.Template),
		textTemplates: make(map[types.NotificationKind]*texttemplate.Template),
		now:           func() time.Time { return time.Now().UTC() },
	}

	baseHTML, err := templateFS.ReadFile("templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("notify: failed to read base.html: %w", err)
	}

	kinds := []types.NotificationKind{
		types.NotificationWelcome,
		types.NotificationReceipt,
	}

	for _, kind := range kinds {
		name := string(kind)

		htmlContent, err := templateFS.ReadFile(fmt.Sprintf("templates/%s.html", name))
		if err != nil {
			return nil, fmt.Errorf("notify: failed to read %s.html: %w", name, err)
		}
		htmlTmpl, err := template.New("base").Parse(string(baseHTML))
		if err != nil {
			return nil, fmt.Errorf("notify: failed to parse base.html: %w", err)
		}
		if _, err := htmlTmpl.Parse(string(htmlContent)); err != nil {
			return nil, fmt.Errorf("notify: failed to parse %s.html: %w", name, err)
		}
		r.htmlTemplates[kind] = htmlTmpl

		txtContent, err := templateFS.ReadFile(fmt.Sprintf("templates/%s.txt", name))
		if err != nil {
			return nil, fmt.Errorf("notify: failed to read %s.txt: %w", name, err)
		}
		txtTmpl, err := texttemplate.New(name).Parse(string(txtContent))
		if err != nil {
			return nil, fmt.Errorf("notify: failed to parse %s.txt: %w", name, err)
		}
		r.textTemplates[kind] = txtTmpl
	}

	return r, nil
}

// Render produces the subject and both body variants for a notification.
func (r *Renderer) Render(n *types.BillingNotification) (*RenderedEmail, error) {
	if n == nil {
		return nil, fmt.Errorf("notify: notification is nil")
	}

	htmlTmpl, ok := r.htmlTemplates[n.Kind]
	if !ok {
		return nil, fmt.Errorf("notify: no HTML template for kind %q", n.Kind)
	}
	txtTmpl, ok := r.textTemplates[n.Kind]
	if !ok {
		return nil, fmt.Errorf("notify: no text template for kind %q", n.Kind)
	}

	data := templateData{
		Subject:       subjectFor(n),
		PlanName:      planDisplayName(n.Plan),
		FormattedDate: r.now().Format("January 2, 2006"),
	}

	var htmlBuf bytes.Buffer
	if err := htmlTmpl.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("notify: failed to render HTML for %q: %w", n.Kind, err)
	}

	var txtBuf bytes.Buffer
	if err := txtTmpl.Execute(&txtBuf, data); err != nil {
		return nil, fmt.Errorf("notify: failed to render text for %q: %w", n.Kind, err)
	}

	return &RenderedEmail{
		Subject:  data.Subject,
		BodyHTML: htmlBuf.String(),
		BodyText: txtBuf.String(),
	}, nil
}

// subjectFor builds the subject line for a notification.
func subjectFor(n *types.BillingNotification) string {
	subject, ok := subjects[n.Kind]
	if !ok {
		return "AIOHub billing notification"
	}
	if n.Kind == types.NotificationWelcome {
		return fmt.Sprintf("%s %s", subject, planDisplayName(n.Plan))
	}
	return subject
}

// planDisplayName returns the customer-facing plan name, falling back to the
// raw tier string for unknown values.
func planDisplayName(plan types.PlanTier) string {
	if name, ok := planNames[plan]; ok {
		return name
	}
	return string(plan)
}
