package main

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ValidationResult carries the outcome of validating one operator input.
type ValidationResult struct {
	Valid   bool
	Message string
}

func valid(format string, args ...any) ValidationResult {
	return ValidationResult{Valid: true, Message: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...any) ValidationResult {
	return ValidationResult{Valid: false, Message: fmt.Sprintf(format, args...)}
}

// HTTPClient abstracts the HTTP client used for live credential probes.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Validator checks operator-provided values before they are written to SSM.
// Format checks are local; the Stripe key additionally gets a live probe
// against the Stripe API so typos are caught during bootstrap rather than at
// first checkout.
type Validator struct {
	httpClient HTTPClient
	stripeURL  string
}

// NewValidator creates a Validator with production dependencies.
func NewValidator() *Validator {
	return &Validator{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		stripeURL:  "https://api.stripe.com",
	}
}

// NewValidatorWithDeps creates a Validator with injected dependencies for
// testing.
func NewValidatorWithDeps(httpClient HTTPClient, stripeURL string) *Validator {
	return &Validator{httpClient: httpClient, stripeURL: stripeURL}
}

var stripeSecretKeyRe = regexp.MustCompile(`^sk_(test|live)_[0-9a-zA-Z]{24,}$`)

// ValidateStripeSecretKey checks the key format, then probes GET /v1/account
// to confirm the key actually authenticates.
func (v *Validator) ValidateStripeSecretKey(ctx context.Context, key string) ValidationResult {
	if !stripeSecretKeyRe.MatchString(key) {
		return invalid("Stripe secret key must match sk_test_... or sk_live_...")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.stripeURL+"/v1/account", nil)
	if err != nil {
		return invalid("building Stripe probe request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return invalid("Stripe API unreachable: %v", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		mode := "live"
		if strings.HasPrefix(key, "sk_test_") {
			mode = "test"
		}
		return valid("Stripe key authenticated (%s mode)", mode)
	case http.StatusUnauthorized:
		return invalid("Stripe rejected the key (401); check for truncation")
	default:
		return invalid("unexpected Stripe response: HTTP %d", resp.StatusCode)
	}
}

var webhookSecretRe = regexp.MustCompile(`^whsec_[0-9a-zA-Z]{16,}$`)

// ValidateWebhookSecret checks the Stripe webhook signing secret format.
// There is no probe endpoint for signing secrets.
func (v *Validator) ValidateWebhookSecret(_ context.Context, secret string) ValidationResult {
	if !webhookSecretRe.MatchString(secret) {
		return invalid("webhook signing secret must match whsec_...")
	}
	return valid("format OK (%d chars)", len(secret))
}

// ValidateDatabaseURL checks that the value is a well-formed postgres URL
// with credentials and a host. Connectivity is not probed: the database often
// lives in a VPC the operator's workstation cannot reach.
func (v *Validator) ValidateDatabaseURL(_ context.Context, rawURL string) ValidationResult {
	u, err := url.Parse(rawURL)
	if err != nil {
		return invalid("not a valid URL: %v", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return invalid("scheme must be postgres:// or postgresql://, got %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return invalid("database URL is missing a host")
	}
	if u.User == nil || u.User.Username() == "" {
		return invalid("database URL is missing credentials")
	}
	if pass, _ := u.User.Password(); pass == "" || pass == "[YOUR-PASSWORD]" {
		return invalid("database URL password looks like a placeholder")
	}
	return valid("postgres URL OK (host %s)", u.Hostname())
}

// ValidateHTTPSURL checks a public URL used for Stripe redirects and emails.
func (v *Validator) ValidateHTTPSURL(_ context.Context, rawURL string) ValidationResult {
	u, err := url.Parse(rawURL)
	if err != nil {
		return invalid("not a valid URL: %v", err)
	}
	if u.Scheme != "https" {
		return invalid("public URLs must use https, got %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return invalid("URL is missing a host")
	}
	if strings.HasSuffix(rawURL, "/") {
		return invalid("URL must not have a trailing slash")
	}
	return valid("URL OK")
}

// ValidateEmailAddress checks the billing sender address.
func (v *Validator) ValidateEmailAddress(_ context.Context, addr string) ValidationResult {
	if _, err := mail.ParseAddress(addr); err != nil {
		return invalid("not a valid email address: %v", err)
	}
	return valid("address OK")
}
