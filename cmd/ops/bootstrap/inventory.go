package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ParameterType indicates whether an SSM parameter is stored as a
// SecureString (encrypted) or a plain String.
type ParameterType int

const (
	ParamSecureString ParameterType = iota
	ParamString
)

// InputSource describes how the value for a step is obtained.
type InputSource int

const (
	// SourcePrompt means the operator provides the value interactively.
	SourcePrompt InputSource = iota
	// SourceGenerated means the value is generated internally.
	SourceGenerated
)

// Step defines a single parameter populated during bootstrap.
type Step struct {
	// HumanLabel is the display name shown to the operator.
	HumanLabel string

	// CategoryKey is the category/key portion of the SSM path, e.g.
	// "billing/stripe_secret_key".
	CategoryKey string

	ParamType ParameterType
	Source    InputSource

	// Prompt is the instructional text shown when Source is SourcePrompt.
	Prompt string

	// ValidateFn validates operator input. Nil accepts any non-empty value.
	ValidateFn func(ctx context.Context, input string) ValidationResult

	// IsSecret masks the input during entry.
	IsSecret bool

	// Optional steps may be skipped with empty input; --skip-optional skips
	// them without prompting.
	Optional bool

	// Phase groups steps for display.
	Phase string
}

// maxRetries bounds how often the operator can re-enter a failing value.
const maxRetries = 5

var errSkipped = errors.New("parameter skipped by operator")

// BuildInventory constructs the ordered parameter list for the platform.
// Category/key paths line up with the *_SSM_PARAM indirections the API
// server's config loader resolves at startup.
func BuildInventory(v *Validator) []Step {
	return []Step{
		{
			HumanLabel:  "Database URL",
			CategoryKey: "database/url",
			ParamType:   ParamSecureString,
			Source:      SourcePrompt,
			Prompt: `1. Create the Postgres database (RDS or Supabase, pooled connection).
   2. Copy the connection string and substitute the real password.
   3. Paste the full postgres://... string here:`,
			ValidateFn: v.ValidateDatabaseURL,
			IsSecret:   true,
			Phase:      "External Accounts",
		},
		{
			HumanLabel:  "Stripe Secret Key",
			CategoryKey: "billing/stripe_secret_key",
			ParamType:   ParamSecureString,
			Source:      SourcePrompt,
			Prompt: `1. Go to Stripe Dashboard > Developers > API Keys.
   2. Copy the Secret Key (sk_...).
   3. Paste it here:`,
			ValidateFn: v.ValidateStripeSecretKey,
			IsSecret:   true,
			Phase:      "External Accounts",
		},
		{
			HumanLabel:  "Stripe Webhook Signing Secret (optional)",
			CategoryKey: "billing/stripe_webhook_secret",
			ParamType:   ParamSecureString,
			Source:      SourcePrompt,
			Prompt: `After registering the webhook endpoint in the Stripe Dashboard, paste
   the signing secret (whsec_...). Press Enter to skip if the endpoint is
   not registered yet; the API acknowledges webhooks as unconfigured until
   this is set:`,
			ValidateFn: v.ValidateWebhookSecret,
			IsSecret:   true,
			Optional:   true,
			Phase:      "External Accounts",
		},
		{
			HumanLabel:  "API External URL",
			CategoryKey: "server/api_external_url",
			ParamType:   ParamString,
			Source:      SourcePrompt,
			Prompt:      `Public base URL of the billing API (e.g. https://api.aiohub.dev):`,
			ValidateFn:  v.ValidateHTTPSURL,
			Phase:       "Public URLs",
		},
		{
			HumanLabel:  "Dashboard URL",
			CategoryKey: "server/dashboard_url",
			ParamType:   ParamString,
			Source:      SourcePrompt,
			Prompt:      `Public base URL of the dashboard, used for Stripe redirect targets (e.g. https://app.aiohub.dev):`,
			ValidateFn:  v.ValidateHTTPSURL,
			Phase:       "Public URLs",
		},
		{
			HumanLabel:  "Billing From Address (optional)",
			CategoryKey: "email/from_address",
			ParamType:   ParamString,
			Source:      SourcePrompt,
			Prompt:      `SES-verified sender address for billing emails (Enter to use the default):`,
			ValidateFn:  v.ValidateEmailAddress,
			Optional:    true,
			Phase:       "Email",
		},
		{
			HumanLabel:  "Admin API Key",
			CategoryKey: "security/admin_api_key_hash",
			ParamType:   ParamSecureString,
			Source:      SourceGenerated,
			Phase:       "Internal Secrets",
		},
	}
}

// Runner orchestrates the bootstrap loop. Separated from main() so tests can
// inject scripted stdin and a mock SSM client.
type Runner struct {
	SSM       *SSMManager
	Validator *Validator
	Stdin     io.Reader
	Stderr    io.Writer

	// SkipOptional auto-skips optional steps without prompting.
	SkipOptional bool

	// scanner is shared across the session: separate bufio.Scanner instances
	// would read ahead and lose buffered input.
	scanner *bufio.Scanner

	// inventoryOverride lets tests inject simplified steps.
	inventoryOverride []Step
}

// NewRunner creates a Runner with production dependencies.
func NewRunner(s *Session) *Runner {
	return &Runner{
		SSM:       NewSSMManager(s),
		Validator: NewValidator(),
		Stdin:     os.Stdin,
		Stderr:    os.Stderr,
	}
}

// Run walks the inventory: probe SSM for existing values, obtain input,
// validate, write.
func (r *Runner) Run(ctx context.Context) error {
	inventory := r.inventoryOverride
	if inventory == nil {
		inventory = BuildInventory(r.Validator)
	}

	var currentPhase string
	var results []stepResult

	for i, step := range inventory {
		if step.Phase != currentPhase {
			currentPhase = step.Phase
			fmt.Fprintf(r.Stderr, "\n============================================================\n")
			fmt.Fprintf(r.Stderr, "  Phase: %s\n", currentPhase)
			fmt.Fprintf(r.Stderr, "============================================================\n")
		}

		fmt.Fprintf(r.Stderr, "\n[%d/%d] %s\n", i+1, len(inventory), step.HumanLabel)

		result, err := r.processStep(ctx, step)
		if err != nil {
			return fmt.Errorf("step %q failed: %w", step.HumanLabel, err)
		}
		results = append(results, result)
	}

	r.printSummary(results)
	return nil
}

type stepResult struct {
	Label  string
	Action string // "written", "skipped", "overwritten", "generated"
	Path   string
}

func (r *Runner) processStep(ctx context.Context, step Step) (stepResult, error) {
	path := r.SSM.Path(step.CategoryKey)
	result := stepResult{Label: step.HumanLabel, Path: path}

	if step.Optional && r.SkipOptional {
		fmt.Fprintf(r.Stderr, "  Skipped (--skip-optional)\n")
		result.Action = "skipped"
		return result, nil
	}

	// Idempotency: probe before prompting so re-runs never force the
	// operator to re-enter everything.
	exists, err := r.SSM.ParameterExists(ctx, path)
	if err != nil {
		return result, fmt.Errorf("checking existence of %s: %w", path, err)
	}

	if exists {
		fmt.Fprintf(r.Stderr, "  Parameter already exists: %s\n", path)
		choice, err := r.promptChoice("  [S]kip or [O]verwrite? ", map[string]string{
			"s": "skip", "skip": "skip", "o": "overwrite", "overwrite": "overwrite",
		})
		if err != nil {
			return result, fmt.Errorf("reading skip/overwrite choice: %w", err)
		}
		if choice == "skip" {
			fmt.Fprintf(r.Stderr, "  Skipped.\n")
			result.Action = "skipped"
			return result, nil
		}
	}

	var value string
	switch step.Source {
	case SourcePrompt:
		value, err = r.promptAndValidate(ctx, step)
		if errors.Is(err, errSkipped) {
			fmt.Fprintf(r.Stderr, "  Skipped.\n")
			result.Action = "skipped"
			return result, nil
		}
		if err != nil {
			return result, err
		}

	case SourceGenerated:
		// The admin API key is the only generated step. The plaintext is
		// shown exactly once; only the bcrypt hash reaches SSM.
		plaintext, hash, genErr := GenerateAdminAPIKey()
		if genErr != nil {
			return result, genErr
		}
		fmt.Fprintf(r.Stderr, "\n  Generated admin API key. Record it now; it is not stored anywhere:\n\n")
		fmt.Fprintf(r.Stderr, "      %s\n\n", plaintext)
		value = hash
	}

	if step.ParamType == ParamSecureString {
		err = r.SSM.PutSecret(ctx, path, value, exists)
	} else {
		err = r.SSM.PutString(ctx, path, value)
	}
	if err != nil {
		return result, fmt.Errorf("writing SSM parameter %s: %w", path, err)
	}

	switch {
	case exists:
		result.Action = "overwritten"
	case step.Source == SourceGenerated:
		result.Action = "generated"
	default:
		result.Action = "written"
	}

	fmt.Fprintf(r.Stderr, "  Stored: %s\n", path)
	return result, nil
}

// promptAndValidate prompts for input, validates, and retries up to
// maxRetries times. Secret inputs are masked on real terminals.
func (r *Runner) promptAndValidate(ctx context.Context, step Step) (string, error) {
	fmt.Fprintf(r.Stderr, "\n  %s\n\n", step.Prompt)

	for attempt := 1; attempt <= maxRetries; attempt++ {
		var input string
		var err error

		if step.IsSecret {
			input, err = r.readSecretInput("  > ")
		} else {
			input, err = r.readInput("  > ")
		}
		if err != nil {
			return "", fmt.Errorf("reading input for %s: %w", step.HumanLabel, err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			if step.Optional {
				return "", errSkipped
			}
			choice, choiceErr := r.promptChoice("  No input received. [S]kip this parameter or [R]etry? ", map[string]string{
				"s": "skip", "skip": "skip", "r": "retry", "retry": "retry",
			})
			if choiceErr != nil {
				return "", fmt.Errorf("reading skip/retry choice for %s: %w", step.HumanLabel, choiceErr)
			}
			if choice == "skip" {
				return "", errSkipped
			}
			attempt--
			continue
		}

		if step.IsSecret {
			// Acknowledge by length only; secrets are never echoed.
			fmt.Fprintf(r.Stderr, "  Received %d chars.\n", len(input))
		}

		if step.ValidateFn != nil {
			vr := step.ValidateFn(ctx, input)
			if !vr.Valid {
				fmt.Fprintf(r.Stderr, "  Validation failed: %s\n", vr.Message)
				if attempt < maxRetries {
					fmt.Fprintf(r.Stderr, "  Try again (%d/%d).\n", attempt, maxRetries)
				}
				continue
			}
			fmt.Fprintf(r.Stderr, "  Validated: %s\n", vr.Message)
		}

		return input, nil
	}

	return "", fmt.Errorf("maximum retries (%d) exceeded for %s", maxRetries, step.HumanLabel)
}

func (r *Runner) getScanner() *bufio.Scanner {
	if r.scanner == nil {
		r.scanner = bufio.NewScanner(r.Stdin)
	}
	return r.scanner
}

func (r *Runner) scanLine() (string, error) {
	s := r.getScanner()
	if !s.Scan() {
		if err := s.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.Text(), nil
}

func (r *Runner) readInput(prompt string) (string, error) {
	fmt.Fprint(r.Stderr, prompt)
	return r.scanLine()
}

// readSecretInput disables terminal echo when stdin is a real terminal and
// falls back to plain line reading for piped input (tests).
func (r *Runner) readSecretInput(prompt string) (string, error) {
	fmt.Fprint(r.Stderr, prompt)

	if f, ok := r.Stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		password, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(r.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading secret input: %w", err)
		}
		return string(password), nil
	}

	return r.scanLine()
}

// promptChoice loops until the operator enters one of the accepted answers.
func (r *Runner) promptChoice(prompt string, accepted map[string]string) (string, error) {
	for {
		fmt.Fprint(r.Stderr, prompt)
		line, err := r.scanLine()
		if err != nil {
			return "", err
		}
		if choice, ok := accepted[strings.TrimSpace(strings.ToLower(line))]; ok {
			return choice, nil
		}
		fmt.Fprintf(r.Stderr, "  Unrecognized answer.\n")
	}
}

func (r *Runner) printSummary(results []stepResult) {
	fmt.Fprintf(r.Stderr, "\n============================================================\n")
	fmt.Fprintf(r.Stderr, "  Bootstrap Summary\n")
	fmt.Fprintf(r.Stderr, "============================================================\n")

	counts := map[string]int{}
	for _, res := range results {
		counts[res.Action]++
		fmt.Fprintf(r.Stderr, "  %-13s %s\n", "["+strings.ToUpper(res.Action)+"]", res.Label)
	}

	fmt.Fprintf(r.Stderr, "------------------------------------------------------------\n")
	fmt.Fprintf(r.Stderr, "  Total: %d parameters\n", len(results))
	fmt.Fprintf(r.Stderr, "  Written: %d | Generated: %d | Overwritten: %d | Skipped: %d\n",
		counts["written"], counts["generated"], counts["overwritten"], counts["skipped"])
	fmt.Fprintf(r.Stderr, "============================================================\n\n")
}
