package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// envExport maps one SSM parameter to the environment variable name the API
// server's config loader reads.
type envExport struct {
	EnvVar      string
	CategoryKey string
	Secure      bool
	// Optional parameters that were skipped during bootstrap are emitted as
	// commented-out placeholders instead of failing the export.
	Optional bool
}

// exportedParameters lists the SSM-backed variables in .env output order.
var exportedParameters = []envExport{
	{EnvVar: "DATABASE_URL", CategoryKey: "database/url", Secure: true},
	{EnvVar: "STRIPE_SECRET_KEY", CategoryKey: "billing/stripe_secret_key", Secure: true},
	{EnvVar: "STRIPE_WEBHOOK_SECRET", CategoryKey: "billing/stripe_webhook_secret", Secure: true, Optional: true},
	{EnvVar: "ADMIN_API_KEY_HASH", CategoryKey: "security/admin_api_key_hash", Secure: true},
	{EnvVar: "API_EXTERNAL_URL", CategoryKey: "server/api_external_url"},
	{EnvVar: "DASHBOARD_URL", CategoryKey: "server/dashboard_url"},
	{EnvVar: "EMAIL_FROM_ADDRESS", CategoryKey: "email/from_address", Optional: true},
}

// localDefaults are appended so the exported file boots the API against
// LocalStack without further editing.
var localDefaults = [][2]string{
	{"APP_ENV", "local"},
	{"PORT", "8080"},
	{"LOG_LEVEL", "debug"},
	{"AWS_REGION", "us-east-1"},
	{"AWS_ENDPOINT_URL", "http://localhost:4566"},
	{"SQS_NOTIFICATIONS", "http://localhost:4566/000000000000/aiohub-billing-notifications"},
	{"ENABLE_METRICS", "false"},
}

// ExportEnvConfig configures ExportEnvFile.
type ExportEnvConfig struct {
	OutputPath  string
	Environment string
	SSM         *SSMManager
	Stderr      io.Writer
}

// ExportEnvFile reads the bootstrap parameters back from SSM and writes a
// .env file for local development. The file contains decrypted secrets, so
// it is created with 0600 permissions and must never be committed.
func ExportEnvFile(ctx context.Context, cfg ExportEnvConfig) error {
	if cfg.OutputPath == "" {
		return fmt.Errorf("export-env: output path must not be empty")
	}
	if cfg.SSM == nil {
		return fmt.Errorf("export-env: SSM manager is required")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# AIOHub local development environment\n")
	fmt.Fprintf(&b, "# Exported from SSM (/%s/aiohub/) at %s\n", cfg.Environment, time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "# Contains decrypted secrets. Do not commit.\n\n")

	for _, param := range exportedParameters {
		path := cfg.SSM.Path(param.CategoryKey)

		value, err := cfg.SSM.GetParameterValue(ctx, path, param.Secure)
		if err != nil {
			if param.Optional {
				fmt.Fprintf(&b, "# %s= (not set in SSM)\n", param.EnvVar)
				if cfg.Stderr != nil {
					fmt.Fprintf(cfg.Stderr, "  Skipping optional %s: %v\n", param.EnvVar, err)
				}
				continue
			}
			return fmt.Errorf("export-env: reading %s: %w", path, err)
		}

		fmt.Fprintf(&b, "%s=%s\n", param.EnvVar, quoteEnvValue(value))
	}

	b.WriteString("\n# Local defaults\n")
	for _, kv := range localDefaults {
		fmt.Fprintf(&b, "%s=%s\n", kv[0], kv[1])
	}

	if err := os.WriteFile(cfg.OutputPath, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("export-env: writing %s: %w", cfg.OutputPath, err)
	}

	return nil
}

// quoteEnvValue quotes values containing characters that break naive .env
// parsers. godotenv strips matching double quotes on load.
func quoteEnvValue(value string) string {
	if strings.ContainsAny(value, " #\"'`$") {
		return `"` + strings.ReplaceAll(value, `"`, `\"`) + `"`
	}
	return value
}
