// Package main is the entry point for the leukocyte binary: an inspecting
// reverse proxy that suppresses deny-listed headers and body paths and
// enforces an optional body path allow-list.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/symbiontlabs/leukocyte/pkg/appconfig"
	"github.com/symbiontlabs/leukocyte/pkg/logging"
	"github.com/symbiontlabs/leukocyte/pkg/policy"
	"github.com/symbiontlabs/leukocyte/pkg/proxy"
	"github.com/symbiontlabs/leukocyte/pkg/ruleset"
	"github.com/symbiontlabs/leukocyte/pkg/telemetry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "leukocyte",
		Short: "Request-inspection policy proxy",
		Long: `Leukocyte sits in front of an upstream service and inspects every request
against a hot-reloaded rule set: suppressed header names and body field
paths deny immediately, and a non-empty allow list restricts which body
field paths may appear at all.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCheckCmd())

	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the inspecting proxy",
		RunE:  runServe,
	}

	cmd.Flags().StringP("config", "c", "", "Path to the configuration file (YAML)")
	cmd.Flags().String("rules", "", "Path to the rule set file (overrides config)")
	cmd.Flags().String("data-listen", "", "Data plane listen address (overrides config)")
	cmd.Flags().String("admin-listen", "", "Admin listen address (overrides config)")
	cmd.Flags().String("upstream", "", "Upstream URL (overrides config)")
	cmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, cfg)

	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Environment: cfg.Telemetry.Environment,
		RulesetPath: cfg.Ruleset.Path,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry initialization failed: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	provider, err := ruleset.NewFileProvider(cfg.Ruleset.Path, logger)
	if err != nil {
		return err
	}
	defer provider.Close()

	srv, err := proxy.NewServer(cfg, provider, logger)
	if err != nil {
		return err
	}

	logger.Info("starting",
		"data_address", cfg.Server.DataAddress,
		"admin_address", cfg.Server.AdminAddress,
		"upstream", cfg.Server.Upstream,
		"ruleset", cfg.Ruleset.Path,
	)

	return srv.Run(ctx)
}

func applyFlagOverrides(cmd *cobra.Command, cfg *appconfig.Config) {
	if v, _ := cmd.Flags().GetString("rules"); v != "" {
		cfg.Ruleset.Path = v
	}
	if v, _ := cmd.Flags().GetString("data-listen"); v != "" {
		cfg.Server.DataAddress = v
	}
	if v, _ := cmd.Flags().GetString("admin-listen"); v != "" {
		cfg.Server.AdminAddress = v
	}
	if v, _ := cmd.Flags().GetString("upstream"); v != "" {
		cfg.Server.Upstream = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a request fixture against a rule set file",
		Long: `Check reads a rule set file plus an optional JSON body and headers and
prints the verdict the proxy would reach, without starting any listener.
Exits non-zero when the verdict is a denial.`,
		RunE: runCheck,
	}

	cmd.Flags().String("rules", "rules.json", "Path to the rule set file")
	cmd.Flags().String("body", "", "Path to a JSON body file, or - for stdin")
	cmd.Flags().StringArray("header", nil, "Request header as name:value (repeatable)")

	return cmd
}

type checkOutput struct {
	Action      string `json:"action"`
	Reason      string `json:"reason,omitempty"`
	DefenseType string `json:"defenseType,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Message     string `json:"message,omitempty"`
}

func runCheck(cmd *cobra.Command, _ []string) error {
	rulesPath, _ := cmd.Flags().GetString("rules")
	bodyPath, _ := cmd.Flags().GetString("body")
	headerFlags, _ := cmd.Flags().GetStringArray("header")

	data, err := os.ReadFile(rulesPath)
	if err != nil {
		return fmt.Errorf("read rule set: %w", err)
	}
	spec, err := ruleset.Parse(data)
	if err != nil {
		return err
	}
	cfg := policy.New(spec.SuppressionPaths, spec.AllowPaths)

	headers, err := parseHeaderFlags(headerFlags)
	if err != nil {
		return err
	}

	engine := policy.NewEngine()
	verdict := engine.CheckHeaders(headers, cfg)
	if verdict.Allowed() && bodyPath != "" {
		var body []byte
		if bodyPath == "-" {
			body, err = io.ReadAll(cmd.InOrStdin())
		} else {
			body, err = os.ReadFile(bodyPath)
		}
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		verdict = engine.InspectBody(body, cfg)
	}

	out := checkOutput{Action: string(verdict.Action)}
	if !verdict.Allowed() {
		out.Reason = string(verdict.Reason)
		out.DefenseType = verdict.DefenseType
		out.Subject = verdict.Subject
		out.Message = verdict.Message()
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(out); err != nil {
		return err
	}

	if !verdict.Allowed() {
		return fmt.Errorf("request denied: %s", verdict.Message())
	}
	return nil
}

func parseHeaderFlags(flags []string) ([]policy.Header, error) {
	headers := make([]policy.Header, 0, len(flags))
	for _, raw := range flags {
		name, value, found := strings.Cut(raw, ":")
		if !found || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q, expected name:value", raw)
		}
		headers = append(headers, policy.Header{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	return headers, nil
}
