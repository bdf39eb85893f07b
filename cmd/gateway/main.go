// Package main is the entry point for the API gateway.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vyrodovalexey/microgw/internal/config"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cliFlags holds command line flags shared by the subcommands.
type cliFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	watch      bool
}

func newRootCmd() *cobra.Command {
	flags := &cliFlags{}

	cmd := &cobra.Command{
		Use:          "microgw",
		Short:        "Edge API gateway",
		Long:         "microgw routes requests by path prefix to backend services, validating bearer tokens and guarding each backend with a circuit breaker.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c",
		getEnvOrDefault("GATEWAY_CONFIG_PATH", "configs/gateway.yaml"), "Path to configuration file")
	pf.StringVar(&flags.logLevel, "log-level", getEnvOrDefault("GATEWAY_LOG_LEVEL", ""),
		"Log level (debug, info, warn, error); overrides the configuration file")
	pf.StringVar(&flags.logFormat, "log-format", getEnvOrDefault("GATEWAY_LOG_FORMAT", ""),
		"Log format (json, console); overrides the configuration file")
	pf.BoolVarP(&flags.watch, "watch", "w", getEnvBool("GATEWAY_WATCH_CONFIG", false),
		"Reload routes and breaker policies when the configuration file changes")

	cmd.AddCommand(newServeCmd(flags), newValidateCmd(flags), newVersionCmd())
	return cmd
}

func newServeCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
}

func newValidateCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadAndValidate(flags.configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration %s is valid: %d routes, %d breaker policies\n",
				flags.configPath, len(cfg.Routes), len(cfg.BreakerPolicies))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "microgw version %s\n", version)
			fmt.Fprintf(out, "  Build time: %s\n", buildTime)
			fmt.Fprintf(out, "  Git commit: %s\n", gitCommit)
		},
	}
}

// runServe runs the gateway until SIGINT or SIGTERM.
func runServe(ctx context.Context, flags *cliFlags) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, flags)
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns the environment variable as a boolean, or defaultValue
// when it is unset or unparsable.
func getEnvBool(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return b
}
