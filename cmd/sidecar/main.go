package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eraser-privacy/unsubscribe-sidecar/internal/browser"
	"github.com/eraser-privacy/unsubscribe-sidecar/internal/config"
	"github.com/eraser-privacy/unsubscribe-sidecar/internal/dom"
	"github.com/eraser-privacy/unsubscribe-sidecar/internal/history"
	"github.com/eraser-privacy/unsubscribe-sidecar/internal/keywords"
	"github.com/eraser-privacy/unsubscribe-sidecar/internal/observability"
	"github.com/eraser-privacy/unsubscribe-sidecar/internal/unsubscribe"
	"github.com/eraser-privacy/unsubscribe-sidecar/internal/web"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
)

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file when one exists. An explicit --config
// must exist; the default path is optional.
func loadConfig() (*config.Config, error) {
	path := resolveConfigPath()
	if cfgFile == "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	return config.Load(path)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "sidecar",
		Short: "Unsubscribe sidecar - automated unsubscribe page handling",
		Long: `Sidecar opens unsubscribe links in an isolated headless browser, works
out what kind of page it is looking at, unchecks or selects whatever opts the
subscriber out, submits, and reports what happened with a screenshot.

It runs as a small HTTP service next to a mail application, or one-off from
the command line.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["skipConfig"] == "true" {
				return nil
			}
			var err error
			cfg, err = loadConfig()
			if err != nil {
				return err
			}
			observability.InitializeLogger(cfg.Logger)
			logger = observability.GetLogger()
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.unsubscribe-sidecar/config.yaml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(surveyCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(linksCmd())
	rootCmd.AddCommand(configCmd())

	err := rootCmd.Execute()
	observability.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunner(launcher dom.Launcher) (*unsubscribe.Runner, error) {
	dict, err := keywords.Load(cfg.Heuristics.DictionaryFile)
	if err != nil {
		return nil, err
	}
	return unsubscribe.NewRunner(launcher, dict, cfg.RunnerConfig(), logger.Named("runner")), nil
}

func browserRunner() (*unsubscribe.Runner, error) {
	return newRunner(browser.NewLauncher(cfg.LaunchConfig()))
}

// openHistory opens the run ledger, or returns nil when it is disabled and
// not required.
func openHistory(required bool) (*history.Store, error) {
	if !cfg.History.Enabled && !required {
		return nil, nil
	}
	path := cfg.History.Path
	if path == "" {
		path = history.DefaultDBPath()
	}
	store, err := history.NewStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return store, nil
}

func record(store *history.Store, req unsubscribe.Request, ev *unsubscribe.Evidence) {
	if store == nil || ev == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Add(ctx, history.FromEvidence(req, ev)); err != nil {
		logger.Warn("failed to record run", zap.String("run_id", ev.RunID), zap.Error(err))
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		Long: `Serve POST /run and GET /health. Callers authenticate with the
X-Internal header, which must equal server.token (or INTERNAL_TOKEN).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != 0 {
				cfg.Server.Port = port
			}
			return runServe()
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (overrides config)")

	return cmd
}

func runServe() error {
	if err := cfg.ValidateServer(); err != nil {
		return err
	}
	runner, err := browserRunner()
	if err != nil {
		return err
	}

	var store web.Store
	hs, err := openHistory(false)
	if err != nil {
		return err
	}
	if hs != nil {
		defer hs.Close()
		store = hs
	}

	server := web.NewServer(cfg.Server, runner, store, logger.Named("web"))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		<-sigChan
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.RequestTimeout+5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("shutdown did not finish cleanly", zap.Error(err))
		}
	}()

	return server.Start()
}

func runCmd() *cobra.Command {
	var req unsubscribe.Request
	var out string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the unsubscribe pipeline once against a URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runner, err := browserRunner()
			if err != nil {
				return err
			}
			store, err := openHistory(false)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			ev, runErr := runner.Run(ctx, req)
			record(store, req, ev)
			if out != "" && len(ev.Screenshot) > 0 {
				if err := os.WriteFile(out, ev.Screenshot, 0600); err != nil {
					return fmt.Errorf("failed to write screenshot: %w", err)
				}
			}
			if err := printJSON(ev); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&req.URL, "url", "", "Unsubscribe URL to open")
	cmd.Flags().StringVar(&req.Email, "email", "", "Subscriber email for pages that ask for it")
	cmd.Flags().StringVar(&out, "out", "", "Write the final screenshot (PNG) here")
	cmd.MarkFlagRequired("url")

	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a configuration file with the default settings",
		Annotations: map[string]string{"skipConfig": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(path, config.NewDefaultConfig()); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			fmt.Println("Set server.token (or INTERNAL_TOKEN) before running serve.")
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}
