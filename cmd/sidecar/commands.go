package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eraser-privacy/unsubscribe-sidecar/internal/browser/htmlpage"
	"github.com/eraser-privacy/unsubscribe-sidecar/internal/history"
	"github.com/eraser-privacy/unsubscribe-sidecar/internal/inbox"
	"github.com/eraser-privacy/unsubscribe-sidecar/internal/keywords"
	"github.com/eraser-privacy/unsubscribe-sidecar/internal/unsubscribe"
)

func surveyCmd() *cobra.Command {
	var file, pageURL, email string
	var dump bool

	cmd := &cobra.Command{
		Use:   "survey",
		Short: "Run the pipeline over a saved HTML page without a browser",
		Long: `Load a saved unsubscribe page into an in-memory document and run the
full pipeline over it. Links and form posts only resolve to the page itself,
so this shows which strategy and actions a live run would take.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read page: %w", err)
			}
			launcher := htmlpage.NewLauncher(htmlpage.Site{pageURL: string(data)})
			runner, err := newRunner(launcher)
			if err != nil {
				return err
			}

			ev, runErr := runner.Run(cmd.Context(), unsubscribe.Request{URL: pageURL, Email: email})
			if err := printJSON(ev); err != nil {
				return err
			}
			if dump {
				for _, p := range launcher.Pages() {
					fmt.Println(p.Snapshot())
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Saved HTML page")
	cmd.Flags().StringVar(&pageURL, "url", "https://offline.invalid/unsubscribe", "URL the page is served as")
	cmd.Flags().StringVar(&email, "email", "", "Subscriber email")
	cmd.Flags().BoolVar(&dump, "dump", false, "Print the page HTML after the run")
	cmd.MarkFlagRequired("file")

	return cmd
}

type batchResult struct {
	*unsubscribe.Evidence
	ScreenshotFile string `json:"screenshot_file,omitempty"`
}

func batchCmd() *cobra.Command {
	var file, outDir string
	var concurrency int

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run the pipeline over a list of URLs",
		Long: `Read one URL per line (blank lines and # comments are skipped) and run
each in its own browser. Results go to results.jsonl in --out, screenshots
next to it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if concurrency < 1 {
				return fmt.Errorf("--concurrency must be at least 1")
			}
			urls, err := readURLs(file)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0700); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			return runBatch(cmd, urls, outDir, concurrency)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "File with one URL per line")
	cmd.Flags().StringVar(&outDir, "out", "sidecar-results", "Output directory")
	cmd.Flags().IntVar(&concurrency, "concurrency", 2, "Browsers running at once")
	cmd.MarkFlagRequired("file")

	return cmd
}

func readURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open url list: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read url list: %w", err)
	}
	return urls, nil
}

func runBatch(cmd *cobra.Command, urls []string, outDir string, concurrency int) error {
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

	results := make([]batchResult, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			req := unsubscribe.Request{URL: u}
			// Per-URL failures are part of the results, not batch errors.
			ev, _ := runner.Run(gctx, req)
			record(store, req, ev)

			res := batchResult{Evidence: ev}
			if len(ev.Screenshot) > 0 {
				res.ScreenshotFile = ev.RunID + ".png"
				if err := os.WriteFile(filepath.Join(outDir, res.ScreenshotFile), ev.Screenshot, 0600); err != nil {
					return fmt.Errorf("failed to write screenshot: %w", err)
				}
			}
			results[i] = res
			logger.Info("batch item done", zap.Int("index", i), zap.String("status", string(ev.Status)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(outDir, "results.jsonl"), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}
	}
	fmt.Printf("%d runs, %d failed, results in %s\n", len(results), failed, outDir)
	return nil
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs and status counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(true)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printHistory(stats, runs, limit)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of recent runs to show")

	return cmd
}

func printHistory(stats map[unsubscribe.Status]int, runs []history.Run, limit int) {
	total := 0
	for _, n := range stats {
		total += n
	}
	fmt.Println("Unsubscribe runs")
	fmt.Printf("  Total: %d\n", total)
	for _, s := range []unsubscribe.Status{
		unsubscribe.StatusNavigated,
		unsubscribe.StatusSubmitted,
		unsubscribe.StatusFormSubmitted,
		unsubscribe.StatusFormInteracted,
		unsubscribe.StatusVisited,
		unsubscribe.StatusError,
	} {
		if stats[s] > 0 {
			fmt.Printf("  %s: %d\n", s, stats[s])
		}
	}

	if len(runs) == 0 {
		return
	}
	fmt.Println()
	fmt.Printf("Recent runs (last %d)\n", limit)
	for _, r := range runs {
		fmt.Printf("%s  %-16s %-28s %s\n", r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Status, r.Strategy, r.Host)
		if r.Error != "" {
			fmt.Printf("    error: %s\n", r.Error)
		}
	}
}

func linksCmd() *cobra.Command {
	var file, email string
	var run bool

	cmd := &cobra.Command{
		Use:   "links",
		Short: "List unsubscribe links found in a saved email (.eml)",
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := inbox.ParseFile(file)
			if err != nil {
				return err
			}
			dict, err := keywords.Load(cfg.Heuristics.DictionaryFile)
			if err != nil {
				return err
			}
			links := inbox.ExtractLinks(msg, dict)

			if !run {
				return printJSON(map[string]any{
					"from":    msg.From,
					"subject": msg.Subject,
					"links":   links,
					"mailto":  inbox.MailtoTargets(msg),
				})
			}
			if len(links) == 0 {
				return fmt.Errorf("no unsubscribe link in %s", file)
			}

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
			req := unsubscribe.Request{URL: links[0].URL, Email: email}
			ev, runErr := runner.Run(cmd.Context(), req)
			record(store, req, ev)
			if err := printJSON(ev); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&file, "eml", "", "Message file (RFC 5322)")
	cmd.Flags().StringVar(&email, "email", "", "Subscriber email for pages that ask for it")
	cmd.Flags().BoolVar(&run, "run", false, "Run the pipeline on the first link found")
	cmd.MarkFlagRequired("eml")

	return cmd
}
