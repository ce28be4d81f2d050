package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/stockcheck/internal/app"
	"github.com/ternarybob/stockcheck/internal/common"
	"github.com/ternarybob/stockcheck/internal/models"
	"github.com/ternarybob/stockcheck/internal/services/stock"
)

// runCheck runs one stock check from the terminal and prints the available
// items. Ctrl+C cancels the run; pages still in flight are discarded.
func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	var configFiles configPaths
	fs.Var(&configFiles, "config", "Configuration file path (can be specified multiple times)")
	fs.Var(&configFiles, "c", "Configuration file path (shorthand)")
	artist := fs.String("artist", "", "Check the stored collection for this artist")
	itemsFile := fs.String("items", "", "JSON file holding an array of items to check")
	site := fs.String("site", "", "Storefront site key (default from config)")
	limit := fs.Int("limit", 0, "Maximum number of cards to check (0 = all)")
	concurrency := fs.Int("concurrency", 0, "Concurrent page checks (0 = config default)")
	variantOnly := fs.Bool("variant-only", true, "Only count variant (holo) listings as available")
	plain := fs.Bool("plain", false, "Print plain progress lines instead of the interactive view")
	hold := fs.Bool("hold", false, "Keep available pages open until interrupted (browser.headless = false)")
	fs.Parse(args)

	if (*artist == "") == (*itemsFile == "") {
		fmt.Fprintln(os.Stderr, "check: exactly one of -artist or -items is required")
		fs.Usage()
		return 2
	}

	config, _, err := loadConfig(configFiles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "check: failed to load configuration: %v\n", err)
		return 1
	}

	// The interactive view owns the terminal; logs go to file only.
	if !*plain {
		config.Logging.Output = []string{"file"}
	}
	config.Schedule.Enabled = false
	logger := common.SetupLogger(config)

	application, err := app.New(config, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "check: failed to initialize: %v\n", err)
		return 1
	}
	defer application.Close()

	ctx := context.Background()

	var items []models.Item
	if *itemsFile != "" {
		items, err = readItems(*itemsFile)
	} else {
		items, err = application.CollectionService.BuildPool(ctx, *artist, *site, *limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "check: %v\n", err)
		return 1
	}

	if *concurrency == 0 {
		*concurrency = config.Stock.DefaultConcurrency
	}

	run, err := application.StockService.StartCheck(ctx, stock.StartRequest{
		Items:            items,
		VariantOnly:      *variantOnly,
		ConcurrencyLimit: *concurrency,
		Artist:           models.NormalizeArtist(*artist),
		Site:             *site,
		TriggeredBy:      "cli",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "check: %v\n", err)
		return 1
	}

	var outcome stock.Outcome
	if *plain {
		outcome = watchPlain(ctx, run, logger)
	} else {
		final, err := tea.NewProgram(newCheckModel(run, *artist)).Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "check: %v\n", err)
			run.Cancel()
		}
		if m, ok := final.(checkModel); ok && m.outcome != nil {
			outcome = *m.outcome
		} else {
			outcome, _ = run.Wait(ctx)
		}
	}

	fmt.Print(renderSummary(outcome))

	if *hold && len(outcome.Available) > 0 {
		fmt.Println(hintStyle.Render("Pages left open. Press Ctrl+C to close them."))
		waitForInterrupt()
	}

	if outcome.Cancelled {
		return 130
	}
	return 0
}

func readItems(path string) ([]models.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	var items []models.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse items %s: %w", path, err)
	}
	return items, nil
}

// watchPlain logs progress once a second and cancels on interrupt
func watchPlain(ctx context.Context, run *stock.Run, logger arbor.ILogger) stock.Outcome {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	last := -1
	for {
		select {
		case <-run.Done():
			outcome, _ := run.Wait(ctx)
			return outcome
		case <-sigChan:
			logger.Info().Str("run_id", run.ID()).Msg("Interrupt received, cancelling stock check")
			run.Cancel()
		case <-ticker.C:
			if checked := run.Checked(); checked != last {
				last = checked
				logger.Info().Int("checked", checked).Int("total", run.Total()).Msg("Stock check progress")
			}
		}
	}
}

func waitForInterrupt() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	<-sigChan
}
