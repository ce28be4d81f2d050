package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/stockcheck/internal/common"
	"github.com/ternarybob/stockcheck/internal/handlers"
	"github.com/ternarybob/stockcheck/internal/models"
	"github.com/ternarybob/stockcheck/internal/services/stock"
)

const defaultCheckTimeout = 300 * time.Second

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

// handleCheckStock implements the check_stock tool. It waits for the run up
// to timeout_seconds; a run still going after that keeps running and its id
// is returned for get_run.
func handleCheckStock(stockService handlers.StockService, collections handlers.CollectionService, defaults common.StockConfig, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		artist, err := request.RequireString("artist")
		if err != nil || artist == "" {
			return textResult("Error: artist parameter is required"), nil
		}

		site := request.GetString("site", "")
		limit := request.GetInt("limit", 0)
		concurrency := request.GetInt("concurrency", defaults.DefaultConcurrency)
		variantOnly := request.GetBool("variant_only", defaults.VariantOnly)
		timeout := time.Duration(request.GetInt("timeout_seconds", 0)) * time.Second
		if timeout <= 0 {
			timeout = defaultCheckTimeout
		}

		items, err := collections.BuildPool(ctx, artist, site, limit)
		if err != nil {
			logger.Warn().Err(err).Str("artist", artist).Msg("Failed to build candidate pool")
			return textResult(fmt.Sprintf("Could not build candidates for %s: %v", artist, err)), nil
		}

		run, err := stockService.StartCheck(ctx, stock.StartRequest{
			Items:            items,
			VariantOnly:      variantOnly,
			ConcurrencyLimit: concurrency,
			Artist:           models.NormalizeArtist(artist),
			Site:             site,
			TriggeredBy:      "mcp",
		})
		if err != nil {
			logger.Error().Err(err).Msg("Stock check failed to start")
			return textResult(fmt.Sprintf("Stock check error: %v", err)), nil
		}

		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		outcome, err := run.Wait(waitCtx)
		if err != nil {
			p := run.Progress()
			return textResult(formatPending(p.RunID, p.Checked, p.Total)), nil
		}
		return textResult(formatOutcome(artist, outcome)), nil
	}
}

// handleCancelCheck implements the cancel_check tool
func handleCancelCheck(stockService handlers.StockService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runID := request.GetString("run_id", "")

		if err := stockService.CancelCheck(runID); err != nil {
			if errors.Is(err, stock.ErrRunNotFound) {
				return textResult("No matching stock check is running."), nil
			}
			logger.Error().Err(err).Str("run_id", runID).Msg("Cancel failed")
			return textResult(fmt.Sprintf("Cancel error: %v", err)), nil
		}
		return textResult("Cancellation requested. Checks already in flight finish and are discarded."), nil
	}
}

// handleGetRun implements the get_run tool
func handleGetRun(stockService handlers.StockService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runID, err := request.RequireString("run_id")
		if err != nil || runID == "" {
			return textResult("Error: run_id parameter is required"), nil
		}

		record, err := stockService.GetRun(ctx, runID)
		if err != nil {
			logger.Debug().Err(err).Str("run_id", runID).Msg("GetRun failed")
			return textResult(fmt.Sprintf("Run not found: %v", err)), nil
		}
		return textResult(formatRun(record)), nil
	}
}

// handleListRuns implements the list_runs tool
func handleListRuns(stockService handlers.StockService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := request.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		runs, err := stockService.ListRuns(ctx, limit)
		if err != nil {
			logger.Error().Err(err).Msg("ListRuns failed")
			return textResult(fmt.Sprintf("Error listing runs: %v", err)), nil
		}
		return textResult(formatRunList(runs)), nil
	}
}

// handleListCollections implements the list_collections tool
func handleListCollections(collections handlers.CollectionService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		summaries, err := collections.List(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("List collections failed")
			return textResult(fmt.Sprintf("Error listing collections: %v", err)), nil
		}
		return textResult(formatCollections(summaries, collections.Sites())), nil
	}
}
