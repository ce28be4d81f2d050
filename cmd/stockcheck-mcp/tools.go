package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// createCheckStockTool returns the check_stock tool definition
func createCheckStockTool() mcp.Tool {
	return mcp.NewTool("check_stock",
		mcp.WithDescription("Check storefront stock for an artist's collection and list the cards available to buy"),
		mcp.WithString("artist",
			mcp.Required(),
			mcp.Description("Artist whose stored collection is checked"),
		),
		mcp.WithString("site",
			mcp.Description("Storefront site key (default from config)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum cards to check (default: all)"),
		),
		mcp.WithNumber("concurrency",
			mcp.Description("Concurrent page checks (default from config)"),
		),
		mcp.WithBoolean("variant_only",
			mcp.Description("Only count variant (holo) listings as available (default from config)"),
		),
		mcp.WithNumber("timeout_seconds",
			mcp.Description("How long to wait for the run before returning its id (default: 300)"),
		),
	)
}

// createCancelCheckTool returns the cancel_check tool definition
func createCancelCheckTool() mcp.Tool {
	return mcp.NewTool("cancel_check",
		mcp.WithDescription("Cancel the running stock check"),
		mcp.WithString("run_id",
			mcp.Description("Run to cancel (default: whatever is running)"),
		),
	)
}

// createGetRunTool returns the get_run tool definition
func createGetRunTool() mcp.Tool {
	return mcp.NewTool("get_run",
		mcp.WithDescription("Show a stock check run and the items it found available"),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("Run ID (format: run_{uuid})"),
		),
	)
}

// createListRunsTool returns the list_runs tool definition
func createListRunsTool() mcp.Tool {
	return mcp.NewTool("list_runs",
		mcp.WithDescription("List recent stock check runs, newest first"),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default: 10, max: 100)"),
		),
	)
}

// createListCollectionsTool returns the list_collections tool definition
func createListCollectionsTool() mcp.Tool {
	return mcp.NewTool("list_collections",
		mcp.WithDescription("List stored artist collections with owned and ignored counts"),
	)
}
