package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ternarybob/stockcheck/internal/app"
	"github.com/ternarybob/stockcheck/internal/common"
)

func main() {
	configPath := os.Getenv("STOCKCHECK_CONFIG")
	if configPath == "" {
		configPath = "stockcheck.toml"
	}

	var paths []string
	if _, err := os.Stat(configPath); err == nil {
		paths = append(paths, configPath)
	}

	config, err := common.LoadFromFiles(paths...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the MCP protocol; log to file only and keep it quiet
	config.Logging.Output = []string{"file"}
	if config.Logging.Level == "info" || config.Logging.Level == "debug" {
		config.Logging.Level = "warn"
	}
	config.Schedule.Enabled = false
	logger := common.SetupLogger(config)

	application, err := app.New(config, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	mcpServer := server.NewMCPServer(
		"stockcheck",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	stockSvc := application.StockService
	collectionSvc := application.CollectionService

	mcpServer.AddTool(createCheckStockTool(), handleCheckStock(stockSvc, collectionSvc, config.Stock, logger))
	mcpServer.AddTool(createCancelCheckTool(), handleCancelCheck(stockSvc, logger))
	mcpServer.AddTool(createGetRunTool(), handleGetRun(stockSvc, logger))
	mcpServer.AddTool(createListRunsTool(), handleListRuns(stockSvc, logger))
	mcpServer.AddTool(createListCollectionsTool(), handleListCollections(collectionSvc, logger))

	// Blocks on stdio
	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Error().Err(err).Msg("MCP server failed")
	}
}
