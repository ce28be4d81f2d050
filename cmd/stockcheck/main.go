package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/stockcheck/internal/app"
	"github.com/ternarybob/stockcheck/internal/common"
	"github.com/ternarybob/stockcheck/internal/server"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "check" {
		os.Exit(runCheck(os.Args[2:]))
	}
	os.Exit(runServe(os.Args[1:]))
}

// loadConfig loads defaults -> files -> .env -> env. Without explicit files
// it looks for stockcheck.toml in the working directory, then in
// deployments/local.
func loadConfig(files configPaths) (*common.Config, configPaths, error) {
	if len(files) == 0 {
		if _, err := os.Stat("stockcheck.toml"); err == nil {
			files = append(files, "stockcheck.toml")
		} else if _, err := os.Stat("deployments/local/stockcheck.toml"); err == nil {
			files = append(files, "deployments/local/stockcheck.toml")
		}
	}

	config, err := common.LoadFromFiles(files...)
	return config, files, err
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("stockcheck", flag.ExitOnError)
	var configFiles configPaths
	fs.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	fs.Var(&configFiles, "c", "Configuration file path (shorthand)")
	serverPort := fs.Int("port", 0, "Server port (overrides config)")
	serverPortP := fs.Int("p", 0, "Server port (shorthand, overrides config)")
	serverHost := fs.String("host", "", "Server host (overrides config)")
	showVersion := fs.Bool("version", false, "Print version information")
	showVersionV := fs.Bool("v", false, "Print version information (shorthand)")
	fs.Parse(args)

	if *showVersion || *showVersionV {
		fmt.Printf("StockCheck version %s\n", common.GetFullVersion())
		return 0
	}

	finalPort := *serverPort
	if *serverPortP != 0 {
		finalPort = *serverPortP
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner
	config, configFiles, err := loadConfig(configFiles)
	if err != nil {
		arbor.NewLogger().Error().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		return 1
	}

	common.ApplyFlagOverrides(config, finalPort, *serverHost)
	common.LoadVersionFromFile()
	logger := common.SetupLogger(config)
	common.InstallCrashHandler("logs")
	defer common.RecoverWithCrashFile()
	common.PrintBanner(config, logger)

	logger.Info().
		Strs("config_files", configFiles).
		Int("port", config.Server.Port).
		Str("host", config.Server.Host).
		Str("storage", config.Storage.Badger.Path).
		Msg("Application configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize application")
		return 1
	}
	defer application.Close()

	srv := server.New(application)
	serverErr := make(chan error, 1)
	common.SafeGo(logger, "http-server", func() {
		serverErr <- srv.Start()
	})

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Server ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info().Msg("Interrupt signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("Server failed")
			return 1
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	logger.Info().Msg("Server stopped")
	return 0
}
