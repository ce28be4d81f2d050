package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and logs the resolved settings
// most useful when diagnosing a run.
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("StockCheck", GetVersion())

	logger.Info().
		Str("version", GetFullVersion()).
		Str("environment", config.Environment).
		Int("default_concurrency", config.Stock.DefaultConcurrency).
		Int("max_concurrency", config.Stock.MaxConcurrency).
		Str("settle_delay", config.Stock.SettleDelay).
		Str("item_timeout", config.Stock.ItemTimeout).
		Bool("headless", config.Browser.Headless).
		Msg("StockCheck starting")
}
