package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, 10, config.Stock.DefaultConcurrency)
	assert.Equal(t, 50, config.Stock.MaxConcurrency)
	assert.Equal(t, time.Second, config.Stock.SettleDelayDuration())
	assert.Equal(t, 45*time.Second, config.Stock.ItemTimeoutDuration())
	assert.True(t, config.Stock.VariantOnly)
	assert.Contains(t, config.Sites, "401games")
	assert.Contains(t, config.Sites, "facetofacegames")
	require.NoError(t, config.Validate())
}

func TestLoadFromFiles_LaterFilesOverride(t *testing.T) {
	base := writeConfigFile(t, "base.toml", `
[server]
port = 9000

[stock]
default_concurrency = 4
settle_delay = "2s"

[sites]
example = "https://shop.example.com/search?q="
`)
	override := writeConfigFile(t, "override.toml", `
[stock]
default_concurrency = 6
`)

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, 9000, config.Server.Port)
	assert.Equal(t, 6, config.Stock.DefaultConcurrency)
	assert.Equal(t, 2*time.Second, config.Stock.SettleDelayDuration())
	assert.Equal(t, "https://shop.example.com/search?q=", config.Sites["example"])
	// defaults survive the merge
	assert.Equal(t, 50, config.Stock.MaxConcurrency)
}

func TestLoadFromFiles_EnvOverridesFiles(t *testing.T) {
	path := writeConfigFile(t, "stockcheck.toml", `
[stock]
default_concurrency = 4
variant_only = true
`)
	t.Setenv("STOCKCHECK_STOCK_CONCURRENCY", "12")
	t.Setenv("STOCKCHECK_STOCK_VARIANT_ONLY", "false")
	t.Setenv("STOCKCHECK_LOG_OUTPUT", "stdout, ,file")
	t.Setenv("STOCKCHECK_SERVER_PORT", "not-a-number")

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, 12, config.Stock.DefaultConcurrency)
	assert.False(t, config.Stock.VariantOnly)
	assert.Equal(t, []string{"stdout", "file"}, config.Logging.Output)
	assert.Equal(t, 8086, config.Server.Port, "unparseable env values are ignored")
}

func TestLoadFromFiles_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFromFiles(filepath.Join(t.TempDir(), "absent.toml"))
		assert.Error(t, err)
	})

	t.Run("invalid toml", func(t *testing.T) {
		path := writeConfigFile(t, "bad.toml", "[stock\nmax_concurrency = ")
		_, err := LoadFromFiles(path)
		assert.Error(t, err)
	})

	t.Run("invalid duration", func(t *testing.T) {
		path := writeConfigFile(t, "bad_duration.toml", "[stock]\nitem_timeout = \"soon\"\n")
		_, err := LoadFromFiles(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stock.item_timeout")
	})

	t.Run("zero max concurrency", func(t *testing.T) {
		path := writeConfigFile(t, "zero.toml", "[stock]\nmax_concurrency = 0\n")
		_, err := LoadFromFiles(path)
		assert.Error(t, err)
	})

	t.Run("unknown default site", func(t *testing.T) {
		path := writeConfigFile(t, "site.toml", "[stock]\ndefault_site = \"nowhere\"\n")
		_, err := LoadFromFiles(path)
		assert.Error(t, err)
	})
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("0 */6 * * *"))
	assert.NoError(t, ValidateSchedule("*/15 * * * *"))
	assert.Error(t, ValidateSchedule(""))
	assert.Error(t, ValidateSchedule("every six hours"))
	assert.Error(t, ValidateSchedule("0 0 */6 * * *"), "seconds field is not accepted")
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()

	ApplyFlagOverrides(config, 0, "")
	assert.Equal(t, 8086, config.Server.Port)
	assert.Equal(t, "localhost", config.Server.Host)

	ApplyFlagOverrides(config, 9999, "0.0.0.0")
	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
}

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^run_[0-9a-f-]{36}$`, a)
}
