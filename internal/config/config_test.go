package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autopost.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Engagement.MaxConversationsToCheck)
	assert.Equal(t, 5, cfg.Engagement.MaxResponsesToSend)
	assert.Equal(t, 15*time.Minute, cfg.Engagement.MinTimeBetweenChecks)
	assert.Equal(t, 2*time.Second, cfg.Engagement.InterResponseDelay)
	assert.True(t, cfg.Engagement.UseSmartPolling)
	assert.Equal(t, 3, cfg.Engagement.PoolMultiplier)
	assert.Equal(t, 5, cfg.Engagement.FailureThreshold)
	assert.Equal(t, "auto-engagement", cfg.Lock.Name)
	assert.Equal(t, 5*time.Minute, cfg.Lock.TTL)
	assert.Equal(t, 50, cfg.Budget.MaxDailyResponses)
	assert.InDelta(t, 0.02, cfg.Budget.CostPerResponse, 1e-9)
	assert.InDelta(t, 0.7, cfg.Safety.QualityThreshold, 1e-9)
	assert.True(t, cfg.Safety.QualityFailOpen)
	assert.True(t, cfg.Decision.FailOpen)
	assert.Equal(t, "*/15 * * * *", cfg.Schedule.Cron)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
[general]
default_ai = "claude"

[engagement]
max_responses_to_send = 2
min_time_between_checks = "30m"

[ai.claude]
provider = "claude"
api_key = "from-file"
model = "claude-sonnet"
timeout = "20s"
`)
	t.Setenv("AUTOPOST_ENGAGEMENT__MAX_RESPONSES_TO_SEND", "4")
	t.Setenv("AUTOPOST_BUDGET__MAX_DAILY_COST", "2.5")
	t.Setenv("AUTOPOST_SAFETY__QUALITY_FAIL_OPEN", "false")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "claude", cfg.General.DefaultAI)
	assert.Equal(t, 4, cfg.Engagement.MaxResponsesToSend, "env wins over file")
	assert.Equal(t, 30*time.Minute, cfg.Engagement.MinTimeBetweenChecks)
	assert.InDelta(t, 2.5, cfg.Budget.MaxDailyCost, 1e-9)
	assert.False(t, cfg.Safety.QualityFailOpen)

	ai := cfg.AI["claude"]
	assert.Equal(t, "from-file", ai.APIKey)
	assert.Equal(t, 20*time.Second, ai.Timeout)
	require.NoError(t, Validate(cfg))
}

func TestLoadConfigDatabaseURLFallback(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/autopost")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/autopost", cfg.Database.URL)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "budget.max_daily_responses", EnvKey("AUTOPOST_BUDGET__MAX_DAILY_RESPONSES"))
	assert.Equal(t, "ai.openai.api_key", EnvKey("AUTOPOST_AI__OPENAI__API_KEY"))
}

func TestInitConfigWritesLoadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autopost.toml")
	require.NoError(t, InitConfig(path))
	assert.Error(t, InitConfig(path), "refuses to overwrite")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.AI["openai_fast"].Model)
	assert.Equal(t, 50, cfg.Platform["twitter"].RequestsPerMinute)
	assert.NoError(t, Validate(cfg))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
		require.NoError(t, err)
		cfg.AI = map[string]AIConfig{"openai": {Provider: "openai", APIKey: "k", Model: "gpt-4o"}}
		return cfg
	}
	require.NoError(t, Validate(valid()))

	cases := map[string]func(*Config){
		"missing ai section": func(c *Config) { c.General.DefaultAI = "gemini" },
		"missing fast ai":    func(c *Config) { c.General.FastAI = "nope" },
		"missing api key":    func(c *Config) { c.AI["openai"] = AIConfig{Provider: "openai", Model: "m"} },
		"bad batch size":     func(c *Config) { c.Engagement.MaxResponsesToSend = 0 },
		"bad threshold":      func(c *Config) { c.Safety.QualityThreshold = 1.5 },
		"negative budget":    func(c *Config) { c.Budget.MaxDailyCost = -1 },
		"bad cron":           func(c *Config) { c.Schedule.Cron = "every tuesday" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}

	ollama := valid()
	ollama.AI["openai"] = AIConfig{Provider: "ollama", Model: "llama3"}
	assert.NoError(t, Validate(ollama), "ollama needs no key")
}
