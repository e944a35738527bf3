package cmd

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/autopost/internal/config"
)

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Missing  []string          // Required settings that are missing
	Present  map[string]string // Settings that are set (masked values)
	Warnings []string          // Non-fatal warnings
	Mode     string            // "scheduled" or "manual"
}

// CheckRequiredConfig reports on the secrets and connection settings a
// deployment needs, after file and environment layering.
func CheckRequiredConfig(cfg *config.Config) *ConfigCheckResult {
	result := &ConfigCheckResult{
		Missing:  []string{},
		Present:  make(map[string]string),
		Warnings: []string{},
		Mode:     "manual",
	}
	if cfg.Schedule.Enabled {
		result.Mode = "scheduled"
	}

	check := func(name, value string) {
		if value == "" {
			result.Missing = append(result.Missing, name)
		} else {
			result.Present[name] = maskSecret(value)
		}
	}

	check("database.url", cfg.Database.URL)
	for _, name := range []string{cfg.General.DefaultAI, cfg.General.FastAI} {
		if name == "" {
			continue
		}
		ai := cfg.AI[name]
		if ai.Provider == "ollama" {
			continue
		}
		check("ai."+name+".api_key", ai.APIKey)
	}

	if cfg.Server.CronSecret == "" {
		result.Warnings = append(result.Warnings, "server.cron_secret is empty; the HTTP trigger rejects every request")
	} else {
		result.Present["server.cron_secret"] = maskSecret(cfg.Server.CronSecret)
	}
	if cfg.Engagement.DryRun {
		result.Warnings = append(result.Warnings, "engagement.dry_run is on; nothing will be posted")
	}

	sort.Strings(result.Missing)
	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(result *ConfigCheckResult) {
	fmt.Println("=== Configuration Check ===")
	fmt.Printf("Mode: %s\n", result.Mode)
	fmt.Println("")

	if len(result.Missing) > 0 {
		fmt.Println("❌ Missing required settings:")
		for _, v := range result.Missing {
			fmt.Printf("   - %s\n", v)
		}
		fmt.Println("")
	}

	if len(result.Present) > 0 {
		keys := make([]string, 0, len(result.Present))
		for k := range result.Present {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println("✓ Configured settings:")
		for _, k := range keys {
			fmt.Printf("   - %s = %s\n", k, result.Present[k])
		}
		fmt.Println("")
	}

	for _, w := range result.Warnings {
		fmt.Printf("⚠ Warning: %s\n", w)
	}

	if len(result.Missing) == 0 {
		fmt.Println("✓ All required configuration is present")
	}

	fmt.Println("============================")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// LoadEnvFile loads environment variables from a file, overwriting existing ones.
func LoadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}

		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set env var %s: %w", key, err)
		}
	}

	return scanner.Err()
}
