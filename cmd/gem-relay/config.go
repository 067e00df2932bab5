package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/omarluq/gem-relay/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the configuration file without starting the server.
Checks syntax, required fields, and credential lists.`,
	RunE: runConfigValidate,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigValidate(_ *cobra.Command, _ []string) error {
	configPath := cfgFile
	if configPath == "" {
		configPath = findConfigFile()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("✗ Config validation failed: %s\n", err)
		return err
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("✗ Config validation failed: %s\n", err)
		return err
	}

	if err := validateConfig(cfg); err != nil {
		fmt.Printf("✗ Config validation failed: %s\n", err)
		return err
	}

	fmt.Printf("✓ %s is valid\n", configPath)

	return nil
}

// validateConfig performs semantic validation beyond parsing.
func validateConfig(cfg *config.Config) error {
	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}

	if len(cfg.Keys.APIKeys)+len(cfg.Keys.VertexAPIKeys) == 0 {
		return fmt.Errorf("at least one credential is required (keys.api_keys or keys.vertex_api_keys)")
	}

	if h := cfg.Keys.QuotaResetHour; h < 0 || h > 23 {
		return fmt.Errorf("keys.quota_reset_hour must be between 0 and 23, got %d", h)
	}

	if tz := cfg.Keys.GetEffectiveTimezone(); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("keys.timezone %q is not a valid IANA zone", tz)
		}
	}

	if cfg.Pool.Enabled && cfg.Pool.GetEffectiveMinThreshold() > cfg.Pool.GetEffectiveSize() {
		return fmt.Errorf("pool.min_threshold (%d) exceeds pool.size (%d)",
			cfg.Pool.GetEffectiveMinThreshold(), cfg.Pool.GetEffectiveSize())
	}

	return nil
}
