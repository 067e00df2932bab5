package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default config file",
	Long:  `Generate a default gem-relay configuration file at ~/.config/gem-relay/config.yaml`,
	RunE:  runConfigInit,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().StringP("output", "o", "", "output path (default: ~/.config/gem-relay/config.yaml)")
	configInitCmd.Flags().Bool("force", false, "overwrite existing config file")
}

const defaultConfigTemplate = `# gem-relay configuration
server:
  listen: "127.0.0.1:8600"
  # admin_token guards the /api/keys endpoints; leave empty to disable them.
  admin_token: ""
  max_concurrent: 0
  max_body_bytes: 0

upstream:
  base_url: "https://generativelanguage.googleapis.com"
  timeout_ms: 0

keys:
  api_keys: []
  vertex_api_keys: []
  max_failures: 3
  max_retries: 3
  # Gemini free-tier quotas reset at midnight Pacific.
  timezone: "America/Los_Angeles"
  quota_reset_hour: 0

pool:
  enabled: false
  size: 50
  min_threshold: 10
  key_ttl_hours: 1
  maintenance_interval_minutes: 30
  pro_model_max_usage: 5
  non_pro_model_max_usage: 20
  test_model: "gemini-2.5-flash"

stream:
  max_retries: 3
  retry_delay_ms: 1000
  swallow_thoughts_after_retry: false

logging:
  level: info
  format: console

cache:
  mode: disabled
`

func runConfigInit(cmd *cobra.Command, _ []string) error {
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return fmt.Errorf("failed to get output flag: %w", err)
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return fmt.Errorf("failed to get force flag: %w", err)
	}

	if output == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		output = filepath.Join(home, ".config", configDirName, defaultConfigFile)
	}

	if _, err := os.Stat(output); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", output)
	}

	dir := filepath.Dir(output)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(output, []byte(defaultConfigTemplate), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("✓ Config file created at %s\n", output)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add your Gemini API keys under keys.api_keys")
	fmt.Println("  2. Validate with: gem-relay config validate")
	fmt.Println("  3. Start the proxy: gem-relay serve")

	return nil
}
