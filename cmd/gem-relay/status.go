package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/omarluq/gem-relay/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check if gem-relay server is running",
	Long: `Check the health status of a running gem-relay server by querying
its /health endpoint. With --token, also renders key counts from the
admin status endpoint.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().String("url", "", "base URL of a running relay (default: derived from the config file)")
	statusCmd.Flags().String("token", "", "admin token; adds key registry details to the output")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	baseURL, err := cmd.Flags().GetString("url")
	if err != nil {
		return fmt.Errorf("failed to get url flag: %w", err)
	}
	token, err := cmd.Flags().GetString("token")
	if err != nil {
		return fmt.Errorf("failed to get token flag: %w", err)
	}

	if baseURL == "" {
		configPath := cfgFile
		if configPath == "" {
			configPath = findConfigFile()
		}
		return checkStatusWithConfig(cmd, configPath, token)
	}

	return checkStatus(strings.TrimRight(baseURL, "/"), token)
}

// checkStatusWithConfig derives the relay address from the config file
// and runs the status checks against it.
func checkStatusWithConfig(_ *cobra.Command, configPath, token string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	return checkStatus("http://"+cfg.Server.Listen, token)
}

// checkStatus queries /health and, when a token is supplied, the admin
// key status endpoint.
func checkStatus(baseURL, token string) error {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	//nolint:noctx // Simple health check doesn't need context propagation
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		fmt.Printf("✗ gem-relay is not running (%s)\n", baseURL)
		return fmt.Errorf("server not reachable: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Logger.Warn().Err(closeErr).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("✗ gem-relay returned unexpected status: %d\n", resp.StatusCode)
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}

	fmt.Printf("✓ gem-relay is running (%s)\n", baseURL)

	if token == "" {
		return nil
	}

	return printKeyStatus(client, baseURL, token)
}

// printKeyStatus renders the admin key status summary.
func printKeyStatus(client *http.Client, baseURL, token string) error {
	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/keys/status", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Admin-Token", token)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("key status not reachable: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Logger.Warn().Err(closeErr).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("key status failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	keys := gjson.GetBytes(body, "keys")
	fmt.Printf("  keys: %d valid, %d invalid (%d total)\n",
		keys.Get("valid_count").Int(),
		keys.Get("invalid_count").Int(),
		keys.Get("total_keys").Int())

	if gjson.GetBytes(body, "pool_enabled").Bool() {
		pool := gjson.GetBytes(body, "pool_status")
		fmt.Printf("  pool: %d/%d keys, %.0f%% hit rate\n",
			pool.Get("current_size").Int(),
			pool.Get("pool_size").Int(),
			pool.Get("hit_rate").Float()*100)
	}

	return nil
}
