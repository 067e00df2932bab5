// Package main is the entry point for gem-relay.
package main

import (
	"context"
	"os"

	"charm.land/fang/v2"
	"github.com/spf13/cobra"
)

const (
	defaultConfigFile = "config.yaml"
	configDirName     = "gem-relay"
)

var (
	cfgFile   string
	debugMode bool
)

var rootCmd = &cobra.Command{
	Use:   "gem-relay",
	Short: "Load-balancing proxy for the Gemini API",
	Long: `gem-relay is a reverse proxy that sits in front of the Gemini generative
AI API and spreads traffic across a pool of API keys, rotating away from
rate-limited or dead credentials and recovering interrupted SSE streams
mid-response.`,
}

func init() {
	// Global flags available to all subcommands
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file path (default: ./"+defaultConfigFile+" or ~/.config/"+configDirName+"/"+defaultConfigFile+")")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false,
		"force debug-level logging regardless of config")
}

func main() {
	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		os.Exit(1)
	}
}
