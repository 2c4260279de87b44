// Package commands provides the CLI commands for mcpchat.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telnet2/mcpchat/internal/config"
	"github.com/telnet2/mcpchat/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel    string
	logFile     string
	serversPath string
)

var rootCmd = &cobra.Command{
	Use:   "mcpchat",
	Short: "mcpchat - chat with an AI agent backed by MCP tool servers",
	Long: `mcpchat connects to MCP servers over stdio, discovers their tools and
lets a conversational AI agent invoke them on your behalf.

Run 'mcpchat chat' to start a conversation, 'mcpchat tools' to inspect the
tool catalog, or 'mcpchat serve' to expose the connection state over HTTP.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file")
	rootCmd.PersistentFlags().StringVar(&serversPath, "servers-config", "", "Path to the MCP server definitions file")

	rootCmd.SetVersionTemplate(fmt.Sprintf("mcpchat %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadSettings reads the environment settings and applies global flag
// overrides, then initializes logging.
func loadSettings() (*config.Settings, error) {
	settings, err := config.LoadSettings()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		settings.LogLevel = logLevel
	}
	if logFile != "" {
		settings.LogFile = logFile
	}
	if serversPath != "" {
		settings.ServersConfigPath = serversPath
	}

	if err := logging.Init(logging.Config{
		Level: logging.ParseLevel(settings.LogLevel),
		File:  settings.LogFile,
	}); err != nil {
		return nil, err
	}
	return settings, nil
}
