package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"agent-relay/app"
	"agent-relay/config"
	"agent-relay/log"
	"agent-relay/session"
)

var (
	version      = "0.3.1"
	programFlag  string
	addrFlag     string
	headlessFlag bool
	rootCmd      = &cobra.Command{
		Use:   "agent-relay [prompt]",
		Short: "Agent Relay - drive an interactive AI coding CLI over the network.",
		Long: "Agent Relay wraps an interactive CLI like Claude Code or Aider in a\n" +
			"pseudo-terminal, queues requests to it, and mirrors its screen to\n" +
			"WebSocket clients and the local terminal.",
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Initialize(headlessFlag)
			defer log.Close()

			cfg := config.LoadConfig()

			a, err := app.New(cfg, app.Options{
				Program:       programFlag,
				Addr:          addrFlag,
				Headless:      headlessFlag,
				InitialPrompt: strings.Join(args, " "),
			})
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}

	resetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Delete all stored history",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Initialize(false)
			defer log.Close()

			storage, err := session.NewStorage(config.LoadState())
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			if err := storage.DeleteAll(); err != nil {
				return fmt.Errorf("failed to reset storage: %w", err)
			}
			fmt.Println("History has been reset successfully")
			return nil
		},
	}

	debugCmd = &cobra.Command{
		Use:   "debug",
		Short: "Print debug information like config paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Initialize(false)
			defer log.Close()

			cfg := config.LoadConfig()

			configDir, err := config.GetConfigDir()
			if err != nil {
				return fmt.Errorf("failed to get config directory: %w", err)
			}
			configJson, _ := json.MarshalIndent(cfg, "", "  ")

			fmt.Printf("Config: %s\n%s\n", filepath.Join(configDir, config.ConfigFileName), configJson)

			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of agent-relay",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agent-relay version %s\n", version)
		},
	}
)

func init() {
	rootCmd.Flags().StringVarP(&programFlag, "program", "p", "",
		"Program to run in the session (e.g. 'aider --model ollama_chat/gemma3:1b')")
	rootCmd.Flags().StringVarP(&addrFlag, "addr", "a", "",
		"Listen address for the HTTP/WebSocket server (overrides config)")
	rootCmd.Flags().BoolVar(&headlessFlag, "headless", false,
		"Serve without drawing to the local terminal")

	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(resetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
	}
}
