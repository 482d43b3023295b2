package config

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"agent-relay/log"
)

const (
	ConfigFileName = "config.json"
	defaultProgram = "claude"
)

// GetConfigDir returns the path to the application's configuration directory
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config home directory: %w", err)
	}
	return filepath.Join(homeDir, ".agent-relay"), nil
}

// Config represents the application configuration
type Config struct {
	// DefaultProgram is the command line started for new sessions.
	DefaultProgram string `json:"default_program"`
	// ListenAddr is the HTTP/WebSocket listen address in server mode.
	ListenAddr string `json:"listen_addr"`
	// ChunkSize is the number of bytes written to the session per chunk.
	ChunkSize int `json:"chunk_size"`
	// ChunkDelayMs is the pause between chunks, in milliseconds.
	ChunkDelayMs int `json:"chunk_delay_ms"`
	// ThrottleIntervalMs bounds how often consumers receive screen updates.
	ThrottleIntervalMs int `json:"throttle_interval_ms"`
	// IdleClearSec clears the screen buffer after this many seconds of
	// output silence. Zero keeps the built-in default.
	IdleClearSec int `json:"idle_clear_sec"`
	// StartupTimeoutMs bounds how long a request waits for session readiness.
	StartupTimeoutMs int `json:"startup_timeout_ms"`
	// OptimisticReadyMs treats a quiet but live session as ready after this
	// long. Zero derives it from the startup timeout.
	OptimisticReadyMs int `json:"optimistic_ready_ms"`
	// MaxBufferBytes caps the raw output accumulator.
	MaxBufferBytes int `json:"max_buffer_bytes"`
	// ReadyPatterns are extra regexes recognized as an idle input prompt, for
	// programs whose prompt the built-in matchers miss.
	ReadyPatterns []string `json:"ready_patterns"`
	// Cols and Rows size the pseudo-terminal.
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	program, err := GetAgentCommand()
	if err != nil {
		log.ErrorLog.Printf("failed to resolve agent command: %v", err)
		program = defaultProgram
	}

	return &Config{
		DefaultProgram:     program,
		ListenAddr:         "127.0.0.1:7680",
		ChunkSize:          256,
		ChunkDelayMs:       10,
		ThrottleIntervalMs: 250,
		IdleClearSec:       30,
		StartupTimeoutMs:   10000,
		MaxBufferBytes:     256 * 1024,
		Cols:               80,
		Rows:               24,
	}
}

// GetAgentCommand attempts to find the "claude" command in the user's shell
// It checks in the following order:
// 1. Shell alias resolution: using "which" command
// 2. PATH lookup
//
// If both fail, it returns an error.
func GetAgentCommand() (string, error) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/bash" // Default to bash if SHELL is not set
	}

	// Force the shell to load the user's profile and then run the command
	// For zsh, source .zshrc; for bash, source .bashrc
	var shellCmd string
	if strings.Contains(shell, "zsh") {
		shellCmd = "source ~/.zshrc &>/dev/null || true; which " + defaultProgram
	} else if strings.Contains(shell, "bash") {
		shellCmd = "source ~/.bashrc &>/dev/null || true; which " + defaultProgram
	} else {
		shellCmd = "which " + defaultProgram
	}

	cmd := exec.Command(shell, "-c", shellCmd)
	output, err := cmd.Output()
	if err == nil && len(output) > 0 {
		path := strings.TrimSpace(string(output))
		if path != "" {
			// Check if the output is an alias definition and extract the actual path
			// Handle formats like "claude: aliased to /path/to/claude" or other shell-specific formats
			aliasRegex := regexp.MustCompile(`(?:aliased to|->|=)\s*([^\s]+)`)
			matches := aliasRegex.FindStringSubmatch(path)
			if len(matches) > 1 {
				path = matches[1]
			}
			return path, nil
		}
	}

	// Otherwise, try to find in PATH directly
	agentPath, err := exec.LookPath(defaultProgram)
	if err == nil {
		return agentPath, nil
	}

	return "", fmt.Errorf("%s command not found in aliases or PATH", defaultProgram)
}

func LoadConfig() *Config {
	configDir, err := GetConfigDir()
	if err != nil {
		log.ErrorLog.Printf("failed to get config directory: %v", err)
		return DefaultConfig()
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Create and save default config if file doesn't exist
			defaultCfg := DefaultConfig()
			if saveErr := saveConfig(defaultCfg); saveErr != nil {
				log.WarningLog.Printf("failed to save default config: %v", saveErr)
			}
			return defaultCfg
		}

		log.WarningLog.Printf("failed to get config file: %v", err)
		return DefaultConfig()
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		// Log the error with more context about what failed
		preview := string(data)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		log.ErrorLog.Printf("failed to parse config file at %s: %v\nConfig content preview: %s", configPath, err, preview)

		// Backup the corrupted config before falling back to defaults
		backupPath := configPath + ".corrupt." + time.Now().Format("20060102-150405")
		if backupErr := os.WriteFile(backupPath, data, 0644); backupErr == nil {
			log.InfoLog.Printf("Backed up corrupted config to: %s", backupPath)
		}

		return DefaultConfig()
	}

	return &config
}

// saveConfig saves the configuration to disk
func saveConfig(config *Config) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

// SaveConfig exports the saveConfig function for use by other packages
func SaveConfig(config *Config) error {
	return saveConfig(config)
}
