package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"agent-relay/log"
)

const StateFileName = "state.json"

// HistoryStorage persists conversation history between runs
type HistoryStorage interface {
	// SaveHistory saves the raw transcript data
	SaveHistory(historyJSON json.RawMessage) error
	// GetHistory returns the raw transcript data
	GetHistory() json.RawMessage
	// SaveQueue saves finished queue items
	SaveQueue(queueJSON json.RawMessage) error
	// GetQueue returns the stored queue items
	GetQueue() json.RawMessage
	// DeleteHistory removes all stored history
	DeleteHistory() error
}

// State represents the application state that persists between runs
type State struct {
	// HistoryData stores the serialized transcript as raw JSON
	HistoryData json.RawMessage `json:"history"`
	// QueueData stores finished queue items as raw JSON
	QueueData json.RawMessage `json:"queue"`
}

// DefaultState returns the default state
func DefaultState() *State {
	return &State{
		HistoryData: json.RawMessage("[]"),
		QueueData:   json.RawMessage("[]"),
	}
}

// LoadState loads the state from disk. If it cannot be done, we return the default state.
// This function acquires a shared lock to allow concurrent reads.
func LoadState() *State {
	configDir, err := GetConfigDir()
	if err != nil {
		log.ErrorLog.Printf("failed to get config directory: %v", err)
		return DefaultState()
	}

	statePath := filepath.Join(configDir, StateFileName)

	// Acquire shared lock for reading
	lock := NewFileLock(statePath)
	if err := lock.RLock(); err != nil {
		log.WarningLog.Printf("failed to acquire read lock: %v", err)
		// Continue without lock - better to have stale data than fail
	}

	data, err := os.ReadFile(statePath)
	// Release before any write below: flock conflicts are per descriptor, so
	// holding the read lock into SaveState would block against ourselves.
	lock.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			// Create and save default state if file doesn't exist
			defaultState := DefaultState()
			if saveErr := SaveState(defaultState); saveErr != nil {
				log.WarningLog.Printf("failed to save default state: %v", saveErr)
			}
			return defaultState
		}

		log.WarningLog.Printf("failed to get state file: %v", err)
		return DefaultState()
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		log.ErrorLog.Printf("failed to parse state file: %v", err)
		return DefaultState()
	}
	return &state
}

// SaveState saves the state to disk.
// This function acquires an exclusive lock to prevent concurrent writes.
func SaveState(state *State) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	statePath := filepath.Join(configDir, StateFileName)

	// Acquire exclusive lock for writing
	lock := NewFileLock(statePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire write lock: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	return os.WriteFile(statePath, data, 0644)
}

// HistoryStorage interface implementation

// SaveHistory saves the raw transcript data
func (s *State) SaveHistory(historyJSON json.RawMessage) error {
	s.HistoryData = historyJSON
	return SaveState(s)
}

// GetHistory returns the raw transcript data
func (s *State) GetHistory() json.RawMessage {
	return s.HistoryData
}

// DeleteHistory removes all stored history
func (s *State) DeleteHistory() error {
	s.HistoryData = json.RawMessage("[]")
	s.QueueData = json.RawMessage("[]")
	return SaveState(s)
}

// SaveQueue saves finished queue items
func (s *State) SaveQueue(queueJSON json.RawMessage) error {
	s.QueueData = queueJSON
	return SaveState(s)
}

// GetQueue returns the stored queue items
func (s *State) GetQueue() json.RawMessage {
	return s.QueueData
}
