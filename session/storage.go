package session

import (
	"encoding/json"
	"fmt"

	"agent-relay/config"
	"agent-relay/log"
)

// Storage persists the transcript and finished queue items through the state
// layer, so history survives restarts even though the live session does not.
type Storage struct {
	state config.HistoryStorage
}

// NewStorage creates a new storage instance
func NewStorage(state config.HistoryStorage) (*Storage, error) {
	return &Storage{
		state: state,
	}, nil
}

// SaveTranscript saves the conversation turns to disk.
func (s *Storage) SaveTranscript(turns []ChatTurn) error {
	jsonData, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}
	return s.state.SaveHistory(jsonData)
}

// LoadTranscript loads the conversation turns from disk. Turns that no longer
// parse are skipped rather than failing the whole load.
func (s *Storage) LoadTranscript() ([]ChatTurn, error) {
	jsonData := s.state.GetHistory()

	var raw []json.RawMessage
	if err := json.Unmarshal(jsonData, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript: %w", err)
	}

	turns := make([]ChatTurn, 0, len(raw))
	skipped := 0
	for _, entry := range raw {
		var turn ChatTurn
		if err := json.Unmarshal(entry, &turn); err != nil || turn.Role == "" {
			skipped++
			continue
		}
		turns = append(turns, turn)
	}
	if skipped > 0 {
		log.WarningLog.Printf("skipped %d invalid transcript turn(s)", skipped)
	}
	return turns, nil
}

// SaveFinishedItems persists completed and errored queue items. Unfinished
// items are deliberately not saved: a pending request for a dead process is
// not actionable after a restart.
func (s *Storage) SaveFinishedItems(items []QueueItem) error {
	finished := make([]QueueItem, 0, len(items))
	for _, item := range items {
		if item.Status == StatusCompleted || item.Status == StatusError {
			finished = append(finished, item)
		}
	}

	jsonData, err := json.Marshal(finished)
	if err != nil {
		return fmt.Errorf("failed to marshal queue items: %w", err)
	}
	return s.state.SaveQueue(jsonData)
}

// LoadFinishedItems loads previously persisted queue items.
func (s *Storage) LoadFinishedItems() ([]QueueItem, error) {
	var items []QueueItem
	if err := json.Unmarshal(s.state.GetQueue(), &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue items: %w", err)
	}
	return items, nil
}

// DeleteAll removes all persisted history.
func (s *Storage) DeleteAll() error {
	return s.state.DeleteHistory()
}
