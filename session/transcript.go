package session

import (
	"bytes"
	"crypto/sha256"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"agent-relay/ansi"
	"agent-relay/log"
)

// Role identifies who produced a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem records session and transport errors in the transcript.
	RoleSystem Role = "system"
)

// ChatTurn is one entry in the conversation. Turns are append-only: they are
// never mutated after commit.
type ChatTurn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript derives assistant turns from screen snapshots while a request is
// awaiting a reply. Derivation is best-effort by design: it trades a
// structured protocol for working with any interactive CLI.
type Transcript struct {
	matchers []Matcher

	turns        []ChatTurn
	prevSnapshot []byte // hash of the last committed screen, for dedup
}

// NewTranscript returns a Transcript using the given ready matchers, or the
// defaults when nil.
func NewTranscript(matchers []Matcher) *Transcript {
	if matchers == nil {
		matchers = DefaultReadyMatchers()
	}
	return &Transcript{matchers: matchers}
}

// AddUser appends a user turn and returns it.
func (tr *Transcript) AddUser(content string) ChatTurn {
	return tr.append(RoleUser, content)
}

// AddSystem appends a system turn recording an error or lifecycle event.
func (tr *Transcript) AddSystem(content string) ChatTurn {
	return tr.append(RoleSystem, content)
}

func (tr *Transcript) append(role Role, content string) ChatTurn {
	turn := ChatTurn{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
	tr.turns = append(tr.turns, turn)
	return turn
}

// AwaitingReply reports whether any user turn is still unanswered. Requests
// queue up faster than replies arrive, so the outstanding count is what
// matters, not the role of the most recent turn.
func (tr *Transcript) AwaitingReply() bool {
	users, assistants := 0, 0
	for _, turn := range tr.turns {
		switch turn.Role {
		case RoleUser:
			users++
		case RoleAssistant:
			assistants++
		}
	}
	return users > assistants
}

// Observe inspects a flushed screen and commits an assistant turn when the
// screen shows a ready prompt with substantive, previously-unseen content.
// Returns the committed turn and true, or false when nothing was committed.
func (tr *Transcript) Observe(screen string) (ChatTurn, bool) {
	if !tr.AwaitingReply() {
		return ChatTurn{}, false
	}
	if !AnyReady(tr.matchers, screen) {
		return ChatTurn{}, false
	}

	stripped := strings.TrimSpace(ansi.Strip(screen))
	if stripped == "" {
		return ChatTurn{}, false
	}
	if PromptOnly(stripped) {
		log.Debug("transcript: discarding prompt-only screen")
		return ChatTurn{}, false
	}

	sum := snapshotHash(stripped)
	if bytes.Equal(sum, tr.prevSnapshot) {
		log.Debug("transcript: discarding duplicate snapshot")
		return ChatTurn{}, false
	}

	tr.prevSnapshot = sum
	return tr.append(RoleAssistant, stripped), true
}

// Restore replaces the transcript with previously persisted turns. Used once
// at startup, before any live traffic.
func (tr *Transcript) Restore(turns []ChatTurn) {
	tr.turns = append([]ChatTurn(nil), turns...)
	tr.prevSnapshot = nil
}

// Turns returns a copy of the transcript.
func (tr *Transcript) Turns() []ChatTurn {
	out := make([]ChatTurn, len(tr.turns))
	copy(out, tr.turns)
	return out
}

// Reset forgets the dedup snapshot but keeps the transcript itself; history
// survives a session reset, the screen state does not.
func (tr *Transcript) Reset() {
	tr.prevSnapshot = nil
}

// snapshotHash hashes without allocating a byte slice from the string.
func snapshotHash(s string) []byte {
	h := sha256.New()
	io.WriteString(h, s)
	return h.Sum(nil)
}
