// Package confirm tracks pending dangerous-action confirmations.
//
// When the model emits a confirmAction tool call, the orchestrator registers
// a card here and ends the model loop for the turn: generation never blocks
// on human latency. The human's answer arrives out-of-band and either
// performs the mutation directly (when the card carries full details) or
// records a generic "confirmed" result the model picks up from history on
// its next turn. Either way the outcome is reported into the transcript as a
// persisted tool message, so the decision survives beyond the ephemeral
// stream state.
package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"sheetchat/internal/storage"
)

// Card states.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateResolved   State = "resolved"
	StateCancelled  State = "cancelled"
)

var (
	// ErrNotFound is returned for unknown card or token ids.
	ErrNotFound = errors.New("confirmation not found")
	// ErrNotPending is returned when a card is resolved twice; terminal
	// states are immutable.
	ErrNotPending = errors.New("confirmation is not pending")
)

// Card is one pending confirmation request rendered to the user.
type Card struct {
	ID       string `json:"id"` // the confirmAction tool-call id
	ThreadID string `json:"threadId"`
	Action   string `json:"action"`
	Message  string `json:"message"`
	Sheet    string `json:"sheet,omitempty"`
	Cell     string `json:"cell,omitempty"`
	Value    string `json:"value,omitempty"`

	// Token authorizes exactly one direct write for this card.
	Token     string          `json:"token"`
	State     State           `json:"state"`
	Outcome   json.RawMessage `json:"outcome,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// hasDetails reports whether the card carries everything needed for the
// direct mutation path.
func (c Card) hasDetails() bool {
	return c.Sheet != "" && c.Cell != "" && c.Value != ""
}

// CellWriter performs the actual mutation on approval.
type CellWriter interface {
	WriteCell(sheet, cell, value string) error
}

// MessageSaver reports resolution outcomes into the transcript.
type MessageSaver interface {
	SaveMessage(storage.Message) error
}

// Manager holds the in-flight cards. Cards are session state: they do not
// survive a restart, matching the ephemerality of the stream they came from.
type Manager struct {
	writer CellWriter
	store  MessageSaver
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	cards  map[string]*Card
	tokens map[string]string // token -> card id, consumed once
}

func NewManager(writer CellWriter, store MessageSaver, ttl time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		writer: writer,
		store:  store,
		ttl:    ttl,
		logger: logger,
		cards:  make(map[string]*Card),
		tokens: make(map[string]string),
	}
}

// Register mints a token for a new pending card and tracks it. Called by the
// orchestrator when a confirmAction tool call is forwarded to the client.
func (m *Manager) Register(card Card) Card {
	card.Token = uuid.New().String()
	card.State = StatePending
	card.CreatedAt = time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards[card.ID] = &card
	m.tokens[card.Token] = card.ID
	return card
}

// Get returns a snapshot of a card.
func (m *Manager) Get(id string) (Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[id]
	if !ok {
		return Card{}, ErrNotFound
	}
	return *c, nil
}

// Resolve settles a pending card with the human's decision. Re-resolving a
// settled card returns ErrNotPending; the card is immutable once terminal.
func (m *Manager) Resolve(ctx context.Context, id string, approved bool) (Card, error) {
	m.mu.Lock()
	c, ok := m.cards[id]
	if !ok {
		m.mu.Unlock()
		return Card{}, ErrNotFound
	}
	if c.State != StatePending {
		snapshot := *c
		m.mu.Unlock()
		return snapshot, ErrNotPending
	}

	if !approved {
		c.State = StateCancelled
		c.Outcome = json.RawMessage(`{"cancelled":true,"message":"Action cancelled by user."}`)
		delete(m.tokens, c.Token)
		snapshot := *c
		m.mu.Unlock()
		m.report(snapshot)
		return snapshot, nil
	}

	c.State = StateProcessing
	card := *c
	m.mu.Unlock()

	outcome := m.execute(ctx, card)

	m.mu.Lock()
	c.State = StateResolved
	c.Outcome = outcome
	delete(m.tokens, c.Token)
	snapshot := *c
	m.mu.Unlock()

	m.report(snapshot)
	return snapshot, nil
}

func (m *Manager) execute(ctx context.Context, card Card) json.RawMessage {
	if !card.hasDetails() {
		// Nothing to do directly; the model decides the next step when it
		// sees the confirmation in history.
		return json.RawMessage(`{"confirmed":true,"message":"User confirmed the action."}`)
	}

	if err := m.writer.WriteCell(card.Sheet, card.Cell, card.Value); err != nil {
		m.logger.Error("confirmed write failed", "sheet", card.Sheet, "cell", card.Cell, "error", err)
		out, _ := json.Marshal(map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return out
	}

	out, _ := json.Marshal(map[string]any{
		"success": true,
		"message": fmt.Sprintf("Updated %s!%s to %q", card.Sheet, card.Cell, card.Value),
	})
	return out
}

// report persists the resolution as a tool message in the thread, so the
// outcome is visible to the user and to the model on later turns even though
// the originating stream is long gone.
func (m *Manager) report(card Card) {
	if m.store == nil || card.ThreadID == "" {
		return
	}
	content, err := json.Marshal(map[string]any{
		"toolCallId": card.ID,
		"toolName":   "confirmAction",
		"state":      card.State,
		"result":     json.RawMessage(card.Outcome),
	})
	if err != nil {
		m.logger.Error("encoding confirmation report", "card", card.ID, "error", err)
		return
	}
	msg := storage.Message{
		ID:       uuid.New().String(),
		ThreadID: card.ThreadID,
		Role:     storage.RoleTool,
		Content:  string(content),
	}
	if err := m.store.SaveMessage(msg); err != nil {
		m.logger.Error("persisting confirmation report", "card", card.ID, "error", err)
	}
}

// ConsumeToken validates and spends a confirmation token. Each token
// authorizes exactly one write.
func (m *Manager) ConsumeToken(token string) bool {
	if token == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tokens[token]
	if ok {
		delete(m.tokens, token)
	}
	return ok
}

// Sweep cancels pending cards older than the TTL and drops settled ones from
// memory. Returns the number of cards evicted.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, c := range m.cards {
		switch c.State {
		case StatePending:
			if now.Sub(c.CreatedAt) > m.ttl {
				c.State = StateCancelled
				c.Outcome = json.RawMessage(`{"cancelled":true,"message":"Confirmation expired."}`)
				delete(m.tokens, c.Token)
				delete(m.cards, id)
				evicted++
			}
		case StateResolved, StateCancelled:
			if now.Sub(c.CreatedAt) > m.ttl {
				delete(m.cards, id)
				evicted++
			}
		}
	}
	return evicted
}

// RunSweeper evicts expired cards periodically until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context) error {
	interval := m.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if n := m.Sweep(now); n > 0 {
				m.logger.Debug("swept confirmations", "evicted", n)
			}
		}
	}
}
