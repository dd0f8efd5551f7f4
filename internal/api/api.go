// Package api exposes the chat application over HTTP: the streaming chat
// endpoint, thread and message CRUD, the direct spreadsheet write used by
// approved confirmation cards, and confirmation resolution itself.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"sheetchat/internal/chat"
	"sheetchat/internal/confirm"
	"sheetchat/internal/llm"
	"sheetchat/internal/storage"
	"sheetchat/internal/tools"
)

const maxRequestBodySize = 1 << 20 // 1MB

// TurnRunner drives one chat turn, streaming events into the sink.
type TurnRunner interface {
	Run(ctx context.Context, req chat.TurnRequest, sink llm.Sink) error
}

// Deps collects everything the handlers need. All fields are required
// except Logger, which falls back to slog.Default.
type Deps struct {
	Store    *storage.Store
	Turns    TurnRunner
	Workbook tools.Workbook
	Confirms *confirm.Manager

	// StrictConfirm requires a valid single-use token on direct writes.
	StrictConfirm bool

	Logger *slog.Logger
}

// NewHandler returns the application's HTTP surface.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/chat", handleChat(deps))
	r.Get("/threads", handleListThreads(deps))
	r.Post("/threads", handleCreateThread(deps))
	r.Delete("/threads", handleDeleteThread(deps))
	r.Get("/messages", handleListMessages(deps))
	r.Post("/xlsx/write", handleWriteCell(deps))
	r.Post("/confirmations/{id}", handleResolveConfirmation(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chat.TurnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}

		sink := &sseSink{w: w}
		if err := deps.Turns.Run(r.Context(), req, sink); err != nil {
			if sink.started {
				// Headers are gone; the orchestrator already reported
				// the failure as a stream event.
				deps.Logger.Error("chat turn failed mid-stream", "error", err)
				return
			}
			switch {
			case errors.Is(err, chat.ErrInvalidTurn), errors.Is(err, storage.ErrNotFound):
				httpError(w, http.StatusBadRequest, "invalid chat request: %v", err)
			case errors.Is(err, chat.ErrMissingAPIKey):
				httpError(w, http.StatusInternalServerError, "GEMINI_API_KEY is not configured")
			default:
				deps.Logger.Error("chat turn failed", "error", err)
				httpError(w, http.StatusInternalServerError, "chat turn failed: %v", err)
			}
		}
	}
}

func handleListThreads(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threads, err := deps.Store.ListThreads()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "listing threads: %v", err)
			return
		}
		if threads == nil {
			threads = []storage.Thread{}
		}
		writeJSON(w, http.StatusOK, threads)
	}
}

func handleCreateThread(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		thread, err := deps.Store.CreateThread(uuid.NewString())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "creating thread: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": thread.ID})
	}
}

func handleDeleteThread(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id == "" {
			httpError(w, http.StatusBadRequest, "ID required")
			return
		}
		// Deleting an unknown thread is reported as success; cascade
		// removal of messages makes the operation idempotent.
		if err := deps.Store.DeleteThread(id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusInternalServerError, "deleting thread: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func handleListMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := r.URL.Query().Get("threadId")
		if threadID == "" {
			httpError(w, http.StatusBadRequest, "Thread ID required")
			return
		}
		messages, err := deps.Store.ListMessages(threadID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "listing messages: %v", err)
			return
		}
		if messages == nil {
			messages = []storage.Message{}
		}
		writeJSON(w, http.StatusOK, messages)
	}
}

type writeRequest struct {
	Sheet             string          `json:"sheet"`
	Cell              string          `json:"cell"`
	Value             json.RawMessage `json:"value"`
	ConfirmationToken string          `json:"confirmationToken"`
}

type writeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func handleWriteCell(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req writeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, writeResponse{Error: "invalid request body: " + err.Error()})
			return
		}
		if req.Sheet == "" || req.Cell == "" || len(req.Value) == 0 {
			writeJSON(w, http.StatusBadRequest, writeResponse{Error: "Missing required fields: sheet, cell, value"})
			return
		}

		value, err := tools.CoerceScalar(req.Value)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, writeResponse{Error: "invalid value: " + err.Error()})
			return
		}

		if deps.StrictConfirm && !deps.Confirms.ConsumeToken(req.ConfirmationToken) {
			writeJSON(w, http.StatusForbidden, writeResponse{Error: "valid confirmation token required"})
			return
		}

		if err := deps.Workbook.WriteCell(req.Sheet, req.Cell, value); err != nil {
			deps.Logger.Warn("direct write failed", "sheet", req.Sheet, "cell", req.Cell, "error", err)
			writeJSON(w, http.StatusOK, writeResponse{Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, writeResponse{
			Success: true,
			Message: fmt.Sprintf("Successfully updated %s!%s to %q", req.Sheet, req.Cell, value),
		})
	}
}

type resolveRequest struct {
	Approved bool `json:"approved"`
}

func handleResolveConfirmation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req resolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}

		card, err := deps.Confirms.Resolve(r.Context(), chi.URLParam(r, "id"), req.Approved)
		switch {
		case errors.Is(err, confirm.ErrNotFound):
			httpError(w, http.StatusNotFound, "unknown confirmation")
			return
		case errors.Is(err, confirm.ErrNotPending):
			httpError(w, http.StatusConflict, "confirmation already resolved")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "resolving confirmation: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, card)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]string{"error": fmt.Sprintf(format, args...)})
}
