package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"scenebatch/internal/batch"
	"scenebatch/internal/middleware"
	"scenebatch/internal/storage"
	"scenebatch/internal/stream"
)

type App struct {
	Orchestrator *batch.Orchestrator
	Streamer     *stream.Streamer
	Store        *storage.FileStore
	Logger       zerolog.Logger
}

func NewApp(orc *batch.Orchestrator, streamer *stream.Streamer, store *storage.FileStore, logger zerolog.Logger) *App {
	return &App{Orchestrator: orc, Streamer: streamer, Store: store, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]string{"error": code, "message": message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
