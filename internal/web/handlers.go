package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/justestif/go-spotify-activity-sync/internal/archive"
	"github.com/justestif/go-spotify-activity-sync/internal/github"
	"github.com/justestif/go-spotify-activity-sync/internal/history"
	"github.com/justestif/go-spotify-activity-sync/internal/sync"
)

// Syncer runs sync passes and serves the derived views.
type Syncer interface {
	Run(ctx context.Context) (sync.Result, error)
	Live(ctx context.Context) []history.LiveEntry
	History(ctx context.Context) ([]history.Entry, error)
}

// Archiver runs clear and backup operations.
type Archiver interface {
	Clear(ctx context.Context) (archive.ClearResult, error)
	Backup(ctx context.Context, commitSHA string) (archive.BackupResult, error)
}

// Handlers contains the HTTP handlers.
type Handlers struct {
	syncer         Syncer
	archiver       Archiver
	clearPassword  string
	backupPassword string
	log            zerolog.Logger
}

// NewHandlers creates a Handlers instance.
func NewHandlers(syncer Syncer, archiver Archiver, clearPassword, backupPassword string, log zerolog.Logger) *Handlers {
	return &Handlers{
		syncer:         syncer,
		archiver:       archiver,
		clearPassword:  clearPassword,
		backupPassword: backupPassword,
		log:            log,
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Live handles GET /api/live.
func (h *Handlers) Live(w http.ResponseWriter, r *http.Request) {
	friends := h.syncer.Live(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"friends": friends})
}

// History handles GET /api/history.
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.syncer.History(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("serving history failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Trigger handles GET /trigger: one synchronous pass, plain-text summary.
func (h *Handlers) Trigger(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncer.Run(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("triggered pass failed")
		http.Error(w, "sync failed: "+err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(result.Summary() + "\n"))
}

// ClearHistory handles GET|POST /clear-history, gated by the clear password.
func (h *Handlers) ClearHistory(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r, "X-Clear-Password", h.clearPassword) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid password"})
		return
	}

	result, err := h.archiver.Clear(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("clear failed")
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		archive.ClearResult
	}{Success: true, ClearResult: result})
}

// Backup handles GET|POST /backup, gated by the backup password. The source
// commit comes from the "commit" (or "id") query parameter, or from a JSON
// body on POST.
func (h *Handlers) Backup(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r, "X-Backup-Password", h.backupPassword) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid password"})
		return
	}

	commitSHA := backupCommit(r)
	if commitSHA == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "commit (sha) is required"})
		return
	}

	result, err := h.archiver.Backup(r.Context(), commitSHA)
	if err != nil {
		h.log.Error().Err(err).Str("commit", commitSHA).Msg("backup failed")
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}

	message := "Backup created"
	if result.Skipped {
		message = "Backup already exists (no changes)"
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		archive.BackupResult
	}{Success: true, Message: message, BackupResult: result})
}

// backupCommit extracts the source commit from query or JSON body.
func backupCommit(r *http.Request) string {
	if sha := r.URL.Query().Get("commit"); sha != "" {
		return sha
	}
	if sha := r.URL.Query().Get("id"); sha != "" {
		return sha
	}

	if r.Method == http.MethodPost && strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Commit string `json:"commit"`
			ID     string `json:"id"`
		}
		// A malformed body reads the same as an absent one.
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			if body.Commit != "" {
				return body.Commit
			}
			return body.ID
		}
	}

	return ""
}

// authorized checks the operation password from the header or the "password"
// query parameter. An unconfigured password disables the operation.
func (h *Handlers) authorized(r *http.Request, header, want string) bool {
	if want == "" {
		return false
	}
	got := r.Header.Get(header)
	if got == "" {
		got = r.URL.Query().Get("password")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// statusFor maps protocol errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, archive.ErrNotClearCommit):
		return http.StatusBadRequest
	case errors.Is(err, archive.ErrNoParent), errors.Is(err, archive.ErrNoHistory), errors.Is(err, github.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, github.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
