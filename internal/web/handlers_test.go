package web

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/justestif/go-spotify-activity-sync/internal/archive"
	"github.com/justestif/go-spotify-activity-sync/internal/github"
	"github.com/justestif/go-spotify-activity-sync/internal/history"
	"github.com/justestif/go-spotify-activity-sync/internal/sync"
)

type fakeSyncer struct {
	result  sync.Result
	runErr  error
	live    []history.LiveEntry
	entries []history.Entry
}

func (f *fakeSyncer) Run(context.Context) (sync.Result, error) { return f.result, f.runErr }

func (f *fakeSyncer) Live(context.Context) []history.LiveEntry { return f.live }

func (f *fakeSyncer) History(context.Context) ([]history.Entry, error) { return f.entries, nil }

type fakeArchiver struct {
	clearResult  archive.ClearResult
	clearErr     error
	backupResult archive.BackupResult
	backupErr    error
	backupCalls  []string
	clearCalls   int
}

func (f *fakeArchiver) Clear(context.Context) (archive.ClearResult, error) {
	f.clearCalls++
	return f.clearResult, f.clearErr
}

func (f *fakeArchiver) Backup(_ context.Context, sha string) (archive.BackupResult, error) {
	f.backupCalls = append(f.backupCalls, sha)
	return f.backupResult, f.backupErr
}

func newTestServer(syncer Syncer, archiver Archiver) *httptest.Server {
	handlers := NewHandlers(syncer, archiver, "clear-pw", "backup-pw", zerolog.Nop())
	server := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, handlers, zerolog.Nop())
	return httptest.NewServer(server.router)
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestLiveEndpoint(t *testing.T) {
	syncer := &fakeSyncer{live: []history.LiveEntry{
		{Timestamp: 1, User: history.LiveUser{Name: "Alice"}},
	}}
	ts := newTestServer(syncer, &fakeArchiver{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/live")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Cache-Control"); !strings.Contains(got, "no-store") {
		t.Errorf("Cache-Control = %q", got)
	}

	var body struct {
		Friends []history.LiveEntry `json:"friends"`
	}
	decodeBody(t, resp, &body)
	if len(body.Friends) != 1 || body.Friends[0].User.Name != "Alice" {
		t.Errorf("friends = %+v", body.Friends)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	syncer := &fakeSyncer{entries: []history.Entry{
		{Timestamp: 2000, UserID: "u1", URI: "t2"},
		{Timestamp: 1000, UserID: "u1", URI: "t1"},
	}}
	ts := newTestServer(syncer, &fakeArchiver{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/history")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var entries []history.Entry
	decodeBody(t, resp, &entries)
	if len(entries) != 2 || entries[0].URI != "t2" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestClearHistoryRequiresPassword(t *testing.T) {
	archiver := &fakeArchiver{}
	ts := newTestServer(&fakeSyncer{}, archiver)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/clear-history")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
	if archiver.clearCalls != 0 {
		t.Error("clear ran without a password")
	}

	resp, err = http.Get(ts.URL + "/clear-history?password=wrong")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for wrong password", resp.StatusCode)
	}
}

func TestClearHistory(t *testing.T) {
	archiver := &fakeArchiver{clearResult: archive.ClearResult{
		ItemsRemoved: 7, DateTag: "10032025", Timestamp: 1741600000000,
	}}
	ts := newTestServer(&fakeSyncer{}, archiver)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/clear-history", nil)
	req.Header.Set("X-Clear-Password", "clear-pw")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Success      bool   `json:"success"`
		ItemsRemoved int    `json:"itemsRemoved"`
		DateTag      string `json:"dateTag"`
		Timestamp    int64  `json:"timestamp"`
	}
	decodeBody(t, resp, &body)
	if !body.Success || body.ItemsRemoved != 7 || body.DateTag != "10032025" {
		t.Errorf("body = %+v", body)
	}
}

func TestBackupRequiresCommit(t *testing.T) {
	ts := newTestServer(&fakeSyncer{}, &fakeArchiver{})
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/backup", nil)
	req.Header.Set("X-Backup-Password", "backup-pw")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	decodeBody(t, resp, &body)
	if body.Success || body.Error == "" {
		t.Errorf("body = %+v", body)
	}
}

func TestBackupFromQuery(t *testing.T) {
	archiver := &fakeArchiver{backupResult: archive.BackupResult{
		Path: "frontend/static/history/10032025.json", DateTag: "10032025",
		SourceCommit: "abc", Items: 3,
	}}
	ts := newTestServer(&fakeSyncer{}, archiver)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/backup?commit=abc", nil)
	req.Header.Set("X-Backup-Password", "backup-pw")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(archiver.backupCalls) != 1 || archiver.backupCalls[0] != "abc" {
		t.Errorf("backup calls = %v", archiver.backupCalls)
	}

	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Path    string `json:"path"`
		Items   int    `json:"items"`
		Skipped bool   `json:"skipped"`
	}
	decodeBody(t, resp, &body)
	if !body.Success || body.Message != "Backup created" || body.Items != 3 || body.Skipped {
		t.Errorf("body = %+v", body)
	}
}

func TestBackupFromJSONBody(t *testing.T) {
	archiver := &fakeArchiver{}
	ts := newTestServer(&fakeSyncer{}, archiver)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/backup", strings.NewReader(`{"commit":"def456"}`))
	req.Header.Set("X-Backup-Password", "backup-pw")
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(archiver.backupCalls) != 1 || archiver.backupCalls[0] != "def456" {
		t.Errorf("backup calls = %v", archiver.backupCalls)
	}
}

func TestBackupErrorStatuses(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not a clear commit", archive.ErrNotClearCommit, http.StatusBadRequest},
		{"no parent", archive.ErrNoParent, http.StatusNotFound},
		{"no history", archive.ErrNoHistory, http.StatusNotFound},
		{"unknown commit", github.ErrNotFound, http.StatusNotFound},
		{"write conflict", github.ErrConflict, http.StatusConflict},
		{"other failure", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archiver := &fakeArchiver{backupErr: tt.err}
			ts := newTestServer(&fakeSyncer{}, archiver)
			defer ts.Close()

			req, _ := http.NewRequest(http.MethodGet, ts.URL+"/backup?commit=abc", nil)
			req.Header.Set("X-Backup-Password", "backup-pw")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			var body struct {
				Success bool   `json:"success"`
				Error   string `json:"error"`
			}
			decodeBody(t, resp, &body)
			if body.Success || body.Error == "" {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestTrigger(t *testing.T) {
	syncer := &fakeSyncer{result: sync.Result{PassID: "p1", UsersProcessed: 2, Added: 5, Total: 40}}
	ts := newTestServer(syncer, &fakeArchiver{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/trigger")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	buf := make([]byte, 256)
	n, _ := resp.Body.Read(buf)
	if !strings.Contains(string(buf[:n]), "5 tracks added") {
		t.Errorf("summary = %q", buf[:n])
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(&fakeSyncer{}, &fakeArchiver{})
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/history", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Headers"); !strings.Contains(got, "X-Clear-Password") {
		t.Errorf("Allow-Headers = %q", got)
	}
}
