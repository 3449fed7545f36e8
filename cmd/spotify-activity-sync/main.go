// Command spotify-activity-sync runs the listening-activity sync service:
// scheduled history synchronization, the daily clear, and the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/justestif/go-spotify-activity-sync/internal/archive"
	"github.com/justestif/go-spotify-activity-sync/internal/config"
	"github.com/justestif/go-spotify-activity-sync/internal/github"
	"github.com/justestif/go-spotify-activity-sync/internal/scheduler"
	"github.com/justestif/go-spotify-activity-sync/internal/spotify"
	"github.com/justestif/go-spotify-activity-sync/internal/store"
	syncsvc "github.com/justestif/go-spotify-activity-sync/internal/sync"
	"github.com/justestif/go-spotify-activity-sync/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	backend := github.NewClient(cfg.GitHubToken, cfg.GitHubRepo, cfg.GitHubBranch)
	st := store.New(backend, log)

	creds := spotify.Credentials{
		ClientID:     cfg.SpotifyClientID,
		ClientSecret: cfg.SpotifyClientSecret,
	}
	factory := func(ctx context.Context, refreshToken string) (syncsvc.ActivityClient, error) {
		return spotify.New(ctx, creds, refreshToken)
	}

	users := make(map[string]string, len(cfg.RefreshTokens))
	for label, token := range cfg.RefreshTokens {
		users[label] = token.RefreshToken
	}

	syncer := syncsvc.New(st, factory, users, log)
	archiver := archive.New(st, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(scheduler.Config{
		ClearHour:    cfg.ClearHour,
		ClearMinute:  cfg.ClearMinute,
		SyncInterval: cfg.SyncInterval,
	}, passRunner{syncer}, clearRunner{archiver}, log)
	go sched.Run(ctx)

	handlers := web.NewHandlers(syncer, archiver, cfg.ClearPassword, cfg.BackupPassword, log)
	server := web.NewServer(web.ServerConfig{Addr: cfg.Addr}, handlers, log)

	return server.Run()
}

// passRunner and clearRunner adapt the services to the scheduler's
// error-only contract.
type passRunner struct {
	syncer *syncsvc.Service
}

func (r passRunner) RunPass(ctx context.Context) error {
	_, err := r.syncer.Run(ctx)
	return err
}

type clearRunner struct {
	archiver *archive.Service
}

func (r clearRunner) RunClear(ctx context.Context) error {
	_, err := r.archiver.Clear(ctx)
	return err
}
