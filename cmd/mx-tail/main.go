// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// mx-tail follows a homeserver's event stream from the terminal.
//
// On first run it logs in (prompting for the password) and saves the
// session file; later runs resume the saved session and sync cursor,
// so only events since the last run are printed. Timeline and state
// events go to stdout as text lines or, with --json, as JSON lines.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/mx"
	"github.com/bureau-foundation/mx/cmd/mxcli"
	"github.com/bureau-foundation/mx/lib/ref"
	"github.com/bureau-foundation/mx/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var homeserverURL string
	var userFlag string
	var passwordFile string
	var roomFlag string
	var modeFlag string
	var jsonOut bool
	var showPresence bool
	var verbose bool

	flagSet := pflag.NewFlagSet("mx-tail", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to mx.yaml (default: $MX_CONFIG)")
	flagSet.StringVar(&homeserverURL, "homeserver", "", "homeserver URL (overrides config)")
	flagSet.StringVar(&userFlag, "user", "", "user id to log in as (overrides config)")
	flagSet.StringVar(&passwordFile, "password-file", "", "path to file containing the password, or - for stdin (default: prompt)")
	flagSet.StringVar(&roomFlag, "room", "", "room id or alias to join before tailing")
	flagSet.StringVar(&modeFlag, "mode", "poll", "sync mode: poll or stream")
	flagSet.BoolVar(&jsonOut, "json", false, "print events as JSON lines instead of text")
	flagSet.BoolVar(&showPresence, "presence", false, "also print presence changes")
	flagSet.BoolVar(&verbose, "verbose", false, "log at debug level")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match other mx binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("mx-tail %s\n", version.Info())
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}

	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := mxcli.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if homeserverURL != "" {
		cfg.HomeserverURL = homeserverURL
	}
	if userFlag != "" {
		cfg.UserID = userFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var mode mx.ListenMode
	switch modeFlag {
	case "poll":
		mode = mx.Poll
	case "stream":
		mode = mx.Stream
	default:
		return fmt.Errorf("unknown --mode %q (want poll or stream)", modeFlag)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client, err := mx.NewClient(mx.Config{
		HomeserverURL: cfg.HomeserverURL,
		CacheLevel:    cfg.Level(),
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mxcli.OpenSession(ctx, client, cfg, passwordFile, logger); err != nil {
		return err
	}

	var filter *mx.Filter
	var filterID string
	if cfg.FilterPreset != "" {
		filter, err = mx.ReadFilterFile(cfg.FilterPreset)
		if err != nil {
			return err
		}
		filterID, err = client.UploadFilter(ctx, filter)
		if err != nil {
			return err
		}
	}

	if roomFlag != "" {
		if _, err := mxcli.JoinRoom(ctx, client, roomFlag); err != nil {
			return err
		}
	}

	out := &printer{out: os.Stdout, json: jsonOut}
	client.OnTimelineEvent(func(event *mx.Event) { out.event("timeline", event) })
	client.OnStateEvent(func(event *mx.Event) { out.event("state", event) })
	client.OnInvite(func(roomID ref.RoomID, invite *mx.InvitedRoom) {
		out.line("invited to %s (%d state events)", roomID, len(invite.InviteState.Events))
	})
	client.OnLeave(func(roomID ref.RoomID, left *mx.LeftRoom) {
		out.line("left %s", roomID)
	})
	if showPresence {
		client.OnPresence(func(event *mx.PresenceEvent) {
			out.line("presence %s %s", event.Sender, event.Content.Presence)
		})
	}

	syncErrs := make(chan error, 1)
	client.OnSyncError(func(failure mx.SyncFailure) {
		select {
		case syncErrs <- failure.Err:
		default:
		}
	})

	durations, err := cfg.Sync.Durations()
	if err != nil {
		return err
	}
	client.StartListening(mx.ListenOptions{
		Mode:           mode,
		Timeout:        durations.Timeout,
		PollDelay:      durations.PollDelay,
		BackoffSeed:    durations.BackoffSeed,
		BackoffCeiling: durations.BackoffCeiling,
		Filter:         filter,
		FilterID:       filterID,
		TimeoutRetries: 2,
	})

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-syncErrs:
		runErr = fmt.Errorf("sync stopped: %w", err)
	}

	client.StopListening()
	if err := mxcli.SaveSession(client, cfg); err != nil {
		logger.Error("saving session", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

// printer serializes event output. Handlers run on the sync
// goroutine, notices (invite, leave, presence) may interleave, and
// stdout must stay line-atomic.
type printer struct {
	out  io.Writer
	json bool
	mu   sync.Mutex
}

func (p *printer) event(kind string, event *mx.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		record := struct {
			Kind string `json:"kind"`
			*mx.Event
		}{kind, event}
		if err := json.NewEncoder(p.out).Encode(record); err != nil {
			fmt.Fprintf(os.Stderr, "error: encoding event: %v\n", err)
		}
		return
	}

	timestamp := time.UnixMilli(event.OriginServerTS).Format("15:04:05")
	switch {
	case event.Type == "m.room.message":
		body, _ := event.ContentString("body")
		fmt.Fprintf(p.out, "%s %s %s: %s\n", timestamp, event.RoomID, event.Sender, body)
	case event.IsState():
		fmt.Fprintf(p.out, "%s %s %s set %s %q\n", timestamp, event.RoomID, event.Sender, event.Type, *event.StateKey)
	default:
		fmt.Fprintf(p.out, "%s %s %s %s\n", timestamp, event.RoomID, event.Sender, event.Type)
	}
}

func (p *printer) line(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `mx-tail — follow a homeserver's event stream from the terminal.

The first run logs in and saves a session file; later runs resume the
saved session and sync cursor, printing only what happened since.

Configuration comes from --config, $MX_CONFIG, or flags alone. A
minimal invocation needs just a homeserver and a user:

Usage:
  mx-tail [flags]

Examples:
  # First run: log in and follow everything
  mx-tail --homeserver https://matrix.example.org --user @pipeline:example.org

  # Resume the saved session, joining a room first
  mx-tail --homeserver https://matrix.example.org --room '#status:example.org'

  # Server-push stream instead of long-polling, JSON output
  mx-tail --config mx.yaml --mode stream --json

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
