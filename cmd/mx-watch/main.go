// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// mx-watch is a full-screen terminal client for a single room: a live
// transcript fed by the sync loop, with a composer line for sending
// markdown-formatted messages.
//
// Like mx-tail it logs in on first run and resumes the saved session
// afterwards. The transcript is seeded from recent room history, then
// follows new events as the background listener delivers them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/mx"
	"github.com/bureau-foundation/mx/cmd/mxcli"
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
	var backfillLimit int

	flagSet := pflag.NewFlagSet("mx-watch", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to mx.yaml (default: $MX_CONFIG)")
	flagSet.StringVar(&homeserverURL, "homeserver", "", "homeserver URL (overrides config)")
	flagSet.StringVar(&userFlag, "user", "", "user id to log in as (overrides config)")
	flagSet.StringVar(&passwordFile, "password-file", "", "path to file containing the password, or - for stdin (default: prompt)")
	flagSet.StringVar(&roomFlag, "room", "", "room id or alias to watch (required)")
	flagSet.StringVar(&modeFlag, "mode", "poll", "sync mode: poll or stream")
	flagSet.IntVar(&backfillLimit, "backfill", 25, "events of room history to preload, 0 to disable")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match other mx binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("mx-watch %s\n", version.Info())
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

	if roomFlag == "" {
		return fmt.Errorf("--room is required")
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

	// The client logs into the status bar once the program runs; the
	// bootstrap phase (login, join, backfill) still owns the terminal
	// and logs to stderr.
	logHandler := newStatusLogHandler(slog.LevelWarn)
	client, err := mx.NewClient(mx.Config{
		HomeserverURL: cfg.HomeserverURL,
		CacheLevel:    cfg.Level(),
		Logger:        slog.New(logHandler),
	})
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := mxcli.OpenSession(ctx, client, cfg, passwordFile, bootstrapLogger); err != nil {
		return err
	}

	if cfg.FilterPreset != "" {
		filter, err := mx.ReadFilterFile(cfg.FilterPreset)
		if err != nil {
			return err
		}
		if _, err := client.UploadFilter(ctx, filter); err != nil {
			return err
		}
	}

	room, err := mxcli.JoinRoom(ctx, client, roomFlag)
	if err != nil {
		return err
	}
	roomID := room.ID()

	roomName, err := room.Name(ctx)
	if err != nil || roomName == "" {
		roomName = roomID.String()
	}

	var history []*mx.Event
	if backfillLimit > 0 {
		response, err := client.RoomMessages(ctx, roomID, mx.RoomMessagesOptions{Limit: backfillLimit})
		if err != nil {
			bootstrapLogger.Warn("history backfill failed", "error", err)
		} else {
			// Backwards pagination returns newest first; the
			// transcript wants oldest first.
			history = make([]*mx.Event, len(response.Chunk))
			for index, event := range response.Chunk {
				history[len(history)-1-index] = event
			}
		}
	}

	program := tea.NewProgram(
		newModel(client, roomID, roomName, client.UserID(), history),
		tea.WithAltScreen(),
		tea.WithMouseAllMotion(),
	)
	logHandler.SetProgram(program)

	client.OnTimelineEvent(func(event *mx.Event) {
		if event.RoomID == roomID {
			program.Send(roomEventMsg{event: event})
		}
	})
	client.OnStateEvent(func(event *mx.Event) {
		if event.RoomID == roomID {
			program.Send(roomEventMsg{event: event})
		}
	})
	client.OnSyncError(func(failure mx.SyncFailure) {
		program.Send(syncStoppedMsg{err: failure.Err})
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
		TimeoutRetries: 2,
	})

	go func() {
		<-ctx.Done()
		program.Quit()
	}()

	_, runErr := program.Run()

	client.StopListening()
	if err := mxcli.SaveSession(client, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: saving session: %v\n", err)
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `mx-watch — a live terminal view of a single room.

The transcript shows recent history and follows new events; the
composer line sends markdown-formatted messages. The first run logs in
and saves a session file; later runs resume it.

Usage:
  mx-watch --room ROOM [flags]

Examples:
  # Watch a room by alias
  mx-watch --config mx.yaml --room '#status:example.org'

  # First run: log in, then watch by room id over a push stream
  mx-watch --homeserver https://matrix.example.org --user @ops:example.org \
    --room '!a1b2c3:example.org' --mode stream

Keys:
  enter      send the composer line
  pgup/pgdn  scroll the transcript
  esc        clear the composer and jump to the newest message
  ctrl+c     quit (the session and cursor are saved)

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
