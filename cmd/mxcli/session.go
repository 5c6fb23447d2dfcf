// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mxcli holds the session bootstrap shared by the mx command
// line tools: configuration resolution, saved-session resume with a
// password-login fallback, and session persistence. Analogous to SSH
// keys — log in once, and every later run of any mx binary resumes
// the saved session and sync cursor transparently.
package mxcli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/bureau-foundation/mx"
	"github.com/bureau-foundation/mx/lib/config"
	"github.com/bureau-foundation/mx/lib/ref"
	"github.com/bureau-foundation/mx/lib/secret"
	"github.com/bureau-foundation/mx/lib/sessionfile"
)

// LoadConfig resolves the configuration: an explicit --config path
// wins, then $MX_CONFIG, then built-in defaults completed by flags.
func LoadConfig(explicitPath string) (*config.Config, error) {
	if explicitPath != "" {
		return config.LoadFile(explicitPath)
	}
	if os.Getenv("MX_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

// OpenSession resumes the saved session when one exists and still
// works, and performs a fresh password login otherwise. After a fresh
// login the new session is written back immediately so an interrupted
// run does not lose the token.
func OpenSession(ctx context.Context, client *mx.Client, cfg *config.Config, passwordFile string, logger *slog.Logger) error {
	state, err := sessionfile.Load(cfg.SessionFile, nil)
	switch {
	case err == nil:
		resumeErr := resumeSession(ctx, client, state)
		if resumeErr == nil {
			logger.Info("session resumed",
				"user_id", state.UserID,
				"has_cursor", state.NextBatch != "",
			)
			return nil
		}
		logger.Warn("saved session rejected, logging in again", "error", resumeErr)
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("loading session file: %w", err)
	}

	if cfg.UserID == "" {
		return fmt.Errorf("no saved session and no user_id configured (set user_id or pass --user)")
	}
	userID, err := ref.ParseUserID(cfg.UserID)
	if err != nil {
		return err
	}

	password, err := ReadPassword(passwordFile)
	if err != nil {
		return err
	}
	defer password.Close()

	if err := client.Login(ctx, userID, password); err != nil {
		return err
	}
	return SaveSession(client, cfg)
}

// resumeSession installs a saved session and verifies the token is
// still valid with a whoami round trip.
func resumeSession(ctx context.Context, client *mx.Client, state *sessionfile.State) error {
	token, err := secret.NewFromString(state.AccessToken)
	if err != nil {
		return err
	}
	if err := client.UseSession(state.UserID, state.DeviceID, token); err != nil {
		return err
	}
	client.SetSyncPosition(state.NextBatch)
	client.SetFilterIDs(state.FilterIDs)

	if _, err := client.WhoAmI(ctx); err != nil {
		return err
	}
	return nil
}

// SaveSession persists the live session, including the sync cursor, so
// the next run resumes where this one stopped. A client that never
// logged in is a no-op.
func SaveSession(client *mx.Client, cfg *config.Config) error {
	token := client.AccessToken()
	if token == "" {
		return nil
	}
	if err := cfg.EnsureSessionDir(); err != nil {
		return err
	}
	return sessionfile.Save(cfg.SessionFile, &sessionfile.State{
		UserID:      client.UserID(),
		DeviceID:    client.DeviceID(),
		AccessToken: token,
		NextBatch:   client.SyncPosition(),
		FilterIDs:   client.FilterIDs(),
	})
}

// ReadPassword reads the login password. With a path (or "-" for
// stdin) the file content is used; otherwise the terminal is prompted
// with echo disabled.
func ReadPassword(passwordFile string) (*secret.Buffer, error) {
	if passwordFile != "" {
		return secret.ReadFromPath(passwordFile)
	}

	stdinFileDescriptor := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFileDescriptor) {
		return nil, fmt.Errorf("no terminal available for interactive password prompt (use --password-file)")
	}

	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(stdinFileDescriptor)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}

	buffer, err := secret.NewFromBytes(passwordBytes)
	if err != nil {
		secret.Zero(passwordBytes)
		return nil, err
	}
	return buffer, nil
}

// JoinRoom joins by alias (#name:domain) or by room id (!id:domain)
// and returns the joined room. Joining a room the user is already in
// is idempotent on the server side.
func JoinRoom(ctx context.Context, client *mx.Client, raw string) (*mx.Room, error) {
	kind, err := ref.KindOf(raw)
	if err != nil {
		return nil, fmt.Errorf("room %q: %w", raw, err)
	}
	switch kind {
	case ref.KindAlias:
		alias, err := ref.ParseRoomAlias(raw)
		if err != nil {
			return nil, err
		}
		return client.JoinRoomByAlias(ctx, alias)
	case ref.KindRoom:
		roomID, err := ref.ParseRoomID(raw)
		if err != nil {
			return nil, err
		}
		return client.JoinRoom(ctx, roomID)
	default:
		return nil, fmt.Errorf("room %q: want a room id (!) or alias (#), got %s identifier", raw, kind)
	}
}
