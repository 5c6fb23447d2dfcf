// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/mx"
	"github.com/bureau-foundation/mx/lib/ref"
)

// roomEventMsg delivers one dispatched room event to the transcript.
// Sent from the client's handler goroutine via program.Send.
type roomEventMsg struct {
	event *mx.Event
}

// sendResultMsg reports the outcome of an asynchronous message send.
type sendResultMsg struct {
	err error
}

// syncStoppedMsg reports that the background sync loop gave up. The
// transcript stays readable but no longer updates.
type syncStoppedMsg struct {
	err error
}

// noticeFadeMsg clears the status-bar notice after a delay.
type noticeFadeMsg struct{}

const (
	// chromeLines is the fixed vertical space around the viewport:
	// header, separator, composer, status bar.
	chromeLines = 4

	// maxTranscriptLines bounds the retained transcript so resize
	// re-wraps stay cheap on long-running sessions.
	maxTranscriptLines = 2000

	// sendTimeout bounds a single message send.
	sendTimeout = 15 * time.Second

	// noticeFadeDelay is how long notices stay in the status bar
	// before fading back to the keyboard help line.
	noticeFadeDelay = 5 * time.Second
)

// keyMap defines the key bindings for the watch TUI. The composer has
// focus the whole time, so bindings are restricted to keys typing
// never needs.
type keyMap struct {
	Send     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Latest   key.Binding
	Quit     key.Binding
}

var defaultKeyMap = keyMap{
	Send: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "send"),
	),
	PageUp: key.NewBinding(
		key.WithKeys("pgup"),
		key.WithHelp("pgup", "scroll up"),
	),
	PageDown: key.NewBinding(
		key.WithKeys("pgdown"),
		key.WithHelp("pgdn", "scroll down"),
	),
	Latest: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "latest"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c"),
		key.WithHelp("C-c", "quit"),
	),
}

// theme holds the lipgloss styles for the watch TUI. ANSI 256-color
// codes for broad terminal compatibility.
type theme struct {
	header     lipgloss.Style
	faint      lipgloss.Style
	timestamp  lipgloss.Style
	sender     lipgloss.Style
	selfSender lipgloss.Style
	state      lipgloss.Style
	warnText   lipgloss.Style
	errorText  lipgloss.Style
	separator  lipgloss.Style
}

func defaultTheme() theme {
	return theme{
		header:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252")),
		faint:      lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		timestamp:  lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		sender:     lipgloss.NewStyle().Foreground(lipgloss.Color("75")),
		selfSender: lipgloss.NewStyle().Foreground(lipgloss.Color("114")),
		state:      lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		warnText:   lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		errorText:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		separator:  lipgloss.NewStyle().Foreground(lipgloss.Color("238")),
	}
}

// model is the bubbletea model for mx-watch: a scrolling transcript of
// one room above a composer line. Room events arrive as roomEventMsg
// from the client's dispatch handlers; sends run as bubbletea commands
// so the UI never blocks on the network.
type model struct {
	client   *mx.Client
	roomID   ref.RoomID
	roomName string
	selfID   ref.UserID

	keys  keyMap
	theme theme

	viewport viewport.Model
	input    textinput.Model

	// lines is the rendered transcript, oldest first. seen tracks
	// event IDs already shown: the history backfill and the first
	// sync round can overlap.
	lines []string
	seen  map[ref.EventID]struct{}

	width  int
	height int
	ready  bool

	notice      string
	noticeLevel noticeLevel
	syncErr     error
}

type noticeLevel int

const (
	noticeInfo noticeLevel = iota
	noticeWarn
	noticeError
)

// newModel builds the initial model. history is the pre-fetched room
// timeline, oldest first; it seeds the transcript before the first
// sync round delivers anything.
func newModel(client *mx.Client, roomID ref.RoomID, roomName string, selfID ref.UserID, history []*mx.Event) model {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "message"
	input.Focus()

	m := model{
		client:   client,
		roomID:   roomID,
		roomName: roomName,
		selfID:   selfID,
		keys:     defaultKeyMap,
		theme:    defaultTheme(),
		input:    input,
		seen:     make(map[ref.EventID]struct{}),
	}
	for _, event := range history {
		m.lines = append(m.lines, formatEvent(m.theme, m.selfID, event))
		m.seen[event.EventID] = struct{}{}
	}
	return m
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		viewportHeight := max(m.height-chromeLines, 1)
		if !m.ready {
			m.viewport = viewport.New(m.width, viewportHeight)
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = viewportHeight
		}
		m.input.Width = max(m.width-len(m.input.Prompt)-1, 10)
		m.setTranscript()
		m.viewport.GotoBottom()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Send):
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.Reset()
			return m, sendMessage(m.client, m.roomID, text)
		case key.Matches(msg, m.keys.PageUp):
			m.viewport.ViewUp()
			return m, nil
		case key.Matches(msg, m.keys.PageDown):
			m.viewport.ViewDown()
			return m, nil
		case key.Matches(msg, m.keys.Latest):
			m.input.Reset()
			m.viewport.GotoBottom()
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case roomEventMsg:
		if _, dup := m.seen[msg.event.EventID]; dup {
			return m, nil
		}
		m.seen[msg.event.EventID] = struct{}{}
		wasAtBottom := !m.ready || m.viewport.AtBottom()
		m.lines = append(m.lines, formatEvent(m.theme, m.selfID, msg.event))
		if len(m.lines) > maxTranscriptLines {
			m.lines = m.lines[len(m.lines)-maxTranscriptLines:]
		}
		if m.ready {
			m.setTranscript()
			if wasAtBottom {
				m.viewport.GotoBottom()
			}
		}
		return m, nil

	case sendResultMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("send failed: %v", msg.err)
			m.noticeLevel = noticeError
			return m, fadeNotice()
		}
		return m, nil

	case logLineMsg:
		m.notice = msg.text
		m.noticeLevel = msg.level
		return m, fadeNotice()

	case noticeFadeMsg:
		m.notice = ""
		return m, nil

	case syncStoppedMsg:
		m.syncErr = msg.err
		return m, nil
	}

	return m, nil
}

func (m model) View() string {
	if !m.ready {
		return "Connecting..."
	}
	sections := []string{
		m.renderHeader(),
		m.viewport.View(),
		m.theme.separator.Render(strings.Repeat("─", m.width)),
		m.input.View(),
		m.renderStatus(),
	}
	return strings.Join(sections, "\n")
}

func (m model) renderHeader() string {
	header := m.theme.header.Render(m.roomName)
	if m.roomName != m.roomID.String() {
		header += m.theme.faint.Render("  " + m.roomID.String())
	}
	return lipgloss.NewStyle().MaxWidth(m.width).Render(header)
}

func (m model) renderStatus() string {
	switch {
	case m.syncErr != nil:
		return m.theme.errorText.Render(fmt.Sprintf("sync stopped: %v", m.syncErr))
	case m.notice != "":
		style := m.theme.faint
		switch m.noticeLevel {
		case noticeWarn:
			style = m.theme.warnText
		case noticeError:
			style = m.theme.errorText
		}
		return lipgloss.NewStyle().MaxWidth(m.width).Render(style.Render(m.notice))
	default:
		return m.theme.faint.Render("enter send · pgup/pgdn scroll · esc latest · C-c quit")
	}
}

// setTranscript re-renders the transcript into the viewport, wrapped
// to the current width.
func (m *model) setTranscript() {
	content := strings.Join(m.lines, "\n")
	m.viewport.SetContent(lipgloss.NewStyle().Width(m.viewport.Width).Render(content))
}

// sendMessage sends the composer text as a markdown-formatted message
// off the UI goroutine.
func sendMessage(client *mx.Client, roomID ref.RoomID, text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		_, err := client.SendFormatted(ctx, roomID, text)
		return sendResultMsg{err: err}
	}
}

func fadeNotice() tea.Cmd {
	return tea.Tick(noticeFadeDelay, func(time.Time) tea.Msg {
		return noticeFadeMsg{}
	})
}

// formatEvent renders one event as a transcript line.
func formatEvent(th theme, selfID ref.UserID, event *mx.Event) string {
	timestamp := th.timestamp.Render(time.UnixMilli(event.OriginServerTS).Format("15:04"))

	switch {
	case event.Type == "m.room.message":
		body, _ := event.ContentString("body")
		if msgtype, _ := event.ContentString("msgtype"); msgtype == "m.emote" {
			return fmt.Sprintf("%s %s", timestamp,
				th.state.Render(fmt.Sprintf("* %s %s", event.Sender, body)))
		}
		senderStyle := th.sender
		if event.Sender == selfID {
			senderStyle = th.selfSender
		}
		return fmt.Sprintf("%s %s %s", timestamp,
			senderStyle.Render(event.Sender.String()+":"), body)

	case event.Type == "m.room.member":
		target := event.Sender.String()
		if event.StateKey != nil && *event.StateKey != "" {
			target = *event.StateKey
		}
		membership, _ := event.ContentString("membership")
		return fmt.Sprintf("%s %s", timestamp,
			th.state.Render(fmt.Sprintf("%s %s", target, membershipVerb(membership))))

	case event.IsState():
		return fmt.Sprintf("%s %s", timestamp,
			th.state.Render(fmt.Sprintf("%s set %s", event.Sender, event.Type)))

	default:
		return fmt.Sprintf("%s %s", timestamp,
			th.state.Render(fmt.Sprintf("%s sent %s", event.Sender, event.Type)))
	}
}

func membershipVerb(membership string) string {
	switch membership {
	case "join":
		return "joined"
	case "leave":
		return "left"
	case "invite":
		return "was invited"
	case "ban":
		return "was banned"
	case "knock":
		return "knocked"
	default:
		return membership
	}
}
