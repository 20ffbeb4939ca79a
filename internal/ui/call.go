package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/BioHazard786/meshcall/internal/call"
)

// CallControls are the actions the call view can trigger.
type CallControls interface {
	ToggleAudio()
	ToggleVideo()
	Rejoin()
}

type snapshotMsg call.Snapshot

type updatesClosedMsg struct{}

// CallModel is the live view of one call. It renders snapshots published by
// the call and turns key presses into call actions.
type CallModel struct {
	controls CallControls
	updates  <-chan call.Snapshot

	snap     call.Snapshot
	spinner  spinner.Model
	width    int
	quitting bool
}

// NewCallModel creates the view. initial is shown until the first update.
func NewCallModel(controls CallControls, updates <-chan call.Snapshot, initial call.Snapshot) *CallModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &CallModel{
		controls: controls,
		updates:  updates,
		snap:     initial,
		spinner:  s,
		width:    80,
	}
}

// Snapshot is the state currently on screen.
func (m *CallModel) Snapshot() call.Snapshot {
	return m.snap
}

func (m *CallModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForSnapshot())
}

func (m *CallModel) waitForSnapshot() tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-m.updates
		if !ok {
			return updatesClosedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func (m *CallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "m":
			m.controls.ToggleAudio()
		case "v":
			m.controls.ToggleVideo()
		case "r":
			m.controls.Rejoin()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case snapshotMsg:
		m.snap = call.Snapshot(msg)
		return m, m.waitForSnapshot()

	case updatesClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *CallModel) View() string {
	if m.quitting {
		return ""
	}
	s := m.snap

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s %s", IconRoom, s.RoomID)))
	b.WriteString("  ")
	b.WriteString(m.statusBadge(s.Status))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("%s %s %s  %s  %s\n",
		IconPeer, BoldStyle.Render(s.UserName), MutedStyle.Render("(you)"),
		mediaIcon(s.AudioEnabled, IconMic, IconMicOff),
		mediaIcon(s.VideoEnabled, IconCamera, IconCameraOff)))

	switch s.Status {
	case call.StatusConnecting:
		b.WriteString(fmt.Sprintf("\n%s Connecting...\n", m.spinner.View()))
	case call.StatusWaiting:
		if s.ParticipantCount == 0 {
			b.WriteString(fmt.Sprintf("\n%s Waiting for others to join %s\n", m.spinner.View(), BoldStyle.Render(s.RoomID)))
		}
	}

	if len(s.Participants) > 0 {
		b.WriteString("\n")
		b.WriteString(MutedStyle.Render(plural(s.ParticipantCount, "participant")))
		b.WriteString("\n")
		for _, p := range s.Participants {
			b.WriteString(m.participantLine(p))
			b.WriteString("\n")
		}
	}

	if s.Err != nil {
		b.WriteString("\n")
		b.WriteString(ErrorBoxStyle.Render(fmt.Sprintf("%s %s", IconError, s.Err.Error())))
		b.WriteString("\n")
	}
	if s.ServerError != "" {
		b.WriteString(fmt.Sprintf("\n%s %s\n", WarningStyle.Render(IconWarning), WarningStyle.Render(s.ServerError)))
	}
	if s.NeedsRejoin {
		b.WriteString(fmt.Sprintf("\n%s %s\n", IconConnect, WarningStyle.Render("Reconnected to the server. Press r to rejoin the room.")))
	}

	b.WriteString(FooterStyle.Render("m mute · v video · r rejoin · q hang up"))
	return b.String()
}

func (m *CallModel) statusBadge(status call.Status) string {
	switch status {
	case call.StatusConnecting:
		return ConnectingBadge.Render("connecting")
	case call.StatusWaiting:
		return WaitingBadge.Render("waiting")
	case call.StatusConnected:
		return ConnectedBadge.Render("connected")
	case call.StatusError:
		return ErrorBadge.Render("error")
	default:
		return DisconnectedBadge.Render(string(status))
	}
}

func (m *CallModel) participantLine(p call.Participant) string {
	var icon string
	var name lipgloss.Style
	switch p.State {
	case call.SessionConnected:
		icon, name = SuccessStyle.Render("●"), lipgloss.NewStyle()
	case call.SessionNegotiating, call.SessionIdle:
		icon, name = m.spinner.View(), MutedStyle
	default:
		icon, name = ErrorStyle.Render("○"), MutedStyle
	}
	return fmt.Sprintf("  %s %s %s %s  %s",
		icon,
		name.Width(24).Render(truncate(p.Name, 22)),
		mediaIcon(p.Audio, IconMic, IconMicOff),
		mediaIcon(p.Video, IconCamera, IconCameraOff),
		MutedStyle.Render(p.State.String()))
}

func mediaIcon(on bool, onIcon, offIcon string) string {
	if on {
		return onIcon
	}
	return offIcon
}

// RunCall runs the call view until the user hangs up, the call closes or
// ctx is cancelled.
func RunCall(ctx context.Context, controls CallControls, updates <-chan call.Snapshot, initial call.Snapshot) error {
	_, err := tea.NewProgram(NewCallModel(controls, updates, initial), tea.WithContext(ctx)).Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
