package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/makrame5/healthconnect/internal/call"
)

// CallController is the slice of the call controller the screen needs.
// Narrowed to an interface so tests can drive the screen with a fake.
type CallController interface {
	StartCall() error
	ToggleMic() (bool, error)
	ToggleVideo() (bool, error)
	ToggleScreenShare() (bool, error)
	EndCall() error
	Shutdown()
	Updates() <-chan call.Snapshot
}

type snapshotMsg call.Snapshot

type updatesClosedMsg struct{}

type actionErrMsg struct{ err error }

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// CallModel is the Bubble Tea model for the live consultation screen.
type CallModel struct {
	controller CallController

	snapshot   call.Snapshot
	spinner    spinner.Model
	startedAt  time.Time
	elapsed    time.Duration
	confirmEnd bool
	actionErr  string
	quitting   bool

	autoStart bool
	started   bool

	width int
}

// NewCallModel builds the consultation screen. With autoStart set the
// call begins as soon as the screen comes up; otherwise the user presses
// "c" to start and can still receive an incoming call while waiting.
func NewCallModel(controller CallController, roomID string, autoStart bool) *CallModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &CallModel{
		controller: controller,
		snapshot:   call.Snapshot{State: call.StateIdle, RoomID: roomID},
		spinner:    s,
		autoStart:  autoStart,
		width:      80,
	}
}

func (m *CallModel) Init() tea.Cmd {
	cmds := []tea.Cmd{
		m.spinner.Tick,
		m.waitForSnapshot(),
		tickCmd(),
	}
	if m.autoStart {
		cmds = append(cmds, m.startCall())
	}
	return tea.Batch(cmds...)
}

func (m *CallModel) waitForSnapshot() tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-m.controller.Updates()
		if !ok {
			return updatesClosedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func (m *CallModel) startCall() tea.Cmd {
	m.started = true
	m.startedAt = time.Now()
	return func() tea.Msg {
		return actionErrMsg{err: m.controller.StartCall()}
	}
}

func (m *CallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		if m.started && !m.startedAt.IsZero() {
			m.elapsed = time.Since(m.startedAt)
		}
		if !m.quitting {
			cmds = append(cmds, tickCmd())
		}

	case snapshotMsg:
		m.snapshot = call.Snapshot(msg)
		if m.snapshot.State == call.StateEnded {
			m.quitting = true
			return m, tea.Quit
		}
		cmds = append(cmds, m.waitForSnapshot())

	case updatesClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case actionErrMsg:
		if msg.err != nil {
			m.actionErr = msg.err.Error()
		} else {
			m.actionErr = ""
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *CallModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirmEnd {
		switch msg.String() {
		case "y", "Y":
			m.confirmEnd = false
			return m, func() tea.Msg {
				return actionErrMsg{err: m.controller.EndCall()}
			}
		case "n", "N", "esc":
			m.confirmEnd = false
		}
		return m, nil
	}

	switch msg.String() {
	case "c":
		if !m.started {
			return m, m.startCall()
		}

	case "m":
		return m, func() tea.Msg {
			_, err := m.controller.ToggleMic()
			return actionErrMsg{err: err}
		}

	case "v":
		return m, func() tea.Msg {
			_, err := m.controller.ToggleVideo()
			return actionErrMsg{err: err}
		}

	case "s":
		return m, func() tea.Msg {
			_, err := m.controller.ToggleScreenShare()
			return actionErrMsg{err: err}
		}

	case "e":
		if m.snapshot.State != call.StateIdle {
			m.confirmEnd = true
		}

	case "q", "ctrl+c":
		m.quitting = true
		m.controller.Shutdown()
		return m, tea.Quit
	}

	return m, nil
}

func (m *CallModel) View() string {
	var b strings.Builder

	header := HeaderStyle.Render(fmt.Sprintf("%s HealthConnect - Video Consultation", IconDoctor))
	b.WriteString(header + "\n\n")

	b.WriteString(fmt.Sprintf("%s Room: %s\n", IconRoom, BoldStyle.Render(m.snapshot.RoomID)))
	b.WriteString(m.participantLine() + "\n")
	b.WriteString(m.statusLine() + "\n")

	if m.snapshot.State == call.StateConnected {
		b.WriteString(m.deviceLine() + "\n")
		b.WriteString(fmt.Sprintf("%s  Elapsed: %s\n", IconTime, m.elapsed.Round(time.Second)))
	}

	if m.snapshot.Notice != "" {
		b.WriteString("\n" + WarningStyle.Render(m.snapshot.Notice) + "\n")
	}
	if m.actionErr != "" {
		b.WriteString("\n" + ErrorStyle.Render(m.actionErr) + "\n")
	}

	if m.confirmEnd {
		b.WriteString("\n" + BoldStyle.Render("End the consultation? (y/n)") + "\n")
	} else {
		b.WriteString("\n" + FooterStyle.Render(m.footer()) + "\n")
	}

	return ContainerStyle.Render(b.String())
}

func (m *CallModel) participantLine() string {
	if m.snapshot.Peer == nil {
		return fmt.Sprintf("%s Waiting for the other participant %s", IconPeer, m.spinner.View())
	}

	presence := SuccessStyle.Render("online")
	if !m.snapshot.PeerOnline {
		presence = ErrorStyle.Render("disconnected")
	}
	return fmt.Sprintf("%s %s (%s)", IconPeer, m.snapshot.Peer.UserName, presence)
}

func (m *CallModel) statusLine() string {
	switch m.snapshot.State {
	case call.StateIdle:
		if m.started {
			return MutedStyle.Render("Preparing call...")
		}
		return MutedStyle.Render("Press 'c' to start the consultation")
	case call.StateAcquiringMedia:
		return fmt.Sprintf("%s Accessing camera and microphone %s", IconCamera, m.spinner.View())
	case call.StateNegotiating:
		return fmt.Sprintf("%s Connecting %s", IconConnect, m.spinner.View())
	case call.StateConnected:
		return StatusStyle.Render("● LIVE")
	case call.StateFailed:
		return ErrorStyle.Render("Connection failed")
	default:
		return MutedStyle.Render(m.snapshot.State.String())
	}
}

func (m *CallModel) deviceLine() string {
	onOff := func(off bool, on, offLabel string) string {
		if off {
			return ErrorStyle.Render(offLabel)
		}
		return SuccessStyle.Render(on)
	}

	line := fmt.Sprintf("%s mic %s   %s cam %s",
		IconMic, onOff(m.snapshot.MicMuted, "on", "muted"),
		IconCamera, onOff(m.snapshot.CameraOff, "on", "off"),
	)
	if m.snapshot.ScreenSharing {
		line += fmt.Sprintf("   %s sharing screen", IconScreen)
	}

	var peerBadges []string
	if m.snapshot.PeerStatus.MicMuted {
		peerBadges = append(peerBadges, "peer muted")
	}
	if m.snapshot.PeerStatus.CameraOff {
		peerBadges = append(peerBadges, "peer camera off")
	}
	if m.snapshot.PeerStatus.ScreenSharing {
		peerBadges = append(peerBadges, "peer sharing screen")
	}
	if len(peerBadges) > 0 {
		line += "   " + MutedStyle.Render(strings.Join(peerBadges, ", "))
	}

	return line
}

func (m *CallModel) footer() string {
	if !m.started {
		return "c: start call • q: quit"
	}
	return "m: mic • v: camera • s: screen share • e: end call • q: quit"
}

// RunCallScreen runs the consultation screen until the call ends or the
// user quits.
func RunCallScreen(controller CallController, roomID string, autoStart bool) error {
	p := tea.NewProgram(NewCallModel(controller, roomID, autoStart))
	_, err := p.Run()
	return err
}
