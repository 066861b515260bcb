// Package ui is the terminal presentation of the pet: a reply bubble, a
// status line and a text input, plus a history view.
//
// The model never reads controller internals while a worker runs. Results
// arrive as [pet.Event] values, pulled one at a time by a command that
// blocks on the controller's event channel and is re-armed after every
// delivery.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/iopet/internal/pet"
	"github.com/MrWong99/iopet/pkg/backend"
	"github.com/MrWong99/iopet/pkg/history"
)

// Status texts set by the presentation itself.
const (
	greeting          = "Hi, I'm Io! Type something or press ctrl+r to talk."
	msgBusy           = "Still working on the last one..."
	msgVoiceOff       = "Voice input is not available"
	msgSpeakOn        = "Voice replies on"
	msgSpeakOff       = "Voice replies off"
	msgHistoryCleared = "History cleared"
	msgConfirmHint    = "ctrl+y to run, ctrl+n to cancel"
	inputLimit        = 500
)

// Pet is the controller surface the presentation drives.
// *pet.Controller implements it.
type Pet interface {
	Events() <-chan pet.Event
	State() pet.State
	Busy() bool
	VoiceInput() bool
	VoiceOutput() bool
	SetVoiceOutput(on bool)
	Submit(text string) error
	ToggleVoice() error
	Confirm() error
	Cancel() error
}

// History is the conversation log as seen by the history view.
// *history.Log implements it.
type History interface {
	Recent() []history.Turn
	Clear(ctx context.Context) error
}

type screen int

const (
	screenChat screen = iota
	screenHistory
)

type (
	eventMsg          pet.Event
	eventsClosedMsg   struct{}
	historyClearedMsg struct{ err error }
)

// Model is the bubbletea model.
type Model struct {
	pet  Pet
	hist History

	width  int
	height int
	screen screen

	input    textinput.Model
	viewport viewport.Model
	help     help.Model
	keys     keyMap

	// Chat
	utterance string
	bubble    string
	mode      backend.Mode
	status    string
	state     pet.State
	err       error
}

// New returns a model driving p, with h behind the history view.
func New(p Pet, h History) Model {
	in := textinput.New()
	in.Placeholder = "Say something to Io..."
	in.CharLimit = inputLimit
	in.Prompt = "> "
	in.Focus()

	return Model{
		pet:      p,
		hist:     h,
		input:    in,
		viewport: viewport.New(60, 12),
		help:     help.New(),
		keys:     defaultKeys(),
		bubble:   greeting,
		state:    p.State(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForEvent(m.pet.Events()))
}

// waitForEvent delivers the next controller event as a message.
func waitForEvent(ch <-chan pet.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m Model) clearHistory() tea.Cmd {
	return func() tea.Msg {
		return historyClearedMsg{err: m.hist.Clear(context.Background())}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case eventMsg:
		m.apply(pet.Event(msg))
		m.syncInput()
		return m, waitForEvent(m.pet.Events())

	case eventsClosedMsg:
		return m, tea.Quit

	case historyClearedMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.status = msgHistoryCleared
		}
		m.refreshHistory()
		return m, nil

	case tea.KeyMsg:
		if m.screen == screenHistory {
			return m.updateHistory(msg)
		}
		return m.updateChat(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.err = nil
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Send):
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		if err := m.pet.Submit(text); err != nil {
			m.report(err)
			return m, nil
		}
		m.utterance = text
		m.input.Reset()
		m.syncInput()
		return m, nil

	case key.Matches(msg, m.keys.Voice):
		if err := m.pet.ToggleVoice(); err != nil {
			m.report(err)
		}
		m.syncInput()
		return m, nil

	case key.Matches(msg, m.keys.Confirm):
		if err := m.pet.Confirm(); err != nil && !errors.Is(err, pet.ErrNothingPending) {
			m.report(err)
		}
		m.syncInput()
		return m, nil

	case key.Matches(msg, m.keys.Cancel):
		if err := m.pet.Cancel(); err != nil && !errors.Is(err, pet.ErrNothingPending) {
			m.report(err)
		}
		return m, nil

	case key.Matches(msg, m.keys.ToggleSpeak):
		on := !m.pet.VoiceOutput()
		m.pet.SetVoiceOutput(on)
		m.status = msgSpeakOff
		if m.pet.VoiceOutput() {
			m.status = msgSpeakOn
		}
		return m, nil

	case key.Matches(msg, m.keys.History):
		m.screen = screenHistory
		m.refreshHistory()
		m.viewport.GotoTop()
		return m, nil
	}

	if m.pet.Busy() {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateHistory(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.String() == "ctrl+c":
		return m, tea.Quit
	case key.Matches(msg, m.keys.Back), key.Matches(msg, m.keys.History):
		m.screen = screenChat
		return m, nil
	case key.Matches(msg, m.keys.Clear):
		return m, m.clearHistory()
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// apply folds a controller event into the view state.
func (m *Model) apply(ev pet.Event) {
	m.state = ev.State
	switch ev.Kind {
	case pet.EventStatus:
		m.status = ev.Text
	case pet.EventTranscript:
		m.utterance = ev.Text
		m.status = ""
	case pet.EventNotice:
		m.bubble = ev.Text
		m.mode = ""
		m.status = ""
	case pet.EventReply, pet.EventExecuted, pet.EventCanceled:
		m.bubble = ev.Text
		m.mode = ev.Mode
		m.status = ""
	case pet.EventConfirm:
		m.bubble = ev.Text
		m.mode = ev.Mode
		m.status = msgConfirmHint
	}
}

// syncInput disables the input while a worker is in flight.
func (m *Model) syncInput() {
	if m.pet.Busy() {
		m.input.Blur()
	} else {
		m.input.Focus()
	}
}

func (m *Model) report(err error) {
	switch {
	case errors.Is(err, pet.ErrBusy):
		m.status = msgBusy
	case errors.Is(err, pet.ErrVoiceUnavailable):
		m.status = msgVoiceOff
	default:
		m.err = err
	}
}

func (m *Model) refreshHistory() {
	m.viewport.SetContent(FormatHistory(m.hist.Recent()))
}

func (m *Model) resize() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	w := m.width - 4
	if w < 20 {
		w = 20
	}
	h := m.height - 4
	if h < 5 {
		h = 5
	}
	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - len(m.input.Prompt) - 1
	m.help.Width = m.width
}

// View implements tea.Model.
func (m Model) View() string {
	if m.screen == screenHistory {
		return lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Conversation history (newest first)"),
			panelStyle.Render(m.viewport.View()),
			m.footer(),
			m.help.View(historyKeys{m.keys}),
		)
	}

	width := m.width - 4
	if width < 20 {
		width = 60
	}
	parts := []string{titleStyle.Render("Io") + " " + m.badges()}
	if m.utterance != "" {
		parts = append(parts, userStyle.Render("You: ")+m.utterance)
	}
	parts = append(parts,
		bubbleStyle(m.mode).Width(width).Render(m.bubble),
		m.footer(),
		m.input.View(),
	)
	var keys help.KeyMap = chatKeys{m.keys}
	if m.state == pet.AwaitingConfirmation {
		keys = confirmKeys{m.keys}
	}
	parts = append(parts, m.help.View(keys))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) badges() string {
	var b []string
	if m.pet.VoiceInput() {
		b = append(b, "mic")
	}
	if m.pet.VoiceOutput() {
		b = append(b, "speaker")
	}
	if len(b) == 0 {
		return ""
	}
	return dimStyle.Render("[" + strings.Join(b, " ") + "]")
}

func (m Model) footer() string {
	if m.err != nil {
		return errorStyle.Render("error: " + m.err.Error())
	}
	if m.status == "" {
		return dimStyle.Render(" ")
	}
	return statusStyle.Render(m.status)
}

// FormatHistory renders turns as shown in the history view, in the order
// given.
func FormatHistory(turns []history.Turn) string {
	if len(turns) == 0 {
		return "No conversations yet."
	}
	var sb strings.Builder
	for i, t := range turns {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "[%s]\nYou: %s\nIo:  %s\n", t.Time, t.User, t.AI)
	}
	return sb.String()
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("213"))
	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("24")).
			Padding(0, 1)
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// bubbleStyle colours the reply border by mode.
func bubbleStyle(mode backend.Mode) lipgloss.Style {
	color := lipgloss.Color("213")
	switch mode {
	case backend.ModeAgent:
		color = lipgloss.Color("214")
	case backend.ModeFallback:
		color = lipgloss.Color("245")
	case backend.ModeNone:
		color = lipgloss.Color("196")
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder(), true).
		BorderForeground(color).
		Padding(0, 1)
}
