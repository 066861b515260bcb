package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Send        key.Binding
	Voice       key.Binding
	Confirm     key.Binding
	Cancel      key.Binding
	ToggleSpeak key.Binding
	History     key.Binding
	Clear       key.Binding
	Up          key.Binding
	Down        key.Binding
	Back        key.Binding
	Quit        key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Send: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send"),
		),
		Voice: key.NewBinding(
			key.WithKeys("ctrl+r"),
			key.WithHelp("ctrl+r", "record/stop"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("ctrl+y"),
			key.WithHelp("ctrl+y", "run code"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("ctrl+n"),
			key.WithHelp("ctrl+n", "cancel"),
		),
		ToggleSpeak: key.NewBinding(
			key.WithKeys("ctrl+t"),
			key.WithHelp("ctrl+t", "voice on/off"),
		),
		History: key.NewBinding(
			key.WithKeys("ctrl+o"),
			key.WithHelp("ctrl+o", "history"),
		),
		Clear: key.NewBinding(
			key.WithKeys("ctrl+x"),
			key.WithHelp("ctrl+x", "clear history"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "pgup"),
			key.WithHelp("↑", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "pgdown"),
			key.WithHelp("↓", "scroll down"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c", "esc"),
			key.WithHelp("esc", "quit"),
		),
	}
}

// chatKeys is the help shown below the input.
type chatKeys struct{ keyMap }

func (k chatKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.Voice, k.ToggleSpeak, k.History, k.Quit}
}

func (k chatKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Send, k.Voice, k.ToggleSpeak},
		{k.Confirm, k.Cancel},
		{k.History, k.Quit},
	}
}

// confirmKeys is the help shown while an action awaits confirmation.
type confirmKeys struct{ keyMap }

func (k confirmKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Confirm, k.Cancel, k.Send, k.Quit}
}

func (k confirmKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

// historyKeys is the help shown in the history view.
type historyKeys struct{ keyMap }

func (k historyKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Clear, k.Back}
}

func (k historyKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}
