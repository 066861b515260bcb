package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; everything else
// is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	MuteChanged bool
	NewMute     bool

	SystemPromptChanged bool
	NewSystemPrompt     string

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.MuteChanged && !d.SystemPromptChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Voice.Mute != new.Voice.Mute {
		d.MuteChanged = true
		d.NewMute = new.Voice.Mute
	}
	if old.Persona.SystemPrompt != new.Persona.SystemPrompt {
		d.SystemPromptChanged = true
		d.NewSystemPrompt = new.Persona.SystemPrompt
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldVoice, newVoice := old.Voice, new.Voice
	oldVoice.Mute, newVoice.Mute = false, false

	for _, s := range []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"agent", old.Agent, new.Agent},
		{"providers", old.Providers, new.Providers},
		{"voice", oldVoice, newVoice},
		{"history", old.History, new.History},
	} {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
