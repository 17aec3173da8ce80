package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the dashboard key bindings with built-in help text.
type KeyMap struct {
	Quit          key.Binding
	ForceQuit     key.Binding
	Help          key.Binding
	NextPanel     key.Binding
	PrevPanel     key.Binding
	Up            key.Binding
	Down          key.Binding
	Pause         key.Binding
	NextProject   key.Binding
	ResetPatterns key.Binding
	IntervalUp    key.Binding
	IntervalDown  key.Binding
}

func bind(help string, keys ...string) key.Binding {
	return key.NewBinding(key.WithKeys(keys...), key.WithHelp(keys[0], help))
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	km := KeyMap{
		Quit:          bind("quit", "q"),
		ForceQuit:     bind("force quit", "ctrl+c"),
		Help:          bind("help", "?"),
		NextPanel:     bind("next panel", "tab"),
		PrevPanel:     bind("prev panel", "shift+tab"),
		Pause:         bind("pause/resume", " "),
		NextProject:   bind("cycle project", "p"),
		ResetPatterns: bind("reset patterns", "r"),
		IntervalUp:    bind("faster refresh", "u"),
		IntervalDown:  bind("slower refresh", "U"),
		Up:            bind("scroll up", "up", "k"),
		Down:          bind("scroll down", "down", "j"),
	}
	// Arrow glyphs read better than the raw key names in the help bar.
	km.Up.SetHelp("↑/k", "scroll up")
	km.Down.SetHelp("↓/j", "scroll down")
	km.Pause.SetHelp("space", "pause/resume")
	return km
}
