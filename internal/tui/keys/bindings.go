package keys

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// Global is the scope of bindings active on every page.
const Global = ""

// Action represents a keybinding action.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
	Visible     bool
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Label is the key as shown in hints.
func (a *Action) Label() string {
	switch a.Key {
	case tcell.KeyRune:
		return string(a.Rune)
	case tcell.KeyEnter:
		return "Enter"
	case tcell.KeyEscape:
		return "Esc"
	case tcell.KeyTab:
		return "Tab"
	}
	return fmt.Sprintf("key-%d", a.Key)
}

// Hint describes a visible binding.
type Hint struct {
	Key         string
	Description string
}

type binding struct {
	scope  string
	action *Action
}

// Registry holds keybindings per page, in registration order.
type Registry struct {
	bindings []binding
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddGlobal registers a binding active on every page.
func (r *Registry) AddGlobal(action *Action) {
	r.AddView(Global, action)
}

// AddView registers a page binding. Page bindings shadow global ones for the
// same key.
func (r *Registry) AddView(view string, action *Action) {
	r.bindings = append(r.bindings, binding{scope: view, action: action})
}

// Hints returns the visible bindings for a page, page bindings first.
func (r *Registry) Hints(view string) []Hint {
	var hints []Hint
	for _, scope := range r.scopes(view) {
		for _, b := range r.bindings {
			if b.scope == scope && b.action.Visible {
				hints = append(hints, Hint{Key: b.action.Label(), Description: b.action.Description})
			}
		}
	}
	return hints
}

// HandleEvent runs the first binding of the page, then of the global scope,
// that matches ev. Returns true if a handler ran.
func (r *Registry) HandleEvent(view string, ev *tcell.EventKey) bool {
	for _, scope := range r.scopes(view) {
		for _, b := range r.bindings {
			if b.scope == scope && b.action.Matches(ev) {
				b.action.Handler()
				return true
			}
		}
	}
	return false
}

func (r *Registry) scopes(view string) []string {
	if view == Global {
		return []string{Global}
	}
	return []string{view, Global}
}
