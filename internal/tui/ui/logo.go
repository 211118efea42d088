package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

var logoArt = []string{
	"┌─┐┬ ┬┌─┐┌┬┐",
	"│  ├─┤├─┤ │ ",
	"└─┘┴ ┴┴ ┴ ┴ ",
}

// Logo is the header art. It takes the color of the daemon state so the
// connection is visible from any page.
type Logo struct {
	*tview.TextView
	theme *Theme
	state string
}

// NewLogo creates the logo in the unreachable color.
func NewLogo(theme *Theme) *Logo {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(1, 0, 1, 0)

	l := &Logo{TextView: tv, theme: theme}
	l.SetState("")
	return l
}

// SetState recolors the art. An empty state means the daemon is unreachable.
func (l *Logo) SetState(state string) {
	if state == l.state && l.GetText(false) != "" {
		return
	}
	l.state = state

	color := ColorName(l.theme.TitleColor)
	if state != "" {
		color = ColorName(l.theme.StateColor(state))
	}
	caption := strings.ToLower(state)
	if caption == "" {
		caption = "offline"
	}

	var sb strings.Builder
	for _, line := range logoArt {
		fmt.Fprintf(&sb, "[%s::b]%s[-:-:-]\n", color, line)
	}
	fmt.Fprintf(&sb, "[%s]sync · %s[-:-:-]", ColorName(l.theme.FgColor), caption)
	l.SetText(sb.String())
}

// State returns the state last passed to SetState.
func (l *Logo) State() string {
	return l.state
}
