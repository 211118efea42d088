package ui

import (
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/rivo/tview"
)

// ProfileInfo displays daemon status in the header.
type ProfileInfo struct {
	*tview.TextView
	theme *Theme
}

// NewProfileInfo creates a new profile info panel.
func NewProfileInfo(theme *Theme) *ProfileInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &ProfileInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders st. A nil status shows the daemon as unreachable.
func (pi *ProfileInfo) Update(st *api.Status, now time.Time) {
	pi.Clear()
	label := ColorName(pi.theme.FgColor)
	value := ColorName(pi.theme.CounterColor)
	row := func(name, color, v string) {
		_, _ = fmt.Fprintf(pi, "[%s::b]%-8s[-:-:-] [%s]%s[-]\n", label, name+":", color, tview.Escape(v))
	}

	if st == nil {
		row("State", ColorName(pi.theme.FailedColor), "unreachable")
		return
	}

	row("Profile", value, st.Profile)
	state := st.State
	if !st.Since.IsZero() {
		state += " (" + formatDuration(now.Sub(st.Since)) + ")"
	}
	row("State", ColorName(pi.theme.StateColor(st.State)), state)
	if st.Reason != "" {
		row("Reason", value, st.Reason)
	}
	token := "yes"
	if !st.HasToken {
		token = "missing"
	}
	row("Token", value, token)
	pendingColor := value
	if st.Pending > 0 {
		pendingColor = ColorName(pi.theme.PendingColor)
	}
	row("Pending", pendingColor, fmt.Sprintf("%d", st.Pending))
	row("Live", value, fmt.Sprintf("%d/%d", len(st.OpenConversations), len(st.Conversations)))
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}
