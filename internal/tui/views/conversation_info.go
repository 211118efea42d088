package views

import (
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationInfo displays details about one conversation.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

// NewConversationInfo creates a new conversation info view.
func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Conversation Details ")
	tv.SetTitleColor(theme.TitleColor)

	return &ConversationInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders conv with message counts taken from msgs.
func (ci *ConversationInfo) Update(conv store.Conversation, live bool, msgs []store.Message) {
	ci.Clear()
	counts := map[store.Status]int{}
	for _, m := range msgs {
		counts[m.Status]++
	}

	fg := ui.ColorName(ci.theme.FgColor)
	ct := ui.ColorName(ci.theme.CounterColor)
	row := func(label, value string) {
		_, _ = fmt.Fprintf(ci, " [%s::b]%-12s[-:-:-] [%s]%s[-]\n", fg, label+":", ct, value)
	}

	now := time.Now()
	_, _ = fmt.Fprintln(ci)
	row("ID", display(conv.ID))
	if conv.DisplayName != "" {
		row("Name", display(conv.DisplayName))
	}
	if conv.Kind != "" {
		row("Kind", display(conv.Kind))
	}
	row("Live feed", fmt.Sprintf("%t", live))
	row("Last synced", formatTimestamp(conv.LastSyncedAt, now))
	row("Created", formatTimestamp(conv.CreatedAt, now))
	row("Messages", fmt.Sprintf("%d", len(msgs)))
	row("Synced", fmt.Sprintf("%d", counts[store.StatusSynced]))
	row("Pending", fmt.Sprintf("%d", counts[store.StatusPending]))
	row("Failed", fmt.Sprintf("%d", counts[store.StatusFailed]))

	ci.SetTitle(fmt.Sprintf(" %s Details ", tview.Escape(conv.ID)))
}
