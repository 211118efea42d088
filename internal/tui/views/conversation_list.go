package views

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationList is the table of locally known conversations.
type ConversationList struct {
	*tview.Table
	theme   *ui.Theme
	convs   []store.Conversation
	open    map[string]bool
	filter  string
	visible []string
}

// NewConversationList creates a new conversation list table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitleColor(theme.TitleColor)

	return &ConversationList{
		Table: table,
		theme: theme,
		open:  map[string]bool{},
	}
}

// Update replaces the rows. open lists conversations with a live feed.
func (cl *ConversationList) Update(convs []store.Conversation, open []string) {
	cl.convs = convs
	cl.open = make(map[string]bool, len(open))
	for _, id := range open {
		cl.open[id] = true
	}
	cl.render(time.Now())
}

// SetFilter sets the filter text and re-renders. An empty filter shows all
// conversations.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = strings.TrimSpace(filter)
	cl.render(time.Now())
}

// Filter returns the active filter.
func (cl *ConversationList) Filter() string {
	return cl.filter
}

func (cl *ConversationList) matches(c store.Conversation) bool {
	if cl.filter == "" {
		return true
	}
	f := strings.ToLower(cl.filter)
	return strings.Contains(strings.ToLower(c.ID), f) ||
		strings.Contains(strings.ToLower(c.DisplayName), f)
}

func (cl *ConversationList) render(now time.Time) {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 2},
		{" KIND", 0},
		{" LAST SYNC", 1},
		{" LIVE", 0},
	}
	for col, h := range headers {
		cl.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp))
	}

	cl.visible = cl.visible[:0]
	for _, c := range cl.convs {
		if !cl.matches(c) {
			continue
		}
		cl.visible = append(cl.visible, c.ID)
		row := len(cl.visible)

		name := c.ID
		if c.DisplayName != "" && c.DisplayName != c.ID {
			name = fmt.Sprintf("%s (%s)", c.DisplayName, c.ID)
		}
		kind := c.Kind
		if kind == "" {
			kind = "-"
		}
		live, liveColor := "", cl.theme.FgColor
		if cl.open[c.ID] {
			live, liveColor = "●", cl.theme.SyncedColor
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+display(name)).SetExpansion(2).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 1, tview.NewTableCell(" "+display(kind)).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(c.LastSyncedAt, now)).SetExpansion(1).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 3, tview.NewTableCell(" "+live).SetTextColor(liveColor).SetAlign(tview.AlignCenter))
	}

	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d/%d) filter: %s ", len(cl.visible), len(cl.convs), tview.Escape(cl.filter)))
	} else {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d) ", len(cl.convs)))
	}
}

// Selected returns the id of the highlighted conversation, or empty.
func (cl *ConversationList) Selected() string {
	row, _ := cl.GetSelection()
	return cl.ByIndex(row)
}

// ByIndex returns the id of the Nth visible conversation (1-based), or empty.
func (cl *ConversationList) ByIndex(n int) string {
	if n < 1 || n > len(cl.visible) {
		return ""
	}
	return cl.visible[n-1]
}

// Get returns the conversation with the given id.
func (cl *ConversationList) Get(id string) (store.Conversation, bool) {
	i := slices.IndexFunc(cl.convs, func(c store.Conversation) bool { return c.ID == id })
	if i < 0 {
		return store.Conversation{}, false
	}
	return cl.convs[i], true
}
