package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// MessageThread displays one conversation and a composer.
type MessageThread struct {
	*tview.Flex
	theme          *ui.Theme
	messages       *tview.TextView
	composer       *tview.InputField
	self           string
	conversationID string
	msgs           []store.Message
	onSend         func(text string)
}

// NewMessageThread creates a new message thread view. Messages whose sender
// is self are shown as "You".
func NewMessageThread(theme *ui.Theme, self string) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
		self:     self,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || mt.onSend == nil {
			return
		}
		text := composer.GetText()
		if strings.TrimSpace(text) == "" {
			return
		}
		mt.onSend(text)
		composer.SetText("")
	})

	return mt
}

// SetConversation switches the thread to id and clears the old messages.
func (mt *MessageThread) SetConversation(id string) {
	mt.conversationID = id
	mt.msgs = nil
	mt.messages.Clear()
	mt.messages.SetTitle(fmt.Sprintf(" %s ", tview.Escape(id)))
}

// ConversationID returns the conversation being shown.
func (mt *MessageThread) ConversationID() string {
	return mt.conversationID
}

// SetOnSend sets the callback when a message is submitted.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// Update renders msgs, which are in conversation order.
func (mt *MessageThread) Update(msgs []store.Message) {
	mt.msgs = msgs
	mt.messages.Clear()
	now := time.Now()

	var pending, failed int
	for i := range msgs {
		m := &msgs[i]
		sender, senderColor := m.SenderID, mt.theme.FgColor
		if sender == "" || sender == mt.self {
			sender, senderColor = "You", mt.theme.OwnMessageColor
		}

		mark := ""
		switch m.Status {
		case store.StatusPending:
			pending++
			mark = fmt.Sprintf(" [%s]… sending[-]", ui.ColorName(mt.theme.PendingColor))
			if m.Attempts > 0 {
				mark = fmt.Sprintf(" [%s]… retrying (%d)[-]", ui.ColorName(mt.theme.PendingColor), m.Attempts)
			}
		case store.StatusFailed:
			failed++
			mark = fmt.Sprintf(" [%s]✗ failed: %s[-]", ui.ColorName(mt.theme.FailedColor), display(m.LastError))
		}

		_, _ = fmt.Fprintf(mt.messages, "[%s::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n",
			ui.ColorName(senderColor), display(sender),
			formatTimestamp(m.CreatedAt, now), mark,
			display(m.Content))
	}

	title := fmt.Sprintf(" %s ", tview.Escape(mt.conversationID))
	if pending > 0 || failed > 0 {
		title = fmt.Sprintf(" %s (pending %d, failed %d) ", tview.Escape(mt.conversationID), pending, failed)
	}
	mt.messages.SetTitle(title)
	mt.messages.ScrollToEnd()
}

// LastFailed returns the newest failed message, if any.
func (mt *MessageThread) LastFailed() (store.Message, bool) {
	for i := len(mt.msgs) - 1; i >= 0; i-- {
		if mt.msgs[i].Status == store.StatusFailed {
			return mt.msgs[i], true
		}
	}
	return store.Message{}, false
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}
