package tui

import (
	"context"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/tui/keys"
	"github.com/matheus3301/chatsync/internal/tui/model"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/matheus3301/chatsync/internal/tui/views"
	"github.com/rivo/tview"
)

const (
	pageConversations = "conversations"
	pageChat          = "chat"
	pageDetails       = "details"
	pageHelp          = "help"

	refreshInterval = 5 * time.Second
	callTimeout     = 10 * time.Second
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	theme    *ui.Theme
	vm       *model.ViewModel
	registry *keys.Registry

	root        *tview.Flex
	pages       *ui.Pages
	info        *ui.ProfileInfo
	logo        *ui.Logo
	menu        *ui.Menu
	crumbs      *ui.Crumbs
	prompt      *ui.Prompt
	flashBar    *ui.FlashBar
	convList    *views.ConversationList
	thread      *views.MessageThread
	details     *views.ConversationInfo
	help        *views.HelpView
	promptShown bool

	redraw chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application. self is the user id whose messages are
// shown as "You".
func NewApp(d model.Daemon, self string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:      tview.NewApplication(),
		theme:    theme,
		vm:       model.NewViewModel(d),
		registry: keys.NewRegistry(),
		pages:    ui.NewPages(),
		info:     ui.NewProfileInfo(theme),
		logo:     ui.NewLogo(theme),
		menu:     ui.NewMenu(theme),
		crumbs:   ui.NewCrumbs(theme),
		prompt:   ui.NewPrompt(theme),
		flashBar: ui.NewFlashBar(theme),
		convList: views.NewConversationList(theme),
		thread:   views.NewMessageThread(theme, self),
		details:  views.NewConversationInfo(theme),
		help:     views.NewHelpView(theme),
		redraw:   make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}

	a.vm.SetOnChange(a.requestRedraw)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func runeAction(r rune, desc string, visible bool, fn func()) *keys.Action {
	return &keys.Action{Key: tcell.KeyRune, Rune: r, Description: desc, Visible: visible, Handler: fn}
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(runeAction(':', "Command", true, func() { a.showPrompt(ui.PromptCommand) }))
	a.registry.AddGlobal(runeAction('?', "Help", true, a.showHelp))
	a.registry.AddGlobal(runeAction('q', "Quit / Back", true, a.back))

	a.registry.AddView(pageConversations, &keys.Action{Key: tcell.KeyEnter, Description: "Open", Visible: true, Handler: a.openSelected})
	a.registry.AddView(pageConversations, runeAction('/', "Filter", true, func() { a.showPrompt(ui.PromptFilter) }))
	a.registry.AddView(pageConversations, runeAction('s', "Sync all", true, func() { a.syncAsync("") }))
	a.registry.AddView(pageConversations, runeAction('0', "Clear filter", false, func() { a.convList.SetFilter("") }))
	for n := 1; n <= 9; n++ {
		a.registry.AddView(pageConversations, runeAction(rune('0'+n), "Jump", false, func() {
			if id := a.convList.ByIndex(n); id != "" {
				a.openAsync(id)
			}
		}))
	}

	a.registry.AddView(pageChat, runeAction('i', "Compose", true, func() { a.app.SetFocus(a.thread.Composer()) }))
	a.registry.AddView(pageChat, runeAction('r', "Retry failed", true, a.retryAsync))
	a.registry.AddView(pageChat, runeAction('s', "Sync", true, func() { a.syncAsync(a.vm.Active()) }))
	a.registry.AddView(pageChat, runeAction('d', "Details", true, a.showDetails))
	a.registry.AddView(pageChat, &keys.Action{Key: tcell.KeyEscape, Description: "Back", Visible: true, Handler: a.back})
	a.registry.AddView(pageDetails, &keys.Action{Key: tcell.KeyEscape, Description: "Back", Visible: true, Handler: a.back})
	a.registry.AddView(pageHelp, &keys.Action{Key: tcell.KeyEscape, Description: "Back", Visible: true, Handler: a.back})
}

func (a *App) setupCallbacks() {
	a.thread.SetOnSend(func(text string) {
		go func() {
			ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
			defer cancel()
			if err := a.vm.Send(ctx, text); err != nil {
				a.vm.Flash.Err("send", err)
				a.requestRedraw()
			}
		}()
	})

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		if mode == ui.PromptFilter {
			a.convList.SetFilter(text)
			return
		}
		a.runCommand(ParseCommand(text))
	})
	a.prompt.SetOnCancel(a.hidePrompt)

	a.pages.SetOnChange(func(labels []string) {
		a.crumbs.Update(labels)
		a.menu.Update(a.registry.Hints(a.pages.Current()))
	})
}

func (a *App) setupLayout() {
	a.pages.AddPage(pageConversations, a.convList, true, false)
	a.pages.AddPage(pageChat, a.thread, true, false)
	a.pages.AddPage(pageDetails, a.details, true, false)
	a.pages.AddPage(pageHelp, a.help, true, false)
	a.pages.Reset(pageConversations, "conversations")

	header := tview.NewFlex().
		AddItem(a.info, 40, 0, false).
		AddItem(a.menu, 0, 1, false).
		AddItem(a.logo, 18, 0, false)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 7, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false)

	a.app.SetRoot(a.root, true)
	a.app.SetFocus(a.convList)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		focused := a.app.GetFocus()
		if focused == a.prompt.InputField {
			return event
		}
		if focused == a.thread.Composer() {
			if event.Key() == tcell.KeyEscape {
				a.app.SetFocus(a.thread.Messages())
				return nil
			}
			return event
		}
		if a.registry.HandleEvent(a.pages.Current(), event) {
			return nil
		}
		return event
	})
}

func (a *App) showPrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	if !a.promptShown {
		a.root.AddItem(a.prompt, 3, 0, false)
		a.promptShown = true
	}
	a.app.SetFocus(a.prompt.InputField)
}

func (a *App) hidePrompt() {
	if a.promptShown {
		a.root.RemoveItem(a.prompt)
		a.promptShown = false
	}
	a.focusPage()
}

func (a *App) focusPage() {
	switch a.pages.Current() {
	case pageChat:
		a.app.SetFocus(a.thread.Messages())
	case pageDetails:
		a.app.SetFocus(a.details)
	case pageHelp:
		a.app.SetFocus(a.help)
	default:
		a.app.SetFocus(a.convList)
	}
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "":
	case "open":
		if cmd.Args == "" {
			a.vm.Flash.Warn("usage: open <conversation id>")
			break
		}
		a.openAsync(cmd.Args)
	case "sync":
		a.syncAsync(cmd.Args)
	case "retry":
		a.retryAsync()
	case "close":
		if a.pages.Contains(pageChat) {
			a.pages.Reset(pageConversations, "conversations")
			a.focusPage()
			a.leaveAsync()
		}
	case "help":
		a.showHelp()
	case "quit":
		a.Stop()
	default:
		a.vm.Flash.Warn("unknown command: " + cmd.Name)
	}
	a.requestRedraw()
}

// back pops the current page; on the root page it quits.
func (a *App) back() {
	if a.pages.Current() == pageConversations {
		if a.convList.Filter() != "" {
			a.convList.SetFilter("")
			return
		}
		a.Stop()
		return
	}
	if a.pages.Pop() == pageChat {
		a.leaveAsync()
	}
	a.focusPage()
	a.requestRedraw()
}

func (a *App) openSelected() {
	if id := a.convList.Selected(); id != "" {
		a.openAsync(id)
	}
}

func (a *App) openAsync(id string) {
	id = strings.TrimSpace(id)
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
		defer cancel()
		if err := a.vm.Open(ctx, id); err != nil {
			a.vm.Flash.Err("open "+id, err)
			a.requestRedraw()
			return
		}
		_ = a.vm.Refresh(ctx)
		a.app.QueueUpdateDraw(func() {
			a.thread.SetConversation(id)
			a.thread.Update(a.vm.Messages())
			a.pages.Reset(pageConversations, "conversations")
			a.pages.Push(pageChat, id)
			a.focusPage()
		})
	}()
}

func (a *App) leaveAsync() {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
		defer cancel()
		if err := a.vm.Leave(ctx); err != nil {
			a.vm.Flash.Err("close", err)
		}
		_ = a.vm.Refresh(ctx)
	}()
}

func (a *App) syncAsync(conversationID string) {
	a.vm.Flash.Info("syncing...")
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
		defer cancel()
		if err := a.vm.Sync(ctx, conversationID); err != nil {
			a.vm.Flash.Err("sync", err)
		}
		_ = a.vm.Refresh(ctx)
	}()
}

func (a *App) retryAsync() {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
		defer cancel()
		if err := a.vm.RetryLastFailed(ctx); err != nil {
			a.vm.Flash.Err("retry", err)
		}
		a.requestRedraw()
	}()
}

func (a *App) showDetails() {
	id := a.vm.Active()
	conv, ok := a.convList.Get(id)
	if !ok {
		a.vm.Flash.Warn("conversation " + id + " has not been synced yet")
		a.requestRedraw()
		return
	}
	live := false
	if st := a.vm.Status(); st != nil {
		for _, open := range st.OpenConversations {
			live = live || open == id
		}
	}
	a.details.Update(conv, live, a.vm.Messages())
	a.pages.Push(pageDetails, "details")
	a.focusPage()
}

func (a *App) showHelp() {
	a.help.Update([]views.HelpSection{
		{Title: "Global", Hints: a.registry.Hints(keys.Global)},
		{Title: "Conversations", Hints: append(a.registry.Hints(pageConversations),
			keys.Hint{Key: "1-9", Description: "Open Nth conversation"},
			keys.Hint{Key: "0", Description: "Clear filter"})},
		{Title: "Conversation", Hints: a.registry.Hints(pageChat)},
		{Title: "Commands", Hints: views.Commands},
	})
	a.pages.Push(pageHelp, "help")
	a.focusPage()
}

// requestRedraw schedules a render. It never blocks, so it is safe from any
// goroutine.
func (a *App) requestRedraw() {
	select {
	case a.redraw <- struct{}{}:
	default:
	}
}

func (a *App) render() {
	st := a.vm.Status()
	a.info.Update(st, time.Now())
	if st != nil {
		a.logo.SetState(st.State)
		a.convList.Update(st.Conversations, st.OpenConversations)
	} else {
		a.logo.SetState("")
	}
	if a.pages.Current() == pageChat && a.thread.ConversationID() == a.vm.Active() {
		a.thread.Update(a.vm.Messages())
	}
	a.menu.Update(a.registry.Hints(a.pages.Current()))
	a.flashBar.Update(a.vm.Flash.Current())
}

// Run starts the TUI application and blocks until it exits.
func (a *App) Run() error {
	go a.drawLoop()
	go a.refreshLoop()
	return a.app.Run()
}

func (a *App) drawLoop() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.redraw:
			a.app.QueueUpdateDraw(a.render)
		case <-a.vm.Flash.Watch():
			a.app.QueueUpdateDraw(a.render)
		}
	}
}

func (a *App) refreshLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
		if err := a.vm.Refresh(ctx); err != nil && a.ctx.Err() == nil {
			a.vm.Flash.Err("daemon", err)
		}
		cancel()
		select {
		case <-ticker.C:
		case <-a.ctx.Done():
			return
		}
	}
}

// Stop closes the open conversation's live feed and shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.vm.Leave(ctx)
		a.app.Stop()
	}()
}
