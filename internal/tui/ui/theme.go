package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// Theme holds color constants for the TUI.
type Theme struct {
	BgColor         tcell.Color
	FgColor         tcell.Color
	BorderColor     tcell.Color
	TableHeaderFg   tcell.Color
	TableHeaderBg   tcell.Color
	TableCursorFg   tcell.Color
	TableCursorBg   tcell.Color
	CrumbActiveFg   tcell.Color
	CrumbActiveBg   tcell.Color
	CrumbInactiveFg tcell.Color
	CrumbInactiveBg tcell.Color
	MenuKeyColor    tcell.Color
	TitleColor      tcell.Color
	CounterColor    tcell.Color
	FlashInfoColor  tcell.Color
	FlashWarnColor  tcell.Color
	FlashErrColor   tcell.Color
	PromptColor     tcell.Color
	SyncedColor     tcell.Color
	PendingColor    tcell.Color
	FailedColor     tcell.Color
	OwnMessageColor tcell.Color
}

// DefaultTheme returns a k9s-inspired dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:         tcell.ColorBlack,
		FgColor:         tcell.ColorCadetBlue,
		BorderColor:     tcell.ColorDodgerBlue,
		TableHeaderFg:   tcell.ColorWhite,
		TableHeaderBg:   tcell.ColorBlack,
		TableCursorFg:   tcell.ColorBlack,
		TableCursorBg:   tcell.ColorAqua,
		CrumbActiveFg:   tcell.ColorBlack,
		CrumbActiveBg:   tcell.ColorOrange,
		CrumbInactiveFg: tcell.ColorBlack,
		CrumbInactiveBg: tcell.ColorAqua,
		MenuKeyColor:    tcell.ColorDodgerBlue,
		TitleColor:      tcell.ColorFuchsia,
		CounterColor:    tcell.ColorPapayaWhip,
		FlashInfoColor:  tcell.ColorNavajoWhite,
		FlashWarnColor:  tcell.ColorOrange,
		FlashErrColor:   tcell.ColorOrangeRed,
		PromptColor:     tcell.ColorDodgerBlue,
		SyncedColor:     tcell.ColorSeaGreen,
		PendingColor:    tcell.ColorGold,
		FailedColor:     tcell.ColorOrangeRed,
		OwnMessageColor: tcell.ColorLightSkyBlue,
	}
}

// StateColor picks the color for a daemon connectivity state.
func (t *Theme) StateColor(state string) tcell.Color {
	switch state {
	case "ONLINE":
		return t.SyncedColor
	case "OFFLINE", "BOOTING":
		return t.PendingColor
	case "DEGRADED", "STOPPED":
		return t.FailedColor
	}
	return t.CounterColor
}

// ColorName returns a tview color tag name for c. Colors with several names
// (aqua and cyan) always get the alphabetically first one.
func ColorName(c tcell.Color) string {
	best := ""
	for name, val := range tcell.ColorNames {
		if val == c && (best == "" || name < best) {
			best = name
		}
	}
	if best != "" {
		return best
	}
	return fmt.Sprintf("#%06x", c.Hex())
}
