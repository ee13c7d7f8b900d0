package tui

import "github.com/charmbracelet/lipgloss"

var (
	ColorPrimary    = lipgloss.Color("#00ff41")
	ColorPrimaryDim = lipgloss.Color("#00aa2a")
	ColorAmber      = lipgloss.Color("#ffb000")
	ColorRed        = lipgloss.Color("#ff3333")
	ColorMuted      = lipgloss.Color("#707070")
	ColorDim        = lipgloss.Color("#404040")
)

var (
	TextPrimary = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
	TextAlert   = lipgloss.NewStyle().Foreground(ColorRed).Bold(true)
	TextWarn    = lipgloss.NewStyle().Foreground(ColorAmber).Bold(true)
	TextMuted   = lipgloss.NewStyle().Foreground(ColorMuted)
	TextDim     = lipgloss.NewStyle().Foreground(ColorDim)
	TextKey     = lipgloss.NewStyle().Foreground(ColorPrimaryDim)
)

const HLine = "─"
