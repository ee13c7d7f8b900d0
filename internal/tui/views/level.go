package views

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/xoelrdgz/authradar/internal/domain"
)

// Level is the display severity of an event kind.
type Level struct {
	Code  string
	Style lipgloss.Style
}

var (
	levelCritical = Level{"CRT", lipgloss.NewStyle().Foreground(lipgloss.Color("#ff3333")).Bold(true)}
	levelWarning  = Level{"WRN", lipgloss.NewStyle().Foreground(lipgloss.Color("#ffb000")).Bold(true)}
	levelAuth     = Level{"AUT", lipgloss.NewStyle().Foreground(lipgloss.Color("#00ff41")).Bold(true)}
	levelInfo     = Level{"INF", lipgloss.NewStyle().Foreground(lipgloss.Color("#00b8ff"))}
)

func LevelFor(kind domain.EventKind) Level {
	switch kind {
	case domain.KindBreakInAttempt:
		return levelCritical
	case domain.KindFailedLogin, domain.KindInvalidUser:
		return levelWarning
	case domain.KindAcceptedLogin:
		return levelAuth
	default:
		return levelInfo
	}
}
