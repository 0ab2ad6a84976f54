package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	Primary = lipgloss.Color("#22d3ee")

	violet  = lipgloss.Color("#7C3AED")
	emerald = lipgloss.Color("#10B981")
	amber   = lipgloss.Color("#F59E0B")
	red     = lipgloss.Color("#EF4444")
	gray    = lipgloss.Color("#6B7280")
	slate   = lipgloss.Color("#1F2937")
)

var (
	BoldStyle    = lipgloss.NewStyle().Bold(true)
	MutedStyle   = lipgloss.NewStyle().Foreground(gray)
	SuccessStyle = BoldStyle.Foreground(emerald)
	ErrorStyle   = BoldStyle.Foreground(red)
	WarningStyle = lipgloss.NewStyle().Foreground(amber)
	SpinnerStyle = lipgloss.NewStyle().Foreground(Primary)
)

// Chat screen.
var (
	SelfNameStyle = BoldStyle.Foreground(Primary)
	PeerNameStyle = BoldStyle.Foreground(violet)
	TimeStyle     = MutedStyle
	NoticeStyle   = MutedStyle.Italic(true)
	TokenStyle    = WarningStyle
	FooterStyle   = MutedStyle

	HeaderStyle = BoldStyle.
			Foreground(Primary).
			Background(slate).
			Padding(0, 2)
)

// Boxes and tables shown outside the chat screen.
var (
	SuccessBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(emerald).
			Padding(1, 2)

	TableHeaderStyle = BoldStyle.Foreground(Primary).Align(lipgloss.Center)
	TableRowStyle    = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("255"))
	TableRowAltStyle = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("245"))
)

const (
	IconSuccess = "✅"
	IconError   = "❌"
	IconWarning = "⚠️"
	IconInfo    = "ℹ️"
	IconRoom    = "🚪"
	IconPeople  = "👥"
	IconChat    = "💬"
	IconRelay   = "📡"
	IconKey     = "🔑"
	IconWaiting = "⏳"
)

func PrintError(msg string) {
	fmt.Println(ErrorStyle.Render(IconError + " " + msg))
}

func PrintWarning(msg string) {
	fmt.Println(WarningStyle.Render(IconWarning + " " + msg))
}

func PrintSuccess(msg string) {
	fmt.Printf("%s %s\n", SuccessStyle.Render(IconSuccess), msg)
}

func PrintSuccessf(format string, args ...any) {
	PrintSuccess(fmt.Sprintf(format, args...))
}

func PrintInfo(msg string) {
	fmt.Printf("%s %s\n", IconInfo, msg)
}

func PrintInfof(format string, args ...any) {
	PrintInfo(fmt.Sprintf(format, args...))
}
