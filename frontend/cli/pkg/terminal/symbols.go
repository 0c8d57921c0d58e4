package terminal

import "github.com/charmbracelet/lipgloss"

// ANSI 256 palette entries used across the CLI.
const (
	colorInfo   = lipgloss.Color("33")
	colorOK     = lipgloss.Color("10")
	colorAction = lipgloss.Color("39")
	colorLink   = lipgloss.Color("75")
	colorMuted  = lipgloss.Color("245")
)

var (
	InfoSymbol    = symbol("ⓘ", colorInfo, true)
	ErrorSymbol   = lipgloss.NewStyle().SetString("❌").String()
	SuccessSymbol = symbol("✔", colorOK, true)
	ActionSymbol  = symbol("▶", colorAction, false)
	LinkSymbol    = symbol("→", colorLink, false)

	boldStyle   = lipgloss.NewStyle().Bold(true)
	statusStyle = lipgloss.NewStyle().Foreground(colorMuted).Italic(true)
)

func symbol(glyph string, color lipgloss.Color, bold bool) string {
	return lipgloss.NewStyle().Foreground(color).Bold(bold).SetString(glyph).String()
}

func Bold(s string) string {
	return boldStyle.Render(s)
}
