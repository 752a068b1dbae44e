// Package ui provides consistent styling and the live view for the xrelay CLI
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette - consistent across the application
var (
	ColorPrimary   = lipgloss.Color("39")  // Bright blue
	ColorSecondary = lipgloss.Color("205") // Pink/magenta
	ColorSuccess   = lipgloss.Color("82")  // Green
	ColorWarning   = lipgloss.Color("214") // Orange
	ColorError     = lipgloss.Color("196") // Red
	ColorInfo      = lipgloss.Color("86")  // Cyan

	ColorText   = lipgloss.Color("252")
	ColorSubtle = lipgloss.Color("241")
	ColorMuted  = lipgloss.Color("238")
)

// Base styles
var (
	TextStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	SubtleStyle = lipgloss.NewStyle().
			Foreground(ColorSubtle)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			MarginBottom(1)

	SubheaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorText)

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			Background(ColorMuted).
			Padding(0, 1)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	InfoStyle = lipgloss.NewStyle().
			Foreground(ColorInfo)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorSubtle).
			Padding(1, 2)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorSubtle).
			Width(14)

	ValueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorText)

	ControlKeyStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)
)

// Spinner frames
var SpinnerDot = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

// Icons
var (
	IconSuccess = "✓"
	IconError   = "✗"
	IconWarning = "!"
	IconActive  = "●"
	IconIdle    = "○"
)

// FormatControl renders a key binding hint.
func FormatControl(key, desc string) string {
	return ControlKeyStyle.Render(key) + " - " + TextStyle.Render(desc)
}

// FormatStatus prefixes status with an active or idle indicator.
func FormatStatus(active bool, status string) string {
	if active {
		return SuccessStyle.Render(IconActive) + " " + status
	}
	return SubtleStyle.Render(IconIdle) + " " + status
}

// FormatResult renders a check line as printed by `xrelay test input`.
func FormatResult(ok bool, step, message string) string {
	icon, style := SuccessStyle.Render(IconSuccess), SuccessStyle
	if !ok {
		icon, style = ErrorStyle.Render(IconError), ErrorStyle
	}
	line := "  " + icon + " " + step
	if message != "" {
		line += " - " + style.Render(message)
	}
	return line
}

// FormatRow renders an aligned label/value pair.
func FormatRow(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}

// CreateSeparator creates a horizontal line separator
func CreateSeparator(width int, char string) string {
	if width <= 0 {
		width = 50
	}
	if char == "" {
		char = "─"
	}
	return SubtleStyle.Render(strings.Repeat(char, width))
}
