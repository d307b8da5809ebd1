package ui

import "github.com/charmbracelet/lipgloss"

// styleSheet holds the handful of [lipgloss.Style] values the progress view
// renders with.
type styleSheet struct {
	title lipgloss.Style
	ok    lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

var styles = styleSheet{
	title: lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true).MarginBottom(1),
	ok:    lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Bold(true),
	warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFA500")),
	help:  lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")).Italic(true),
}
