package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorPrimary = lipgloss.Color("#7C3AED")
	colorGreen   = lipgloss.Color("#10B981")
	colorRed     = lipgloss.Color("#EF4444")
	colorYellow  = lipgloss.Color("#F59E0B")
	colorCyan    = lipgloss.Color("#06B6D4")
	colorDim     = lipgloss.Color("#6B7280")

	bannerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	subtitle    = lipgloss.NewStyle().Foreground(colorDim).Italic(true)
	boldText    = lipgloss.NewStyle().Bold(true)
	dimText     = lipgloss.NewStyle().Foreground(colorDim)
	healthy     = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	unhealthy   = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	warning     = lipgloss.NewStyle().Foreground(colorYellow)
	tierBadge   = lipgloss.NewStyle().Foreground(colorCyan)

	tableHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary).
			BorderBottom(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(colorDim)

	keyStyle = lipgloss.NewStyle().Foreground(colorDim).Width(18)

	errorBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorRed).
			Foreground(colorRed).
			Padding(0, 1)

	successBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorGreen).
			Foreground(colorGreen).
			Padding(0, 1)
)

func statusDot(ok bool) string {
	if ok {
		return healthy.Render("●")
	}
	return unhealthy.Render("●")
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}
