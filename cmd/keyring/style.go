package main

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	styleHeader   = lipgloss.NewStyle().Bold(true)
	styleDefault  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	styleLogin    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	styleMissing  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleLocked   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleDim      = lipgloss.NewStyle().Faint(true)
	styleTagWidth = lipgloss.NewStyle().Width(3)
)

// markers renders the default (*) and login (L) flags for a list row.
func markers(isDefault, isLogin bool) string {
	s := ""
	if isDefault {
		s += styleDefault.Render("*")
	}
	if isLogin {
		s += styleLogin.Render("L")
	}
	return styleTagWidth.Render(s)
}
