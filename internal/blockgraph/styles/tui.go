package styles

import (
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/exp/charmtone"
)

// Browser styles.
var (
	Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color("99")).
		Bold(true).
		Padding(0, 1)

	Address         = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	SelectedAddress = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))
	Mnemonic        = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)
	Operands        = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))
	Dangling        = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	Help            = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	Spinner         = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))

	Pane = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(charmtone.Charcoal.Hex())).
		Padding(0, 1)
)
