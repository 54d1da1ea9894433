// SPDX-License-Identifier: MPL-2.0

package cmd

import "github.com/charmbracelet/lipgloss"

// Palette tuned for dark terminal backgrounds.
const (
	ColorPrimary   = lipgloss.Color("#7C3AED")
	ColorMuted     = lipgloss.Color("#6B7280")
	ColorSuccess   = lipgloss.Color("#10B981")
	ColorError     = lipgloss.Color("#EF4444")
	ColorWarning   = lipgloss.Color("#F59E0B")
	ColorHighlight = lipgloss.Color("#3B82F6")
)

var (
	// TitleStyle is for headers such as extension names.
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)

	// SubtitleStyle is for secondary text.
	SubtitleStyle = lipgloss.NewStyle().Foreground(ColorMuted)

	// SuccessStyle marks completed operations.
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess)

	// ErrorStyle is used for every failure, replacement failures included.
	ErrorStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorError)

	// WarningStyle is for diagnostics and the update notice.
	WarningStyle = lipgloss.NewStyle().Foreground(ColorWarning)

	// CmdStyle highlights commands the user can run.
	CmdStyle = lipgloss.NewStyle().Foreground(ColorHighlight)

	labelStyle = lipgloss.NewStyle().Bold(true).Width(14)

	noticeStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorWarning).
			Padding(0, 1)
)
