package formatter

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
)

// Gruvbox-inspired color palette.
var (
	ColorGreen  = lipgloss.Color("#8ec07c")
	ColorYellow = lipgloss.Color("#fabd2f")
	ColorRed    = lipgloss.Color("#fb4934")
	ColorBlue   = lipgloss.Color("#83a598")
	ColorDim    = lipgloss.Color("#928374")
	ColorFg     = lipgloss.Color("#ebdbb2")
	ColorHeader = lipgloss.Color("#fe8019")
)

var (
	StyleGreen  = lipgloss.NewStyle().Foreground(ColorGreen)
	StyleYellow = lipgloss.NewStyle().Foreground(ColorYellow)
	StyleRed    = lipgloss.NewStyle().Foreground(ColorRed)
	StyleBlue   = lipgloss.NewStyle().Foreground(ColorBlue)
	StyleDim    = lipgloss.NewStyle().Foreground(ColorDim)
	StyleHeader = lipgloss.NewStyle().Foreground(ColorHeader).Bold(true)
	StyleBold   = lipgloss.NewStyle().Foreground(ColorFg).Bold(true)
)

// StatusPill renders an application status colored by where it stands:
// green when funded, red when closed unfunded, yellow when waiting on money
// and blue while under review.
func StatusPill(s domain.ApplicationStatus) string {
	label := strings.ToUpper(strings.ReplaceAll(string(s), "_", " "))
	switch s {
	case domain.StatusGrantsDisbursed:
		return StyleGreen.Render("● " + label)
	case domain.StatusRejected, domain.StatusCancelled:
		return StyleRed.Render("● " + label)
	case domain.StatusApproved, domain.StatusGrantsProcessing, domain.StatusOnHold:
		return StyleYellow.Render("● " + label)
	case domain.StatusDraft:
		return StyleDim.Render("● " + label)
	default:
		return StyleBlue.Render("● " + label)
	}
}

// PaymentStatusPill renders a payment attempt status.
func PaymentStatusPill(s domain.PaymentStatus) string {
	switch s {
	case domain.PaymentCompleted:
		return StyleGreen.Render(string(s))
	case domain.PaymentFailed, domain.PaymentCancelled:
		return StyleRed.Render(string(s))
	default:
		return StyleYellow.Render(string(s))
	}
}

// Header renders a section header with an underline.
func Header(text string) string {
	upper := strings.ToUpper(text)
	line := strings.Repeat("─", len(upper))
	return fmt.Sprintf("%s\n%s", StyleHeader.Render(upper), StyleDim.Render(line))
}

func Dim(text string) string {
	return StyleDim.Render(text)
}

func Bold(text string) string {
	return StyleBold.Render(text)
}
