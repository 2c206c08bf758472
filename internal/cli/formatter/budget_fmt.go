package formatter

import (
	"fmt"
	"strings"

	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
)

// FormatBuckets renders budget buckets with their remaining funds.
func FormatBuckets(buckets []*domain.BudgetAllocation) string {
	if len(buckets) == 0 {
		return Dim("No budget buckets configured.") + "\n"
	}
	cols := []Column{
		{Title: "TYPE"},
		{Title: "YEAR"},
		{Title: "TOTAL", Numeric: true},
		{Title: "RESERVED", Numeric: true},
		{Title: "DISBURSED", Numeric: true},
		{Title: "REMAINING", Numeric: true},
		{Title: "USED", Numeric: true},
	}
	rows := make([][]string, 0, len(buckets))
	for _, b := range buckets {
		rows = append(rows, []string{
			b.BudgetType,
			b.SchoolYear,
			Money(b.TotalBudget),
			Money(b.AllocatedBudget),
			Money(b.DisbursedBudget),
			remainingCell(b),
			usedPct(b),
		})
	}

	var sb strings.Builder
	sb.WriteString(Header("Budgets"))
	sb.WriteString("\n")
	sb.WriteString(RenderTable(cols, rows))
	return sb.String()
}

func remainingCell(b *domain.BudgetAllocation) string {
	r := Money(b.Remaining())
	switch {
	case b.Remaining() == 0:
		return StyleRed.Render(r)
	case b.TotalBudget > 0 && b.Remaining()*10 < b.TotalBudget:
		return StyleYellow.Render(r)
	default:
		return StyleGreen.Render(r)
	}
}

func usedPct(b *domain.BudgetAllocation) string {
	if b.TotalBudget == 0 {
		return "—"
	}
	used := float64(b.AllocatedBudget+b.DisbursedBudget) / float64(b.TotalBudget) * 100
	return fmt.Sprintf("%.0f%%", used)
}
