package formatter

import (
	"fmt"
	"strings"
	"time"

	"github.com/twistedwarden/esm-v3-sub005/internal/service"
)

// FormatReconcile lists orphaned reservations found by a reconciliation run.
func FormatReconcile(r *service.ReconcileReport) string {
	var sb strings.Builder
	sb.WriteString(Header("Reconciliation"))
	sb.WriteString("\n")
	if len(r.Orphans) == 0 {
		sb.WriteString(StyleGreen.Render("No orphaned reservations.") + "\n")
		return sb.String()
	}
	fmt.Fprintf(&sb, "%s\n", StyleYellow.Render(fmt.Sprintf("%d orphaned reservation(s) at %s", len(r.Orphans), timestamp(r.CheckedAt))))

	rows := make([][]string, 0, len(r.Orphans))
	for _, o := range r.Orphans {
		payment := "—"
		if o.Payment != nil {
			payment = fmt.Sprintf("#%d %s", o.Payment.Attempt, o.Payment.Status)
		}
		rows = append(rows, []string{
			o.Reservation.ApplicationID,
			o.Reservation.Bucket.String(),
			Money(o.Reservation.Amount),
			o.Age.Truncate(time.Minute).String(),
			o.Reason,
			payment,
		})
	}
	sb.WriteString(RenderTable([]Column{
		{Title: "APPLICATION"}, {Title: "BUCKET"}, {Title: "AMOUNT", Numeric: true},
		{Title: "AGE"}, {Title: "REASON"}, {Title: "PAYMENT"},
	}, rows))
	return sb.String()
}
