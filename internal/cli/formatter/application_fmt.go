package formatter

import (
	"fmt"
	"strings"
	"time"

	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
)

// ApplicationReport bundles everything `application status` prints.
type ApplicationReport struct {
	Application *domain.Application
	History     []*domain.StatusChange
	Stages      []*domain.ReviewStage
	Payments    []*domain.PaymentRecord
}

func FormatApplication(r ApplicationReport) string {
	a := r.Application
	var sb strings.Builder

	sb.WriteString(Header("Application " + a.ID))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%s  %s\n", Bold("Status:"), StatusPill(a.Status))
	if a.HeldFrom != nil {
		fmt.Fprintf(&sb, "%s  %s\n", Bold("Held from:"), *a.HeldFrom)
	}
	fmt.Fprintf(&sb, "%s  %s\n", Bold("Student:"), a.StudentID)
	fmt.Fprintf(&sb, "%s  %s / %s (%s)\n", Bold("Bucket:"), a.Program, a.SchoolYear, a.Type)
	fmt.Fprintf(&sb, "%s  %s requested, %s approved\n", Bold("Amount:"),
		Money(a.RequestedAmount), MoneyPtr(a.ApprovedAmount))
	fmt.Fprintf(&sb, "%s  cycle %d, %d revision(s)\n", Bold("Review:"), a.ReviewCycle, a.RevisionCount)
	if a.ArchivedAt != nil {
		sb.WriteString(Dim("Archived "+timestamp(*a.ArchivedAt)) + "\n")
	}

	if len(r.History) > 0 {
		sb.WriteString("\n" + Header("History") + "\n")
		rows := make([][]string, 0, len(r.History))
		for _, h := range r.History {
			rows = append(rows, []string{timestamp(h.CreatedAt), string(h.From), string(h.To), actorLabel(h.ActorID, h.ActorRole), h.Notes})
		}
		sb.WriteString(RenderTable([]Column{{Title: "AT"}, {Title: "FROM"}, {Title: "TO"}, {Title: "BY"}, {Title: "NOTES"}}, rows))
	}

	if len(r.Stages) > 0 {
		sb.WriteString("\n" + Header("Committee") + "\n")
		rows := make([][]string, 0, len(r.Stages))
		for _, s := range r.Stages {
			amount := ""
			switch {
			case s.ApprovedAmount != nil:
				amount = Money(*s.ApprovedAmount)
			case s.RecommendedAmount != nil:
				amount = Money(*s.RecommendedAmount)
			}
			rows = append(rows, []string{fmt.Sprint(s.Attempt), string(s.Stage), string(s.Status), s.ReviewerID, amount})
		}
		sb.WriteString(RenderTable([]Column{{Title: "CYCLE", Numeric: true}, {Title: "STAGE"}, {Title: "DECISION"}, {Title: "REVIEWER"}, {Title: "AMOUNT", Numeric: true}}, rows))
	}

	if len(r.Payments) > 0 {
		sb.WriteString("\n" + Header("Payments") + "\n")
		rows := make([][]string, 0, len(r.Payments))
		for _, p := range r.Payments {
			ref := domain.CoalesceStr(p.TransactionID, p.CheckoutSessionID, p.ReceiptRef)
			rows = append(rows, []string{fmt.Sprint(p.Attempt), string(p.Method), PaymentStatusPill(p.Status), Money(p.Amount), ref, p.FailureReason})
		}
		sb.WriteString(RenderTable([]Column{{Title: "#", Numeric: true}, {Title: "METHOD"}, {Title: "STATUS"}, {Title: "AMOUNT", Numeric: true}, {Title: "REFERENCE"}, {Title: "REASON"}}, rows))
	}
	return sb.String()
}

func actorLabel(id, role string) string {
	if role == "" {
		return id
	}
	return id + " (" + role + ")"
}

func timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}
