package workflow

import (
	"fmt"
	"strings"

	"appealbot/internal/domain"
)

const noCommission = "not specified"

func appealMessage(a domain.Appeal) string {
	commission := a.CommissionName
	if commission == "" {
		commission = noCommission
	}
	return fmt.Sprintf("Your appeal #%d has a new status: %s\nCommission: %s", a.ID, a.Status.Label(), commission)
}

func adminRequestMessage(r domain.AdminRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your admin request #%d for the position %q has a new status: %s", r.ID, r.Position, r.Status.Label())
	if r.Status == domain.AdminRequestRejected && r.Comment != "" {
		fmt.Fprintf(&b, "\nComment: %s", r.Comment)
	}
	return b.String()
}

func revokeMessage(r domain.AdminRequest) string {
	return fmt.Sprintf("Your administrator rights (position %q, request #%d) have been revoked.", r.Position, r.ID)
}
