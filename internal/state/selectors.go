package state

import (
	"strings"

	"tutordesk/pkg/domain"
)

// Display labels for group references that do not resolve to a group name.
const (
	UnscheduledLabel  = "unscheduled"
	DeletedGroupLabel = "deleted group"
)

// StudentFilter narrows the student list. Zero values match everything.
type StudentFilter struct {
	Search  string `json:"search"`
	Status  string `json:"status"` // "", "all", or a domain.StudentStatus
	GroupID string `json:"groupId"`
}

// PaymentStatusFilter narrows the payment list.
type PaymentStatusFilter string

// PaymentStatusAll matches every payment.
const PaymentStatusAll PaymentStatusFilter = "all"

// FilterStudents returns the students matching f, preserving order. Search
// matches name and email case-insensitively and phone as a substring.
func FilterStudents(students []domain.Student, f StudentFilter) []domain.Student {
	term := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]domain.Student, 0, len(students))
	for _, st := range students {
		if term != "" &&
			!strings.Contains(strings.ToLower(st.Name), term) &&
			!strings.Contains(strings.ToLower(st.Email), term) &&
			!strings.Contains(st.Phone, term) {
			continue
		}
		if f.Status != "" && f.Status != "all" && string(st.Status) != f.Status {
			continue
		}
		if f.GroupID != "" && st.GroupID != f.GroupID {
			continue
		}
		out = append(out, st)
	}
	return out
}

// FilterPayments returns the payments with the given status, or all of them.
func FilterPayments(payments []domain.Payment, status PaymentStatusFilter) []domain.Payment {
	out := make([]domain.Payment, 0, len(payments))
	for _, p := range payments {
		if status != "" && status != PaymentStatusAll && string(p.Status) != string(status) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ResolveGroupName maps a group reference to a display name. Dangling
// references are not an error.
func ResolveGroupName(groups []domain.Group, groupID string) string {
	if groupID == "" {
		return UnscheduledLabel
	}
	for _, g := range groups {
		if g.ID == groupID {
			return g.Name
		}
	}
	return DeletedGroupLabel
}
