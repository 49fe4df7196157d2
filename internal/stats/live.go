// Package stats derives dashboard figures from the in-memory records and
// reads and writes the cached per-period statistics documents.
package stats

import (
	"github.com/shopspring/decimal"

	"tutordesk/internal/state"
	"tutordesk/pkg/domain"
)

// Live is recomputed from the store on every read; it is never cached.
type Live struct {
	TotalStudents     int             `json:"totalStudents"`
	ActiveStudents    int             `json:"activeStudents"`
	Revenue           decimal.Decimal `json:"revenue"`
	PaidCount         int             `json:"paidCount"`
	PendingCount      int             `json:"pendingCount"`
	OverdueCount      int             `json:"overdueCount"`
	OutstandingCount  int             `json:"outstandingCount"`
	PendingAmount     decimal.Decimal `json:"pendingAmount"`
	OverdueAmount     decimal.Decimal `json:"overdueAmount"`
	CompletedSessions int             `json:"completedSessions"`
	CollectionRate    float64         `json:"collectionRate"`
}

// Compute reduces the given record sets.
func Compute(students []domain.Student, payments []domain.Payment, sessions []domain.Session) Live {
	live := Live{
		TotalStudents:     len(students),
		ActiveStudents:    ActiveStudents(students),
		Revenue:           SumAmounts(payments, domain.PaymentPaid),
		PaidCount:         CountPayments(payments, domain.PaymentPaid),
		PendingCount:      CountPayments(payments, domain.PaymentPending),
		OverdueCount:      CountPayments(payments, domain.PaymentOverdue),
		PendingAmount:     SumAmounts(payments, domain.PaymentPending),
		OverdueAmount:     SumAmounts(payments, domain.PaymentOverdue),
		CompletedSessions: CountSessions(sessions, domain.SessionCompleted),
	}
	live.OutstandingCount = live.PendingCount + live.OverdueCount
	live.CollectionRate = Rate(float64(live.PaidCount), float64(len(payments)))
	return live
}

// FromStore computes Live over the store's current contents.
func FromStore(s *state.Store) Live {
	return Compute(s.Students.All(), s.Payments.All(), s.Sessions.All())
}

// ActiveStudents counts students whose status is active.
func ActiveStudents(students []domain.Student) int {
	n := 0
	for _, st := range students {
		if st.Status == domain.StudentActive {
			n++
		}
	}
	return n
}

// SumAmounts adds the amounts of payments with status using exact decimal arithmetic.
func SumAmounts(payments []domain.Payment, status domain.PaymentStatus) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		if p.Status == status {
			total = total.Add(p.Amount)
		}
	}
	return total
}

// CountPayments counts payments with status.
func CountPayments(payments []domain.Payment, status domain.PaymentStatus) int {
	n := 0
	for _, p := range payments {
		if p.Status == status {
			n++
		}
	}
	return n
}

// CountSessions counts sessions with status.
func CountSessions(sessions []domain.Session, status domain.SessionStatus) int {
	n := 0
	for _, s := range sessions {
		if s.Status == status {
			n++
		}
	}
	return n
}

// Rate returns part/whole*100, or 0 when whole is 0.
func Rate(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return part / whole * 100
}

// BuildMonthlyStats rolls the records of one period into a statistics document.
// Payments belong to a period by exact match of their month field; sessions by
// the UTC month of their date. Attendance is completed sessions over the
// period's non-cancelled sessions.
func BuildMonthlyStats(owner string, period domain.Period, students []domain.Student, payments []domain.Payment, sessions []domain.Session) domain.MonthlyStats {
	inPeriod := make([]domain.Payment, 0, len(payments))
	for _, p := range payments {
		if p.Month == period {
			inPeriod = append(inPeriod, p)
		}
	}
	total := decimal.Zero
	for _, p := range inPeriod {
		total = total.Add(p.Amount)
	}
	var held, completed int
	for _, s := range sessions {
		if domain.PeriodOf(s.Date) != period || s.Status == domain.SessionCancelled {
			continue
		}
		held++
		if s.Status == domain.SessionCompleted {
			completed++
		}
	}
	return domain.MonthlyStats{
		Base:           domain.Base{OwnerUID: owner},
		Month:          period,
		TotalStudents:  len(students),
		ActiveStudents: ActiveStudents(students),
		TotalRevenue:   total,
		PaidAmount:     SumAmounts(inPeriod, domain.PaymentPaid),
		PendingAmount:  SumAmounts(inPeriod, domain.PaymentPending),
		OverdueAmount:  SumAmounts(inPeriod, domain.PaymentOverdue),
		AttendanceRate: Rate(float64(completed), float64(held)),
	}
}
