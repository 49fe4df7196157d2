// Package domain defines the tenant-scoped records, value types, error
// taxonomy, and collaborator contracts shared by every tutordesk component.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Collection names used by the hosted document store.
const (
	CollectionStudents     = "students"
	CollectionGroups       = "groups"
	CollectionSessions     = "sessions"
	CollectionPayments     = "payments"
	CollectionMonthlyStats = "monthlyStats"
)

// Document field names the core filters and orders on.
const (
	FieldID        = "id"
	FieldOwner     = "ownerUid"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldMonth     = "month"
	FieldDate      = "date"
)

// StudentStatus enumerates the student lifecycle.
type StudentStatus string

// Student lifecycle states.
const (
	StudentActive    StudentStatus = "active"
	StudentInactive  StudentStatus = "inactive"
	StudentGraduated StudentStatus = "graduated"
)

// SessionStatus enumerates the scheduled-session lifecycle.
type SessionStatus string

// Session lifecycle states.
const (
	SessionScheduled SessionStatus = "scheduled"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// Recurrence describes how a session repeats.
type Recurrence string

// Supported recurrence rules.
const (
	RecurrenceNone     Recurrence = "none"
	RecurrenceWeekly   Recurrence = "weekly"
	RecurrenceBiweekly Recurrence = "biweekly"
	RecurrenceMonthly  Recurrence = "monthly"
)

// PaymentStatus enumerates the payment lifecycle.
type PaymentStatus string

// Payment lifecycle states.
const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentPending PaymentStatus = "pending"
	PaymentOverdue PaymentStatus = "overdue"
)

// Record is implemented by every entity mirrored from the document store.
type Record interface {
	RecordID() string
	Owner() string
}

// Base carries the identifier, owner key, and server timestamps common to all records.
// ID and timestamps are assigned by the document store; the owner key is supplied by the
// caller and must equal the authenticated principal's UID.
type Base struct {
	ID        string    `json:"id"`
	OwnerUID  string    `json:"ownerUid" validate:"required"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RecordID returns the document identifier.
func (b Base) RecordID() string { return b.ID }

// Owner returns the tenant isolation key.
func (b Base) Owner() string { return b.OwnerUID }

// Student is a tutored learner.
type Student struct {
	Base
	Name                string           `json:"name" validate:"notblank"`
	Email               string           `json:"email,omitempty" validate:"omitempty,email"`
	Phone               string           `json:"phone,omitempty"`
	ParentPhone         string           `json:"parentPhone,omitempty"`
	Address             string           `json:"address,omitempty"`
	GroupID             string           `json:"groupId,omitempty"`
	Status              StudentStatus    `json:"status" validate:"required,oneof=active inactive graduated"`
	CustomPaymentAmount *decimal.Decimal `json:"customPaymentAmount,omitempty" validate:"omitempty,gte=0"`
	Notes               string           `json:"notes,omitempty"`
}

// Group is a set of students taught together.
type Group struct {
	Base
	Name          string           `json:"name" validate:"notblank"`
	Description   string           `json:"description,omitempty"`
	Color         string           `json:"color" validate:"required,hexcolor"`
	PaymentAmount *decimal.Decimal `json:"paymentAmount,omitempty" validate:"omitempty,gte=0"`
	MaxStudents   *int             `json:"maxStudents,omitempty" validate:"omitempty,gt=0"`
}

// Session is a scheduled lesson for a group or an explicit list of students.
type Session struct {
	Base
	GroupID    string        `json:"groupId,omitempty"`
	StudentIDs []string      `json:"studentIds,omitempty"`
	Title      string        `json:"title" validate:"notblank"`
	Date       time.Time     `json:"date" validate:"required"`
	Duration   int           `json:"duration" validate:"gt=0"`
	Recurrence Recurrence    `json:"recurrence,omitempty" validate:"omitempty,oneof=none weekly biweekly monthly"`
	Notes      string        `json:"notes,omitempty"`
	Status     SessionStatus `json:"status" validate:"required,oneof=scheduled completed cancelled"`
}

// Payment is a single student's charge for one billing period.
type Payment struct {
	Base
	StudentID string          `json:"studentId" validate:"required"`
	Amount    decimal.Decimal `json:"amount" validate:"gte=0"`
	Month     Period          `json:"month" validate:"required,period"`
	Status    PaymentStatus   `json:"status" validate:"required,oneof=paid pending overdue"`
	DueDate   time.Time       `json:"dueDate" validate:"required"`
	PaidDate  *time.Time      `json:"paidDate,omitempty"`
	Notes     string          `json:"notes,omitempty"`
}

// MonthlyStats is a cached, non-authoritative roll-up for one billing period.
type MonthlyStats struct {
	Base
	Month          Period          `json:"month" validate:"required,period"`
	TotalStudents  int             `json:"totalStudents" validate:"gte=0"`
	ActiveStudents int             `json:"activeStudents" validate:"gte=0"`
	TotalRevenue   decimal.Decimal `json:"totalRevenue"`
	PaidAmount     decimal.Decimal `json:"paidAmount"`
	PendingAmount  decimal.Decimal `json:"pendingAmount"`
	OverdueAmount  decimal.Decimal `json:"overdueAmount"`
	AttendanceRate float64         `json:"attendanceRate" validate:"gte=0,lte=100"`
}

// Patch carries a partial update keyed by JSON field name.
type Patch map[string]any

// Compile-time assertions that every entity satisfies Record.
var (
	_ Record = Student{}
	_ Record = Group{}
	_ Record = Session{}
	_ Record = Payment{}
	_ Record = MonthlyStats{}
)
