package reports

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"tutordesk/internal/core"
	"tutordesk/internal/state"
	"tutordesk/internal/stats"
	"tutordesk/pkg/domain"
)

// document is the JSON rendering of a report.
type document struct {
	Owner       string        `json:"owner"`
	Period      domain.Period `json:"period"`
	GeneratedAt time.Time     `json:"generatedAt"`
	Summary     stats.Live    `json:"summary"`
	Payments    []paymentRow  `json:"payments"`
}

type paymentRow struct {
	ID        string `json:"id"`
	StudentID string `json:"studentId"`
	Student   string `json:"student"`
	Group     string `json:"group"`
	Amount    string `json:"amount"`
	Status    string `json:"status"`
	DueDate   string `json:"dueDate"`
	PaidDate  string `json:"paidDate,omitempty"`
}

var csvHeader = []string{"id", "student_id", "student", "group", "amount", "status", "due_date", "paid_date"}

// amountColumn indexes "amount" in csvHeader.
const amountColumn = 4

func (r paymentRow) csv() []string {
	return []string{r.ID, r.StudentID, r.Student, r.Group, r.Amount, r.Status, r.DueDate, r.PaidDate}
}

func render(format Format, data core.ReportData, now time.Time) ([]byte, string, error) {
	rows := paymentRows(data)
	switch format {
	case FormatJSON:
		payload, err := json.MarshalIndent(document{
			Owner:       data.Owner,
			Period:      data.Period,
			GeneratedAt: now,
			Summary:     data.Live,
			Payments:    rows,
		}, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("marshal json: %w", err)
		}
		return payload, "application/json", nil
	case FormatCSV:
		buf := &bytes.Buffer{}
		writer := csv.NewWriter(buf)
		if err := writer.Write(csvHeader); err != nil {
			return nil, "", err
		}
		for _, row := range rows {
			if err := writer.Write(row.csv()); err != nil {
				return nil, "", err
			}
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "text/csv", nil
	case FormatXLSX:
		payload, err := renderWorkbook(data, rows)
		if err != nil {
			return nil, "", fmt.Errorf("render xlsx: %w", err)
		}
		return payload, xlsxContentType, nil
	default:
		return nil, "", fmt.Errorf("unsupported report format %s", format)
	}
}

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	paymentsSheet   = "Payments"
	summarySheet    = "Summary"
)

// renderWorkbook writes the payment rows to a Payments sheet, with amounts as
// numbers, and the live totals to a Summary sheet.
func renderWorkbook(data core.ReportData, rows []paymentRow) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", paymentsSheet); err != nil {
		return nil, err
	}
	for i, header := range csvHeader {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(paymentsSheet, cell, header); err != nil {
			return nil, err
		}
	}
	for i, row := range rows {
		values := row.csv()
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, err
			}
			var value any = v
			if col == amountColumn {
				value = data.Payments[i].Amount.InexactFloat64()
			}
			if err := f.SetCellValue(paymentsSheet, cell, value); err != nil {
				return nil, err
			}
		}
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}
	summary := [][]any{
		{"owner", data.Owner},
		{"period", string(data.Period)},
		{"active_students", data.Live.ActiveStudents},
		{"revenue", data.Live.Revenue.StringFixed(2)},
		{"paid", data.Live.PaidCount},
		{"pending", data.Live.PendingCount},
		{"overdue", data.Live.OverdueCount},
		{"completed_sessions", data.Live.CompletedSessions},
	}
	for i, line := range summary {
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+1), &line); err != nil {
			return nil, err
		}
	}

	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// paymentRows resolves student and group names for the period's payments.
func paymentRows(data core.ReportData) []paymentRow {
	students := make(map[string]domain.Student, len(data.Students))
	for _, s := range data.Students {
		students[s.ID] = s
	}
	rows := make([]paymentRow, 0, len(data.Payments))
	for _, p := range data.Payments {
		row := paymentRow{
			ID:        p.ID,
			StudentID: p.StudentID,
			Student:   "unknown student",
			Group:     state.ResolveGroupName(data.Groups, ""),
			Amount:    p.Amount.StringFixed(2),
			Status:    string(p.Status),
			DueDate:   p.DueDate.Format(time.DateOnly),
		}
		if s, ok := students[p.StudentID]; ok {
			row.Student = s.Name
			row.Group = state.ResolveGroupName(data.Groups, s.GroupID)
		}
		if p.PaidDate != nil {
			row.PaidDate = p.PaidDate.Format(time.DateOnly)
		}
		rows = append(rows, row)
	}
	return rows
}
