package output

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// TableFormatter renders reports as an ASCII table.
type TableFormatter struct{}

// FormatReport renders a report as a two-column table.
func (f *TableFormatter) FormatReport(report *Report) (string, error) {
	if report == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	// The summary carries durations like "2s"; keep its case.
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"Field", "Value"})

	for _, row := range reportRows(report) {
		t.AppendRow(table.Row{row[0], row[1]})
	}

	if report.ElapsedText != "" || report.Attempts > 0 {
		t.AppendFooter(table.Row{"", summaryLine(report)})
	}

	return t.Render(), nil
}

// reportRows lists the populated fields in display order.
func reportRows(report *Report) [][2]string {
	rows := [][2]string{
		{"Task", valueOr(report.TaskID, "-")},
		{"Status", statusLabel(report.Status)},
	}
	if report.VideoURL != "" {
		rows = append(rows, [2]string{"Video", report.VideoURL})
	}
	if len(report.Outputs) > 1 {
		rows = append(rows, [2]string{"Outputs", strings.Join(report.Outputs, "\n")})
	}
	if report.Failure != "" {
		failure := report.Failure
		if report.FailureCode != "" {
			failure = fmt.Sprintf("%s (%s)", failure, report.FailureCode)
		}
		rows = append(rows, [2]string{"Failure", failure})
	}
	if report.Error != "" {
		msg := report.Error
		if report.ErrorCode != "" {
			msg = fmt.Sprintf("%s [%s]", msg, report.ErrorCode)
		}
		rows = append(rows, [2]string{"Error", msg})
	}
	return rows
}

func summaryLine(report *Report) string {
	var parts []string
	if report.Attempts > 0 {
		parts = append(parts, fmt.Sprintf("%d status checks", report.Attempts))
	}
	if report.ElapsedText != "" {
		parts = append(parts, report.ElapsedText)
	}
	return strings.Join(parts, ", ")
}

func statusLabel(status string) string {
	switch strings.ToUpper(status) {
	case "SUCCEEDED":
		return "✓ succeeded"
	case "FAILED", "ERROR":
		return "✗ " + strings.ToLower(status)
	case "":
		return "unknown"
	default:
		return strings.ToLower(status)
	}
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
