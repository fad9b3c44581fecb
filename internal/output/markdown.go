package output

import (
	"fmt"
	"strings"
)

// MarkdownFormatter renders reports as a markdown table.
type MarkdownFormatter struct{}

// FormatReport renders a report as Markdown.
func (f *MarkdownFormatter) FormatReport(report *Report) (string, error) {
	if report == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Task %s\n\n", escapeMarkdownCell(valueOr(report.TaskID, "-"))))
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|-------|-------|\n")
	for _, row := range reportRows(report) {
		sb.WriteString(fmt.Sprintf("| %s | %s |\n",
			escapeMarkdownCell(row[0]),
			escapeMarkdownCell(row[1])))
	}

	if summary := summaryLine(report); summary != "" {
		sb.WriteString(fmt.Sprintf("\n**Run**: %s\n", summary))
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "|", "\\|")
	return strings.ReplaceAll(value, "\n", "<br>")
}
