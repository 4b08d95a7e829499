package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/netsentinel/pcapconsole/internal/config"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func newHTTPClient(hc config.HTTPConfig) *http.Client {
	return &http.Client{Timeout: hc.Timeout}
}

// printJSON writes v indented. Used for --json and for values with no
// table form.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// render prints v as JSON when --json is set, otherwise calls human.
func render(w io.Writer, v any, human func(io.Writer) error) error {
	if flagJSON {
		return printJSON(w, v)
	}
	return human(w)
}

func printTable(w io.Writer, headers []string, rows [][]string) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// printFields prints aligned key/value pairs.
func printFields(w io.Writer, pairs ...[2]string) error {
	width := 0
	for _, p := range pairs {
		width = max(width, len(p[0]))
	}
	key := lipgloss.NewStyle().Bold(true).Width(width + 2)
	for _, p := range pairs {
		if _, err := fmt.Fprintln(w, key.Render(p[0]+":")+p[1]); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

// formatBytes renders n with a binary unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	badStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// statusLabel colours sensor, job and health states. Colour is dropped
// when stdout is not a terminal.
func statusLabel(status string) string {
	switch status {
	case "ok", "online", "running", "complete":
		return okStyle.Render(status)
	case "degraded", "queued", "cancelled":
		return warnStyle.Render(status)
	case "offline", "failed", "down":
		return badStyle.Render(status)
	default:
		return status
	}
}
