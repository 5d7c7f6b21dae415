package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"deftheim/internal/core"
)

// colorEnabled respects --no-color and NO_COLOR (https://no-color.org).
func colorEnabled() bool {
	if viper.GetBool(keyNoColor) {
		return false
	}
	return os.Getenv("NO_COLOR") == ""
}

type styleSet struct {
	ok, warn, err, header, dim lipgloss.Style
}

func styles() styleSet {
	if !colorEnabled() {
		plain := lipgloss.NewStyle()
		return styleSet{ok: plain, warn: plain, err: plain, header: plain, dim: plain}
	}
	return styleSet{
		ok:     lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		warn:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		err:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		header: lipgloss.NewStyle().Foreground(lipgloss.Color("69")).Bold(true),
		dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

func jsonOutput() bool { return viper.GetBool(keyJSON) }

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// success prints a confirmation line, or v as JSON when --json is set.
func success(w io.Writer, v any, format string, args ...any) error {
	if jsonOutput() {
		return printJSON(w, v)
	}
	fmt.Fprintln(w, styles().ok.Render(fmt.Sprintf(format, args...)))
	return nil
}

func formatSize(n int64) string {
	if n <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(n))
}

func formatWhen(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return humanize.Time(*t)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Truncate(time.Minute).String()
}

func truncate(s string, width int) string {
	if len(s) <= width {
		return s
	}
	if width <= 3 {
		return s[:width]
	}
	return s[:width-3] + "..."
}

// progressPrinter renders download progress on a single terminal line.
func progressPrinter(w io.Writer, label string) core.ProgressFunc {
	last := -1
	return func(p core.DownloadProgress) {
		if p.TotalBytes <= 0 {
			return
		}
		pct := int(p.Percentage)
		if pct == last {
			return
		}
		last = pct
		fmt.Fprintf(w, "\r%s: %3d%% (%s / %s)", label, pct,
			humanize.Bytes(uint64(p.Downloaded)), humanize.Bytes(uint64(p.TotalBytes)))
		if pct >= 100 {
			fmt.Fprintln(w)
		}
	}
}
