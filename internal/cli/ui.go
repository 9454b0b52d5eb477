package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dyike/CortexThesis/consts"
	"github.com/dyike/CortexThesis/internal/storage"
	"github.com/dyike/CortexThesis/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Background(lipgloss.Color("#1F2937")).
			Padding(0, 1).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(0, 2).
			Width(80)

	sectionStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#10B981")).
			Padding(0, 1).
			Width(80)

	thesisStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("#F59E0B")).
			Padding(1, 2).
			Width(80)

	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6"))

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	inProgressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B")).
			Bold(true)

	completedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)
)

// RenderProgress formats one node event as a single status line.
func RenderProgress(ev models.NodeEvent) string {
	at := ev.At.Format(time.TimeOnly)
	switch ev.Phase {
	case "start":
		return pendingStyle.Render(at+"  ") + inProgressStyle.Render("▶ "+ev.Node)
	case "end":
		return pendingStyle.Render(at+"  ") + completedStyle.Render("✔ "+ev.Node) +
			pendingStyle.Render(fmt.Sprintf(" (%s)", ev.Elapsed.Round(time.Millisecond)))
	case "error":
		return pendingStyle.Render(at+"  ") + errorStyle.Render("✘ "+ev.Node+": "+truncateString(ev.Error, 60))
	default:
		return pendingStyle.Render(at + "  " + ev.Phase + " " + ev.Node)
	}
}

// RenderReport writes the styled final report for st.
func RenderReport(w io.Writer, st *models.State) {
	fmt.Fprintln(w, titleStyle.Render("CortexThesis · "+st.Ticker))

	header := fmt.Sprintf("%s  |  %s %s  |  %s",
		st.Ticker, st.TradeDirection, st.TradeDuration, orDash(st.IndustryName()))
	if b := st.BusinessName(); b != "" {
		header += "\n" + b
	}
	fmt.Fprintln(w, headerStyle.Render(header))

	var sections strings.Builder
	for _, b := range consts.Branches {
		text, ok := st.Sentiment(b)
		if !ok {
			continue
		}
		sections.WriteString(labelStyle.Render(strings.ToUpper(b.String())))
		sections.WriteString("\n")
		sections.WriteString(strings.TrimSpace(text))
		sections.WriteString("\n\n")
	}
	if sections.Len() > 0 {
		fmt.Fprintln(w, sectionStyle.Render(strings.TrimRight(sections.String(), "\n")))
	}

	verdict := completedStyle.Render("compliant")
	if !st.Compliant {
		verdict = errorStyle.Render("not compliant")
	}
	thesis := strings.TrimSpace(st.CombinedSentiment) + "\n\n" +
		fmt.Sprintf("%s after %d revision(s)", verdict, st.RevisionIterationCount)
	if st.Feedback != "" && !st.Compliant {
		thesis += "\n" + pendingStyle.Render("last feedback: "+st.Feedback)
	}
	fmt.Fprintln(w, thesisStyle.Render(thesis))

	if st.Metrics != nil {
		fmt.Fprintln(w, renderMetrics(st.Metrics))
	}
}

func renderMetrics(m *models.Metrics) string {
	names := make([]string, 0, len(m.Nodes))
	for n := range m.Nodes {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "tokens %d · latency %s", m.TotalTokens, m.Latency.Round(time.Millisecond))
	if m.BudgetExceeded {
		b.WriteString(" · " + errorStyle.Render("budget exceeded"))
	}
	for _, n := range names {
		nm := m.Nodes[n]
		line := fmt.Sprintf("\n  %-20s %6d tok  %4d call(s)  %s", n, nm.Tokens(), nm.Calls, nm.Latency.Round(time.Millisecond))
		if nm.CacheHit {
			line += "  cached"
		}
		b.WriteString(pendingStyle.Render(line))
	}
	return b.String()
}

// RenderHistory writes one line per run, newest first.
func RenderHistory(w io.Writer, page *models.HistoryPage) {
	if page == nil || len(page.Items) == 0 {
		fmt.Fprintln(w, pendingStyle.Render("no runs recorded"))
		return
	}
	for _, r := range page.Items {
		status := completedStyle.Render(r.Status)
		if r.Status != storage.StatusDone {
			status = errorStyle.Render(r.Status)
		}
		fmt.Fprintf(w, "%6d  %s  %-8s %-6s %-5s %s  rev=%d tok=%d\n",
			r.Id, r.CreatedAt.Local().Format(time.DateTime), r.Ticker,
			r.TradeDuration, r.TradeDirection, status, r.Revisions, r.TotalTokens)
	}
	if page.NextCursor > 0 {
		fmt.Fprintln(w, pendingStyle.Render(fmt.Sprintf("more: --before %d", page.NextCursor)))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
