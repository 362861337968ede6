package main

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"

	"adoptline/internal/domain"
	"adoptline/internal/engine"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	barFullStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD787"))
	barRestStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#444444"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAF00"))
)

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

// progressBar renders pct (0-100) as a bar of width cells followed by the
// percentage.
func progressBar(pct float64, width int) string {
	if width <= 0 {
		width = 20
	}
	filled := int(math.Round(pct / 100 * float64(width)))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return barFullStyle.Render(strings.Repeat("█", filled)) +
		barRestStyle.Render(strings.Repeat("░", width-filled)) +
		fmt.Sprintf(" %6.2f%%", pct)
}

func printTasks(tasks []domain.TaskInstance) {
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Seq", "Name", "Weight", "Tier", "Status", "Source", "Retired"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{t.ID, t.SequenceNumber, t.Name, t.Weight, t.LicenseTier, t.Status, t.StatusUpdateSource, stringOrDash(t.RetiredAt)})
	}
	tw.Render()
}

func printSyncReport(r engine.SyncReport) {
	fmt.Println(headingStyle.Render("Synced plan " + r.PlanID))
	tw := newTable()
	tw.AppendHeader(table.Row{"Change", "Task", "Template", "Name", "Fields"})
	appendChanges := func(kind string, changes []engine.SyncChange) {
		for _, c := range changes {
			tw.AppendRow(table.Row{kind, c.InstanceID, c.TemplateID, c.Name, strings.Join(c.Fields, ",")})
		}
	}
	appendChanges("created", r.Created)
	appendChanges("retired", r.Retired)
	appendChanges("updated", r.Updated)
	if !r.Changed() {
		fmt.Println("No changes.")
	} else {
		tw.Render()
	}
	fmt.Println(progressBar(r.Progress.ProgressPercentage, 40))
}

func printBatchReport(r engine.BatchReport) {
	tw := newTable()
	tw.AppendHeader(table.Row{"Plan", "Created", "Retired", "Updated", "Progress", "Error"})
	for _, res := range r.Results {
		if res.Report == nil {
			tw.AppendRow(table.Row{res.PlanID, "-", "-", "-", "-", res.Error})
			continue
		}
		rep := res.Report
		tw.AppendRow(table.Row{res.PlanID, len(rep.Created), len(rep.Retired), len(rep.Updated), progressBar(rep.Progress.ProgressPercentage, 20), ""})
	}
	tw.AppendFooter(table.Row{fmt.Sprintf("synced %d", r.Synced), "", "", "", "", fmt.Sprintf("failed %d", r.Failed)})
	tw.Render()
}

func printEvaluations(results []engine.EvaluationResult) {
	tw := newTable()
	tw.AppendHeader(table.Row{"Task", "Previous", "Status", "Changed", "Required Met", "Telemetry"})
	for _, res := range results {
		tp := res.Telemetry
		tw.AppendRow(table.Row{
			res.TaskInstanceID,
			res.PreviousStatus,
			res.Status,
			res.StatusChanged,
			fmt.Sprintf("%d/%d", tp.MetRequiredAttributes, tp.RequiredAttributes),
			fmt.Sprintf("%.2f%%", tp.CompletionPercentage),
		})
	}
	tw.Render()
}
