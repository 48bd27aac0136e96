package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/soaringjerry/Compass/internal/models"
	"github.com/soaringjerry/Compass/internal/services"
)

type printStyles struct {
	header lipgloss.Style
	good   lipgloss.Style
	fair   lipgloss.Style
	poor   lipgloss.Style
	dim    lipgloss.Style
}

func newPrintStyles() printStyles {
	return printStyles{
		header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		good:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		fair:   lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		poor:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

func (s printStyles) percent(p float64) string {
	text := fmt.Sprintf("%5.1f%%", p)
	switch {
	case p >= 75:
		return s.good.Render(text)
	case p >= 50:
		return s.fair.Render(text)
	default:
		return s.poor.Render(text)
	}
}

func bar(p float64, width int) string {
	filled := int(p / 100 * float64(width))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func renderDashboardResult(w io.Writer, res *services.DashboardResult) {
	renderDashboard(w, res.Overview)
	teams := make([]string, 0, len(res.PerTeam))
	for id := range res.PerTeam {
		teams = append(teams, id)
	}
	sort.Strings(teams)
	for _, id := range teams {
		fmt.Fprintln(w)
		renderDashboard(w, res.PerTeam[id])
	}
}

func renderDashboard(w io.Writer, rec *models.DashboardAnalytics) {
	if rec == nil {
		return
	}
	styles := newPrintStyles()

	title := "Overview"
	if rec.Scope == models.ScopeTeam {
		title = "Team " + rec.TeamID
	}
	fmt.Fprintln(w, styles.header.Render(fmt.Sprintf("%s · %s", rec.MatrixID, title)))
	fmt.Fprintf(w, "  employees  %d (%d completed)\n", rec.EmployeeCount, rec.CompletedCount)
	fmt.Fprintf(w, "  completion %s %s\n", bar(rec.CompletionPercentage, 20), styles.percent(rec.CompletionPercentage))
	fmt.Fprintf(w, "  average    %.2f / %.2f %s\n", rec.GeneralAverage, rec.Potential, styles.percent(rec.GeneralAveragePercentage))
	if rec.Reliability > 0 {
		fmt.Fprintf(w, "  alpha      %.3f\n", rec.Reliability)
	}
	for _, p := range rec.Pillars {
		fmt.Fprintf(w, "  %-24s %s %s\n", p.ID, bar(p.Percentage, 20), styles.percent(p.Percentage))
		for _, c := range p.Categories {
			fmt.Fprintf(w, "    %-22s %s %s\n", c.ID, styles.dim.Render(bar(c.Percentage, 20)), styles.percent(c.Percentage))
		}
	}
	fmt.Fprintln(w, styles.dim.Render("  calculated "+rec.CalculatedAt.Format("2006-01-02 15:04:05 MST")))
}

func renderAssessments(w io.Writer, list []*models.EmployeeAssessment) {
	styles := newPrintStyles()
	fmt.Fprintln(w, styles.header.Render(fmt.Sprintf("%-14s %-32s %-10s %-12s %s", "ID", "EMAIL", "TEAM", "STATUS", "ANSWERED")))
	for _, a := range list {
		fmt.Fprintf(w, "%-14s %-32s %-10s %-12s %d\n", a.ID, a.EmployeeEmailNormalized, a.TeamID, a.Status, a.AnsweredQuestionCount)
	}
}
