package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/ShayCichocki/issueforge/internal/orchestrator"
	"github.com/ShayCichocki/issueforge/pkg/models"
)

// setupColor disables color when asked to or when stdout is not a terminal.
func setupColor(disable bool) {
	fd := os.Stdout.Fd()
	tty := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	if disable || !tty || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}
}

func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	blockedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func styleTaskStatus(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusDone:
		return doneStyle.Render(string(s))
	case models.TaskStatusFailed:
		return failedStyle.Render(string(s))
	case models.TaskStatusBlocked:
		return blockedStyle.Render(string(s))
	default:
		return pendingStyle.Render(string(s))
	}
}

// renderReport draws the run summary box.
func renderReport(rep *orchestrator.Report) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s\n", headerStyle.Render(rep.Item.Title))
	fmt.Fprintf(&sb, "%s %s\n", labelStyle.Render("run:     "), rep.RunID)
	fmt.Fprintf(&sb, "%s %s\n", labelStyle.Render("phase:   "), rep.Phase)
	fmt.Fprintf(&sb, "%s %d/%d (%.2f%%)\n", labelStyle.Render("success: "),
		rep.Result.Successful, rep.Result.Total, rep.Result.SuccessRate)
	fmt.Fprintf(&sb, "%s %d\n", labelStyle.Render("retries: "), rep.Retries)
	if rep.PRRef != "" {
		fmt.Fprintf(&sb, "%s %s\n", labelStyle.Render("pr:      "), rep.PRRef)
	}
	fmt.Fprintf(&sb, "%s %s\n", labelStyle.Render("duration:"), rep.Duration.Round(time.Millisecond))

	if len(rep.Tasks) > 0 {
		sb.WriteString("\n")
		for _, t := range rep.Tasks {
			fmt.Fprintf(&sb, "  %-24s %s", t.ID, styleTaskStatus(t.Status))
			if t.Error != "" {
				fmt.Fprintf(&sb, "  %s", labelStyle.Render(firstLine(t.Error)))
			}
			sb.WriteString("\n")
		}
	}

	return boxStyle.Render(strings.TrimRight(sb.String(), "\n"))
}

// renderLevels draws the dependency levels of a plan.
func renderLevels(levels [][]models.TaskID, titles map[models.TaskID]string) string {
	var sb strings.Builder
	for i, level := range levels {
		fmt.Fprintf(&sb, "%s\n", headerStyle.Render(fmt.Sprintf("Level %d", i)))
		for _, id := range level {
			fmt.Fprintf(&sb, "  %-24s %s\n", id, labelStyle.Render(titles[id]))
		}
	}
	return boxStyle.Render(strings.TrimRight(sb.String(), "\n"))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
