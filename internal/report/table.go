package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	failedStyle  = cellStyle.Foreground(lipgloss.Color("#FF6B6B"))
	mutedStyle   = cellStyle.Foreground(lipgloss.Color("#888888"))
	titleStyle   = lipgloss.NewStyle().Bold(true)
	outcomeStyle = map[string]lipgloss.Style{
		OutcomeSuccess: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#50FA7B")),
		OutcomeFailed:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")),
	}
)

const stageColumn = 3

// Render draws the terminal summary of a run.
func Render(s Summary) string {
	rows := make([][]string, 0, len(s.Repositories)+len(s.CheckoutFailures))
	failed := make(map[int]bool)
	for _, r := range s.Repositories {
		version := r.Current
		if r.New != "" && r.New != r.Current {
			version = r.Current + " -> " + r.New
		}
		stage := r.Stage
		if r.FailedStage != "" {
			stage = "failed at " + r.FailedStage
			failed[len(rows)] = true
		}
		rows = append(rows, []string{strconv.Itoa(r.Level), r.Name, version, stage, yesNo(r.Pushed), yesNo(r.Deployed)})
	}
	for _, f := range s.CheckoutFailures {
		failed[len(rows)] = true
		rows = append(rows, []string{"-", f.Name, "", "checkout failed", "no", "no"})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#444444"))).
		Headers("LEVEL", "REPOSITORY", "VERSION", "STAGE", "PUSHED", "DEPLOYED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case failed[row] && col == stageColumn:
				return failedStyle
			case col == 0:
				return mutedStyle
			default:
				return cellStyle
			}
		})

	var sb strings.Builder
	mode := "release"
	if s.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(&sb, "%s %s %s\n", titleStyle.Render("cascade "+mode), s.RunID, outcomeStyle[s.Outcome].Render(s.Outcome))
	sb.WriteString(t.Render())
	sb.WriteByte('\n')
	if s.Error != "" {
		sb.WriteString(failedStyle.UnsetPadding().Render("error: " + s.Error))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
