package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/stockcheck/internal/models"
	"github.com/ternarybob/stockcheck/internal/services/stock"
)

// formatOutcome formats a settled run as markdown
func formatOutcome(artist string, o stock.Outcome) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Stock check for %s\n\n", artist))

	status := "completed"
	if o.Cancelled {
		status = "cancelled"
	}
	sb.WriteString(fmt.Sprintf("**Run:** %s (%s)\n", o.RunID, status))
	sb.WriteString(fmt.Sprintf("**Checked:** %d of %d in %s\n\n", o.Checked, o.Total, o.Duration.Round(time.Millisecond)))
	sb.WriteString(formatAvailable(o.Available))
	return sb.String()
}

// formatPending describes a run that outlived the tool's wait
func formatPending(runID string, checked, total int) string {
	return fmt.Sprintf("Stock check %s is still running (%d of %d checked). Use get_run with this run_id for the result.\n", runID, checked, total)
}

// formatRun formats a persisted run record as markdown
func formatRun(r *models.RunRecord) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Run %s\n\n", r.ID))
	if r.Artist != "" {
		sb.WriteString(fmt.Sprintf("**Artist:** %s\n", r.Artist))
	}
	sb.WriteString(fmt.Sprintf("**Status:** %s\n", r.Status))
	sb.WriteString(fmt.Sprintf("**Checked:** %d of %d (concurrency %d)\n", r.Checked, r.Total, r.Concurrency))
	sb.WriteString(fmt.Sprintf("**Started:** %s\n", r.StartedAt.Format(time.RFC3339)))
	if r.CompletedAt != nil {
		sb.WriteString(fmt.Sprintf("**Completed:** %s\n", r.CompletedAt.Format(time.RFC3339)))
	}
	if r.ErrorMessage != "" {
		sb.WriteString(fmt.Sprintf("**Error:** %s\n", r.ErrorMessage))
	}
	sb.WriteString("\n")

	if !r.IsTerminal() {
		sb.WriteString("Run is still in progress.\n")
		return sb.String()
	}
	sb.WriteString(formatAvailable(r.Available))
	return sb.String()
}

func formatAvailable(items []models.AvailableItem) string {
	if len(items) == 0 {
		return "Nothing available.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("### Available (%d)\n\n", len(items)))
	for i, item := range items {
		name := item.DisplayName
		if item.PositionLabel != "" {
			name = fmt.Sprintf("%s (%s)", name, item.PositionLabel)
		}
		sb.WriteString(fmt.Sprintf("%d. %s\n   %s\n", i+1, name, item.URL))
	}
	return sb.String()
}

// formatRunList formats recent runs as a markdown table
func formatRunList(runs []*models.RunRecord) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Recent stock checks (%d)\n\n", len(runs)))

	if len(runs) == 0 {
		sb.WriteString("No runs recorded.\n")
		return sb.String()
	}

	sb.WriteString("| Run | Artist | Status | Checked | Available | Started |\n")
	sb.WriteString("|-----|--------|--------|---------|-----------|---------|\n")
	for _, r := range runs {
		artist := r.Artist
		if artist == "" {
			artist = "-"
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d/%d | %d | %s |\n",
			r.ID, artist, r.Status, r.Checked, r.Total, len(r.Available), r.StartedAt.Format(time.RFC3339)))
	}
	return sb.String()
}

// formatCollections formats stored collections and the configured sites
func formatCollections(summaries []models.CollectionSummary, sites []string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Collections (%d)\n\n", len(summaries)))

	if len(summaries) == 0 {
		sb.WriteString("No collections stored.\n")
	} else {
		for _, s := range summaries {
			sb.WriteString(fmt.Sprintf("- **%s**: %d cards, %d owned, %d ignored\n", s.Artist, s.Cards, s.Owned, s.Ignored))
		}
	}

	if len(sites) > 0 {
		sb.WriteString(fmt.Sprintf("\n**Sites:** %s\n", strings.Join(sites, ", ")))
	}
	return sb.String()
}
