package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aluiziolira/go-scrape-films/config"
	"github.com/aluiziolira/go-scrape-films/models"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// renderSummary formats the run statistics as a two column table.
func renderSummary(result *models.RunResult, cfg *config.Config) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle("Sync complete")
	tw.AppendHeader(table.Row{"Field", "Value"})

	snapshot := "none used"
	if result.SnapshotUsed {
		snapshot = strconv.Itoa(result.SnapshotRows) + " rows"
	}

	rows := []table.Row{
		{"Playlist", fmt.Sprintf("%s/%s (%s)", result.Playlist.Owner, result.Playlist.Title, result.Playlist.Kind)},
		{"Listing pages", fmt.Sprintf("%d/%d", result.ListingPages, result.Playlist.Pages)},
		{"Entries", result.Entries},
		{"Snapshot", snapshot},
		{"New films", result.DeltaSize},
		{"Detail pages", result.DetailPages},
		{"Final rows", len(result.Table)},
		{"Dropped", result.Dropped},
		{"Failed URLs", len(result.FailedURLs)},
		{"Duration", result.EndTime.Sub(result.StartTime).Round(time.Millisecond)},
		{"Snapshot key", cfg.Storage.Bucket + "/" + result.Playlist.SnapshotKey()},
	}
	if cfg.WriteDatabase {
		rows = append(rows, table.Row{"Table", result.Playlist.TableName()})
	}
	if cfg.OutputFile != "" {
		rows = append(rows, table.Row{"Output file", cfg.OutputFile})
	}
	tw.AppendRows(rows)

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignLeft},
	})
	return tw.Render()
}

func printSummary(w io.Writer, result *models.RunResult, cfg *config.Config) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, renderSummary(result, cfg))
}
