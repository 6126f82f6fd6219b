package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/halcyonbio/pharmawatch/internal/cli"
	"github.com/halcyonbio/pharmawatch/internal/db"
	"github.com/halcyonbio/pharmawatch/internal/globaltime"
)

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	topEntities := fs.Int("top", 10, "Top linked entities to include")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "stats does not accept positional arguments")
		return 2
	}
	if *topEntities <= 0 {
		fmt.Fprintln(os.Stderr, "--top must be > 0")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	cfg, err := loadRuntimeConfig(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	stats, err := pool.QueryIngestStats(ctx, *topEntities)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query ingest stats: %v\n", err)
		return 1
	}

	stale := stats.LastCommitAt == nil ||
		globaltime.UTC().Sub(*stats.LastCommitAt) > cfg.StalenessThreshold()

	if outputFormat == outputFormatJSON {
		payload := struct {
			*db.IngestStats
			Stale bool `json:"stale"`
		}{IngestStats: stats, Stale: stale}
		if err := printJSON(payload); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	totalsRows := [][]string{
		{"records", fmt.Sprintf("%d", stats.Records)},
		{"entities", fmt.Sprintf("%d", stats.Entities)},
		{"xrefs", fmt.Sprintf("%d", stats.Xrefs)},
		{"last_commit_at", formatUTCTimestampPtr(stats.LastCommitAt)},
		{"stale", fmt.Sprintf("%t", stale)},
	}
	if err := writeTable([]string{"metric", "value"}, totalsRows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render totals table: %v\n", err)
		return 1
	}

	if len(stats.ByKind) > 0 {
		fmt.Println()
		kindRows := make([][]string, 0, len(stats.ByKind))
		for _, row := range stats.ByKind {
			kindRows = append(kindRows, []string{row.Kind, fmt.Sprintf("%d", row.Count)})
		}
		if err := writeTable([]string{"kind", "records"}, kindRows); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render kind table: %v\n", err)
			return 1
		}
	}

	if len(stats.BySentiment) > 0 {
		fmt.Println()
		sentimentRows := make([][]string, 0, len(stats.BySentiment))
		for _, row := range stats.BySentiment {
			sentimentRows = append(sentimentRows, []string{row.Label, fmt.Sprintf("%d", row.Count)})
		}
		if err := writeTable([]string{"sentiment", "records"}, sentimentRows); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render sentiment table: %v\n", err)
			return 1
		}
	}

	if len(stats.Sources) > 0 {
		fmt.Println()
		sourceRows := make([][]string, 0, len(stats.Sources))
		for _, row := range stats.Sources {
			sourceRows = append(sourceRows, []string{
				row.Source,
				fmt.Sprintf("%d", row.Records),
				row.LastRunState,
				formatUTCTimestamp(row.LastRunAt),
				formatUTCTimestampPtr(row.LastRunClosed),
			})
		}
		if err := writeTable([]string{"source", "records", "last_run_state", "last_run_at", "last_run_closed"}, sourceRows); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render source table: %v\n", err)
			return 1
		}
	}

	if len(stats.TopEntities) > 0 {
		fmt.Println()
		entityRows := make([][]string, 0, len(stats.TopEntities))
		for _, row := range stats.TopEntities {
			entityRows = append(entityRows, []string{
				row.Kind,
				truncateForTable(row.CanonicalName, 50),
				fmt.Sprintf("%d", row.LinkCount),
			})
		}
		if err := writeTable([]string{"kind", "entity", "links"}, entityRows); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render entity table: %v\n", err)
			return 1
		}
	}

	return 0
}
