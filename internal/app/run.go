package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/halcyonbio/pharmawatch/internal/cli"
	"github.com/halcyonbio/pharmawatch/internal/pipeline"
	"github.com/halcyonbio/pharmawatch/internal/watchlist"
)

func runPipeline(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	sourceName := fs.String("source", "", "Fetch one source")
	all := fs.Bool("all", false, "Fetch every registered source")
	query := fs.String("query", "", "Query term passed to the source")
	watchlistPath := fs.String("watchlist", "", "Watchlist YAML driving the batch set (overrides --source/--all)")
	since := fs.String("since", "", "Window start override, RFC3339 or YYYY-MM-DD (default: stored checkpoint)")
	limit := fs.Int("limit", 0, "Per-batch fetch limit (0 = source default)")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "run does not accept positional arguments")
		return 2
	}
	if *limit < 0 {
		fmt.Fprintln(os.Stderr, "--limit must be >= 0")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	sinceTime, err := parseTimeFlag(*since)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --since: %v\n", err)
		return 2
	}

	hasWatchlist := strings.TrimSpace(*watchlistPath) != ""
	hasSource := strings.TrimSpace(*sourceName) != ""
	if !hasWatchlist && !hasSource && !*all {
		fmt.Fprintln(os.Stderr, "one of --source, --all, or --watchlist is required")
		return 2
	}
	if hasWatchlist && (hasSource || *all) {
		fmt.Fprintln(os.Stderr, "--watchlist cannot be combined with --source or --all")
		return 2
	}
	if hasSource && *all {
		fmt.Fprintln(os.Stderr, "--source and --all are mutually exclusive")
		return 2
	}

	var list *watchlist.Watchlist
	if hasWatchlist {
		list, err = watchlist.Load(*watchlistPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid watchlist: %v\n", err)
			return 2
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := connectPipeline(ctx, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	var batches []pipeline.BatchOptions
	switch {
	case hasWatchlist:
		if len(list.Companies) > 0 {
			created, merged, err := rt.svc.SeedEntities(ctx, list.Companies)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to seed watchlist companies: %v\n", err)
				return 1
			}
			fmt.Printf("seeded companies: created=%d merged=%d\n", created, merged)
		}
		for _, wq := range list.Queries {
			batchLimit := wq.Limit
			if batchLimit == 0 {
				batchLimit = *limit
			}
			batches = append(batches, pipeline.BatchOptions{
				Source: wq.Source,
				Query:  wq.Term,
				Limit:  batchLimit,
				Since:  sinceTime,
			})
		}
	case *all:
		for _, name := range rt.sources.Names() {
			batches = append(batches, pipeline.BatchOptions{
				Source: name,
				Query:  strings.TrimSpace(*query),
				Limit:  *limit,
				Since:  sinceTime,
			})
		}
	default:
		batches = append(batches, pipeline.BatchOptions{
			Source: strings.TrimSpace(*sourceName),
			Query:  strings.TrimSpace(*query),
			Limit:  *limit,
			Since:  sinceTime,
		})
	}

	results, runErr := rt.svc.RunAll(ctx, batches)

	if outputFormat == outputFormatJSON {
		if err := printJSON(results); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
	} else if err := writeBatchResultTable(results); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Run finished with errors: %v\n", runErr)
		return 1
	}
	return 0
}

func writeBatchResultTable(results []pipeline.BatchResult) error {
	rows := make([][]string, 0, len(results))
	for _, result := range results {
		rows = append(rows, []string{
			result.Source,
			string(result.State),
			fmt.Sprintf("%d", result.Fetched),
			fmt.Sprintf("%d", result.Malformed),
			fmt.Sprintf("%d", result.Deduplicated),
			fmt.Sprintf("%d", result.Persisted),
			fmt.Sprintf("%d", result.EntitiesCreated),
			fmt.Sprintf("%d", result.EntitiesMerged),
			fmt.Sprintf("%d", result.XrefsRecorded),
			result.RunUUID,
		})
	}

	return writeTable(
		[]string{"source", "state", "fetched", "malformed", "deduped", "persisted", "entities_new", "entities_merged", "xrefs", "run_uuid"},
		rows,
	)
}
