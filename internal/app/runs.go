package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/halcyonbio/pharmawatch/internal/cli"
	"github.com/halcyonbio/pharmawatch/internal/db"
)

func runRuns(args []string) int {
	if len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "list":
			return runRunList(args[1:])
		case "checkpoints":
			return runCheckpointList(args[1:])
		}
	}
	return runRunList(args)
}

func runRunList(args []string) int {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	sourceName := fs.String("source", "", "Filter by source")
	state := fs.String("state", "", "Filter by run state")
	limit := fs.Int("limit", 20, "Maximum runs to return")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "runs does not accept positional arguments")
		return 2
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	ctx, cancel, pool, err := connectReadPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	runs, err := pool.ListRuns(ctx, db.RunListOptions{
		Source: normalizeFilterFlag(*sourceName),
		State:  normalizeFilterFlag(*state),
		Limit:  *limit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query runs: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(runs); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.RunUUID,
			run.Source,
			truncateForTable(run.Query, 30),
			run.State,
			fmt.Sprintf("%d", run.Attempt),
			fmt.Sprintf("%d", run.ItemsFetched),
			fmt.Sprintf("%d", run.ItemsPersisted),
			formatUTCTimestamp(run.StartedAt),
			formatUTCTimestampPtr(run.FinishedAt),
			truncateForTable(pointerStringOrEmpty(run.ErrorMessage), 40),
		})
	}
	if err := writeTable(
		[]string{"run_uuid", "source", "query", "state", "attempt", "fetched", "persisted", "started_at", "finished_at", "error"},
		rows,
	); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}

func runCheckpointList(args []string) int {
	fs := flag.NewFlagSet("runs checkpoints", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "runs checkpoints does not accept positional arguments")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	ctx, cancel, pool, err := connectReadPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	checkpoints, err := pool.ListCheckpoints(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query checkpoints: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(checkpoints); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := make([][]string, 0, len(checkpoints))
	for _, checkpoint := range checkpoints {
		lastRun := ""
		if checkpoint.LastSuccessfulRunID != nil {
			lastRun = fmt.Sprintf("%d", *checkpoint.LastSuccessfulRunID)
		}
		rows = append(rows, []string{
			checkpoint.Source,
			truncateForTable(checkpoint.Query, 40),
			formatUTCTimestamp(checkpoint.WindowEnd),
			lastRun,
			formatUTCTimestamp(checkpoint.UpdatedAt),
		})
	}
	if err := writeTable([]string{"source", "query", "window_end", "last_run_id", "updated_at"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}
