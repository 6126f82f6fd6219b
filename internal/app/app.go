package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "run":
		return runPipeline(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "serve":
		return runServe(args[1:])
	case "records":
		return runRecords(args[1:])
	case "entities":
		return runEntities(args[1:])
	case "runs":
		return runRuns(args[1:])
	case "stats":
		return runStats(args[1:])
	case "seed":
		return runSeed(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "pharmawatch CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  pharmawatch <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  run       Fetch sources and carry batches through the pipeline")
	fmt.Fprintln(os.Stderr, "  ingest    Ingest an offline batch envelope from JSON")
	fmt.Fprintln(os.Stderr, "  serve     Start the Echo API server")
	fmt.Fprintln(os.Stderr, "  records   List, show, or refresh normalized records")
	fmt.Fprintln(os.Stderr, "  entities  List or show resolved entities")
	fmt.Fprintln(os.Stderr, "  runs      Show ingest run history and checkpoints")
	fmt.Fprintln(os.Stderr, "  stats     Show corpus totals and freshness")
	fmt.Fprintln(os.Stderr, "  seed      Seed the entity catalog with watchlist companies")
	fmt.Fprintln(os.Stderr, "  health    Verify database connectivity")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"pharmawatch <command> -h\" for command-specific flags.")
}
