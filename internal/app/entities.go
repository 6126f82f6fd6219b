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

func runEntities(args []string) int {
	if len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "list":
			return runEntityList(args[1:])
		case "show":
			return runEntityShow(args[1:])
		}
	}
	return runEntityList(args)
}

func runEntityList(args []string) int {
	fs := flag.NewFlagSet("entities list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	kind := fs.String("kind", "", "Filter by entity kind (company, drug, kol)")
	search := fs.String("q", "", "Search canonical names and aliases")
	limit := fs.Int("limit", 50, "Maximum entities to return")
	offset := fs.Int("offset", 0, "Rows to skip")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "entities list does not accept positional arguments")
		return 2
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}
	if *offset < 0 {
		fmt.Fprintln(os.Stderr, "--offset must be >= 0")
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

	entities, err := pool.ListEntities(ctx, db.EntityListOptions{
		Kind:   normalizeFilterFlag(*kind),
		Search: strings.TrimSpace(*search),
		Limit:  *limit,
		Offset: *offset,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query entities: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(entities); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := make([][]string, 0, len(entities))
	for _, entity := range entities {
		rows = append(rows, []string{
			entity.EntityUUID,
			entity.Kind,
			truncateForTable(entity.CanonicalName, 50),
			fmt.Sprintf("%d", entity.LinkCount),
			fmt.Sprintf("%d", entity.AliasCount),
			formatUTCTimestamp(entity.CreatedAt),
		})
	}
	if err := writeTable([]string{"entity_uuid", "kind", "canonical_name", "links", "aliases", "created_at"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}

func runEntityShow(args []string) int {
	fs := flag.NewFlagSet("entities show", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	recordLimit := fs.Int("records", 10, "Recent linked records to include")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: pharmawatch entities show <uuid|name> [--records N] [--format table|json]")
		return 2
	}
	if *recordLimit < 0 {
		fmt.Fprintln(os.Stderr, "--records must be >= 0")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	key := strings.TrimSpace(fs.Arg(0))
	if key == "" {
		fmt.Fprintln(os.Stderr, "entity uuid or name is required")
		return 2
	}

	ctx, cancel, pool, err := connectReadPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	entity, err := pool.FindEntity(ctx, key)
	if err != nil {
		if db.IsNoRows(err) {
			fmt.Fprintf(os.Stderr, "Entity not found: %s\n", key)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Failed to load entity: %v\n", err)
		return 1
	}

	var records []db.RecordListItem
	if *recordLimit > 0 {
		records, err = pool.ListRecords(ctx, db.RecordListOptions{
			EntityUUID: entity.EntityUUID,
			Limit:      *recordLimit,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to query linked records: %v\n", err)
			return 1
		}
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(map[string]any{"entity": entity, "records": records}); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Println("entity")
	entityRows := [][]string{
		{"entity_uuid", entity.EntityUUID},
		{"kind", entity.Kind},
		{"canonical_name", entity.CanonicalName},
		{"normalized_name", entity.NormalizedName},
		{"aliases", strings.Join(entity.Aliases, ", ")},
		{"links", fmt.Sprintf("%d", entity.LinkCount)},
		{"created_at", formatUTCTimestamp(entity.CreatedAt)},
	}
	if err := writeTable([]string{"field", "value"}, entityRows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}

	if len(records) > 0 {
		fmt.Println()
		fmt.Println("records")
		if err := writeRecordListTable(records); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
			return 1
		}
	}
	return 0
}
