package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonbio/pharmawatch/internal/cli"
	"github.com/halcyonbio/pharmawatch/internal/db"
	"github.com/halcyonbio/pharmawatch/internal/globaltime"
)

func runRecords(args []string) int {
	if len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "list":
			return runRecordList(args[1:])
		case "show":
			return runRecordShow(args[1:])
		case "refresh":
			return runRecordRefresh(args[1:])
		}
	}
	return runRecordList(args)
}

func runRecordList(args []string) int {
	fs := flag.NewFlagSet("records list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	from := fs.String("from", "", "Published-at window start, RFC3339 or YYYY-MM-DD")
	to := fs.String("to", "", "Published-at window end, RFC3339 or YYYY-MM-DD")
	sourceName := fs.String("source", "", "Filter by source")
	kind := fs.String("kind", "", "Filter by record kind")
	sentiment := fs.String("sentiment", "", "Filter by sentiment label")
	entity := fs.String("entity", "", "Filter by linked entity (UUID, name or alias)")
	search := fs.String("q", "", "Search in titles and body text")
	limit := fs.Int("limit", 50, "Maximum records to return")
	offset := fs.Int("offset", 0, "Rows to skip")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "records list does not accept positional arguments")
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

	fromTime, toTime, err := parseTimeRangeFlags(*from, *to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid time range: %v\n", err)
		return 2
	}

	ctx, cancel, pool, err := connectReadPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	entityUUID := strings.TrimSpace(*entity)
	if entityUUID != "" {
		if _, parseErr := uuid.Parse(entityUUID); parseErr != nil {
			ent, err := pool.FindEntity(ctx, entityUUID)
			if err != nil {
				if db.IsNoRows(err) {
					fmt.Fprintf(os.Stderr, "Entity not found: %s\n", entityUUID)
					return 1
				}
				fmt.Fprintf(os.Stderr, "Failed to resolve entity: %v\n", err)
				return 1
			}
			entityUUID = ent.EntityUUID
		}
	}

	records, err := pool.ListRecords(ctx, db.RecordListOptions{
		Kind:           normalizeFilterFlag(*kind),
		Source:         normalizeFilterFlag(*sourceName),
		SentimentLabel: normalizeFilterFlag(*sentiment),
		Search:         strings.TrimSpace(*search),
		EntityUUID:     entityUUID,
		Since:          fromTime,
		Until:          toTime,
		Limit:          *limit,
		Offset:         *offset,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query records: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(records); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	if err := writeRecordListTable(records); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}

func writeRecordListTable(items []db.RecordListItem) error {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.RecordUUID,
			item.Kind,
			item.Source,
			truncateForTable(item.Title, 60),
			pointerStringOrEmpty(item.Phase),
			pointerStringOrEmpty(item.Status),
			item.SentimentLabel,
			formatUTCTimestampPtr(item.PublishedAt),
		})
	}

	return writeTable(
		[]string{"record_uuid", "kind", "source", "title", "phase", "status", "sentiment", "published_at"},
		rows,
	)
}

func runRecordShow(args []string) int {
	fs := flag.NewFlagSet("records show", flag.ContinueOnError)
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
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: pharmawatch records show <record_uuid> [--format table|json]")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	recordUUID := strings.TrimSpace(fs.Arg(0))
	if _, err := uuid.Parse(recordUUID); err != nil {
		fmt.Fprintln(os.Stderr, "record_uuid must be a UUID")
		return 2
	}

	ctx, cancel, pool, err := connectReadPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	detail, err := pool.GetRecordByUUID(ctx, recordUUID)
	if err != nil {
		if db.IsNoRows(err) {
			fmt.Fprintf(os.Stderr, "Record not found: %s\n", recordUUID)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Failed to load record: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(detail); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	if err := writeRecordDetailTable(detail); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}

func writeRecordDetailTable(detail *db.RecordDetail) error {
	if detail == nil {
		return fmt.Errorf("record detail is nil")
	}

	fmt.Println("record")
	recordRows := [][]string{
		{"record_uuid", detail.RecordUUID},
		{"kind", detail.Kind},
		{"source", detail.Source},
		{"source_native_id", detail.SourceNativeID},
		{"title", detail.Title},
		{"url", pointerStringOrEmpty(detail.URL)},
		{"published_at", formatUTCTimestampPtr(detail.PublishedAt)},
		{"status", pointerStringOrEmpty(detail.Status)},
		{"phase", pointerStringOrEmpty(detail.Phase)},
		{"therapeutic_area", pointerStringOrEmpty(detail.TherapeuticArea)},
		{"journal", pointerStringOrEmpty(detail.Journal)},
		{"sponsor", pointerStringOrEmpty(detail.Sponsor)},
		{"language", detail.Language},
		{"sentiment", fmt.Sprintf("%s (%.2f)", detail.SentimentLabel, detail.SentimentScore)},
		{"terms", strings.Join(detail.ExtractedTerms, ", ")},
		{"lead", truncateForTable(detail.LeadText, 160)},
		{"created_at", formatUTCTimestamp(detail.CreatedAt)},
		{"updated_at", formatUTCTimestamp(detail.UpdatedAt)},
	}
	if err := writeTable([]string{"field", "value"}, recordRows); err != nil {
		return err
	}

	if len(detail.Entities) > 0 {
		fmt.Println()
		fmt.Println("entities")
		entityRows := make([][]string, 0, len(detail.Entities))
		for _, link := range detail.Entities {
			entityRows = append(entityRows, []string{
				link.EntityUUID,
				link.Kind,
				link.Name,
				link.Mention,
				link.MatchBasis,
				fmt.Sprintf("%.2f", link.Confidence),
			})
		}
		if err := writeTable([]string{"entity_uuid", "kind", "name", "mention", "basis", "confidence"}, entityRows); err != nil {
			return err
		}
	}

	if len(detail.Xrefs) > 0 {
		fmt.Println()
		fmt.Println("xrefs")
		xrefRows := make([][]string, 0, len(detail.Xrefs))
		for _, xref := range detail.Xrefs {
			xrefRows = append(xrefRows, []string{
				xref.Source,
				xref.SourceNativeID,
				truncateForTable(xref.Title, 60),
				fmt.Sprintf("%.2f", xref.Similarity),
			})
		}
		if err := writeTable([]string{"source", "native_id", "title", "similarity"}, xrefRows); err != nil {
			return err
		}
	}

	return nil
}

func runRecordRefresh(args []string) int {
	fs := flag.NewFlagSet("records refresh", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	status := fs.String("status", "", "New status value")
	dryRun := fs.Bool("dry-run", false, "Preview the change without applying it")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: pharmawatch records refresh <record_uuid> --status <value> [--dry-run]")
		return 2
	}

	recordUUID := strings.TrimSpace(fs.Arg(0))
	if _, err := uuid.Parse(recordUUID); err != nil {
		fmt.Fprintln(os.Stderr, "record_uuid must be a UUID")
		return 2
	}
	newStatus := strings.TrimSpace(strings.ToLower(*status))
	if newStatus == "" {
		fmt.Fprintln(os.Stderr, "--status must not be empty")
		return 2
	}

	ctx, cancel, pool, err := connectReadPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	if *dryRun {
		return previewRecordRefresh(ctx, pool, recordUUID, newStatus)
	}

	update, err := pool.UpdateRecordStatus(ctx, recordUUID, newStatus, globaltime.UTC())
	if err != nil {
		if db.IsNoRows(err) {
			fmt.Fprintf(os.Stderr, "Record not found: %s\n", recordUUID)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Failed to update record: %v\n", err)
		return 1
	}

	if err := writeRecordRefreshDiff(update.Title, pointerStringOrEmpty(update.OldStatus), update.NewStatus); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render diff: %v\n", err)
		return 1
	}
	return 0
}

func previewRecordRefresh(ctx context.Context, pool *db.Pool, recordUUID, newStatus string) int {
	detail, err := pool.GetRecordByUUID(ctx, recordUUID)
	if err != nil {
		if db.IsNoRows(err) {
			fmt.Fprintf(os.Stderr, "Record not found: %s\n", recordUUID)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Failed to load record: %v\n", err)
		return 1
	}

	fmt.Println("dry_run=true")
	if err := writeRecordRefreshDiff(detail.Title, pointerStringOrEmpty(detail.Status), newStatus); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render diff: %v\n", err)
		return 1
	}
	return 0
}

func writeRecordRefreshDiff(title, before, after string) error {
	rows := [][]string{
		{"title", truncateForTable(title, 80), truncateForTable(title, 80)},
		{"status", before, after},
	}
	return writeTable([]string{"field", "before", "after"}, rows)
}
