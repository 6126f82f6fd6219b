package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/halcyonbio/pharmawatch/internal/cli"
	"github.com/halcyonbio/pharmawatch/internal/pipeline"
	ingestschema "github.com/halcyonbio/pharmawatch/internal/schema"
	"github.com/halcyonbio/pharmawatch/internal/source"
)

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	sourceName := fs.String("source", "", "Expected source; must match the envelope when set")
	payload := fs.String("payload", "", "Envelope JSON inline")
	file := fs.String("file", "", "Path to envelope JSON file, or - for stdin (overrides --payload)")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "ingest does not accept positional arguments")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	payloadJSON, err := loadEnvelopeInput(*payload, *file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid payload: %v\n", err)
		return 2
	}

	envelope, err := ingestschema.ValidateEnvelope(payloadJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid payload: %v\n", err)
		return 2
	}

	if expected := strings.ToLower(strings.TrimSpace(*sourceName)); expected != "" {
		actual := strings.ToLower(strings.TrimSpace(envelope.Source))
		if expected != actual {
			fmt.Fprintf(os.Stderr, "Envelope source %q does not match --source %q\n", actual, expected)
			return 2
		}
	}

	var fetchedAt time.Time
	if envelope.FetchedAt != nil {
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(*envelope.FetchedAt))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid payload: fetched_at must be RFC3339: %v\n", err)
			return 2
		}
		fetchedAt = ts.UTC()
	}

	raw := make([]source.RawRecord, 0, len(envelope.Records))
	for _, record := range envelope.Records {
		raw = append(raw, source.RawRecord(record))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := connectPipeline(ctx, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	result, runErr := rt.svc.RunEnvelope(ctx, envelope.Source, envelope.Query, fetchedAt, raw)

	if outputFormat == outputFormatJSON {
		if err := printJSON(result); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
	} else if err := writeBatchResultTable([]pipeline.BatchResult{result}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", runErr)
		return 1
	}
	return 0
}

func loadEnvelopeInput(inlineValue, filePath string) (json.RawMessage, error) {
	if path := strings.TrimSpace(filePath); path != "" {
		var payload []byte
		var err error
		if path == "-" {
			payload, err = io.ReadAll(os.Stdin)
			if err != nil {
				return nil, fmt.Errorf("read stdin: %w", err)
			}
		} else {
			payload, err = os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read envelope file %q: %w", path, err)
			}
		}
		trimmed := strings.TrimSpace(string(payload))
		if trimmed == "" {
			return nil, fmt.Errorf("envelope input is empty")
		}
		return json.RawMessage(trimmed), nil
	}

	trimmed := strings.TrimSpace(inlineValue)
	if trimmed == "" {
		return nil, fmt.Errorf("one of --file or --payload is required")
	}
	return json.RawMessage(trimmed), nil
}
