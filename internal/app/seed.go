package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/halcyonbio/pharmawatch/internal/cli"
	"github.com/halcyonbio/pharmawatch/internal/resolve"
)

func runSeed(args []string) int {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")
	file := fs.String("file", "", "YAML file with a companies list (default: built-in watchlist)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "seed does not accept positional arguments")
		return 2
	}

	companies := resolve.DefaultSeedCompanies
	if path := strings.TrimSpace(*file); path != "" {
		loaded, err := loadSeedCompanies(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid seed file: %v\n", err)
			return 2
		}
		companies = loaded
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := connectPipeline(ctx, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	created, merged, err := rt.svc.SeedEntities(ctx, companies)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Seed failed: %v\n", err)
		return 1
	}

	fmt.Printf("companies=%d created=%d merged=%d\n", len(companies), created, merged)
	return 0
}

// loadSeedCompanies reads the same companies section a watchlist file
// uses, so one file can drive both seed and run.
func loadSeedCompanies(path string) ([]resolve.SeedCompany, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file %q: %w", path, err)
	}

	var doc struct {
		Companies []resolve.SeedCompany `yaml:"companies"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode YAML: %w", err)
	}
	if len(doc.Companies) == 0 {
		return nil, fmt.Errorf("seed file %q has no companies", path)
	}

	for i := range doc.Companies {
		doc.Companies[i].Name = strings.TrimSpace(doc.Companies[i].Name)
		if doc.Companies[i].Name == "" {
			return nil, fmt.Errorf("companies[%d]: name is required", i)
		}
	}
	return doc.Companies, nil
}
