package watchlist

import (
	"strings"
	"testing"
)

func TestParseValidWatchlist(t *testing.T) {
	data := []byte(`
queries:
  - source: trials
    term: ribociclib
    limit: 100
  - source: PubMed
    term: "CDK4/6 inhibitor"
companies:
  - name: Novartis
    aliases: [Novartis AG]
`)

	list, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list.Queries) != 2 {
		t.Fatalf("expected 2 queries, got %d", len(list.Queries))
	}
	if list.Queries[0].Source != "trials" || list.Queries[0].Term != "ribociclib" || list.Queries[0].Limit != 100 {
		t.Fatalf("unexpected first query: %+v", list.Queries[0])
	}
	if list.Queries[1].Source != "pubmed" {
		t.Fatalf("expected source name to be lowercased, got %q", list.Queries[1].Source)
	}
	if len(list.Companies) != 1 || list.Companies[0].Name != "Novartis" {
		t.Fatalf("unexpected companies: %+v", list.Companies)
	}
	if len(list.Companies[0].Aliases) != 1 || list.Companies[0].Aliases[0] != "Novartis AG" {
		t.Fatalf("unexpected aliases: %+v", list.Companies[0].Aliases)
	}
}

func TestParseRejectsUnknownSource(t *testing.T) {
	data := []byte(`
queries:
  - source: twitter
    term: pharma
`)

	_, err := Parse(data)
	if err == nil {
		t.Fatalf("expected error for unknown source")
	}
	if !strings.Contains(err.Error(), "unknown source") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseRejectsEmptyQueries(t *testing.T) {
	if _, err := Parse([]byte("queries: []\n")); err == nil {
		t.Fatalf("expected error for empty watchlist")
	}
}

func TestParseRejectsBlankTerm(t *testing.T) {
	data := []byte(`
queries:
  - source: fda
    term: "   "
`)

	_, err := Parse(data)
	if err == nil {
		t.Fatalf("expected error for blank term")
	}
	if !strings.Contains(err.Error(), "term is required") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseRejectsCompanyWithoutName(t *testing.T) {
	data := []byte(`
queries:
  - source: newswire
    term: oncology
companies:
  - aliases: [BMS]
`)

	_, err := Parse(data)
	if err == nil {
		t.Fatalf("expected error for company without name")
	}
	if !strings.Contains(err.Error(), "name is required") {
		t.Fatalf("unexpected error: %v", err)
	}
}
