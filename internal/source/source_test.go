package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type stubAdapter struct {
	name string
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Fetch(context.Context, Query) ([]RawRecord, error) {
	return nil, nil
}

func TestRegistryResolvesCaseInsensitively(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	if err := registry.Register(&stubAdapter{name: "Trials"}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	adapter, err := registry.Adapter("  TRIALS  ")
	if err != nil {
		t.Fatalf("Adapter returned error: %v", err)
	}
	if adapter.Name() != "Trials" {
		t.Fatalf("adapter name = %q, want %q", adapter.Name(), "Trials")
	}
}

func TestRegistryUnknownNameListsAvailable(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	if err := registry.Register(&stubAdapter{name: "pubmed"}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if err := registry.Register(&stubAdapter{name: "fda"}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	_, err := registry.Adapter("bloomberg")
	if err == nil {
		t.Fatal("expected error for unknown source")
	}
	if !strings.Contains(err.Error(), "fda, pubmed") {
		t.Fatalf("error %q does not list available sources", err.Error())
	}
}

func TestBuildTrialsExpr(t *testing.T) {
	t.Parallel()

	since := time.Date(2026, time.March, 5, 10, 0, 0, 0, time.UTC)
	expr := buildTrialsExpr(Query{Term: "Pfizer", Since: since})

	if !strings.Contains(expr, `("Pfizer"[Sponsor] OR "Pfizer"[Intervention] OR "Pfizer")`) {
		t.Fatalf("expr %q missing parenthesized term group", expr)
	}
	if !strings.Contains(expr, "AREA[LastUpdatePostDate]RANGE[03/05/2026, MAX]") {
		t.Fatalf("expr %q missing date range", expr)
	}
}

func TestBuildFDASearch(t *testing.T) {
	t.Parallel()

	since := time.Date(2026, time.January, 2, 0, 0, 0, 0, time.UTC)
	search := buildFDASearch(Query{Term: "Novartis", Since: since})

	if !strings.Contains(search, `openfda.manufacturer_name:"Novartis" OR openfda.brand_name:"Novartis" OR openfda.generic_name:"Novartis"`) {
		t.Fatalf("search %q missing term clause", search)
	}
	if !strings.Contains(search, "submissions.submission_status_date:[20260102 TO 99991231]") {
		t.Fatalf("search %q missing date clause", search)
	}
}

func TestFDAAdapterFlattensProducts(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{
			"application_number":"NDA021436",
			"products":[
				{"brand_name":"Examplumab","product_number":"001"},
				{"brand_name":"Examplumab XR","product_number":"002"}
			],
			"submissions":[
				{"submission_status":"TA","submission_status_date":"20260301"},
				{"submission_status":"AP","submission_status_date":"20260115"},
				{"submission_status":"AP","submission_status_date":"20250601"}
			],
			"openfda":{
				"manufacturer_name":["Halcyon Bio"],
				"indications_and_usage":["For treatment of advanced melanoma."]
			}
		}]}`))
	}))
	defer server.Close()

	adapter := NewFDAAdapter(server.URL, server.Client())
	records, err := adapter.Fetch(context.Background(), Query{Term: "Halcyon"})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0]["drug_name"] != "Examplumab" {
		t.Fatalf("drug_name = %v, want Examplumab", records[0]["drug_name"])
	}
	if records[0]["approval_date"] != "20260115" {
		t.Fatalf("approval_date = %v, want most recent AP date 20260115", records[0]["approval_date"])
	}
	if records[1]["company"] != "Halcyon Bio" {
		t.Fatalf("company = %v, want Halcyon Bio", records[1]["company"])
	}
}

func TestTrialsAdapterFetchDecodesStudies(t *testing.T) {
	t.Parallel()

	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"StudyFieldsResponse":{"NStudiesFound":1,"StudyFields":[{"NCTId":["NCT01234567"],"BriefTitle":["A Study"]}]}}`))
	}))
	defer server.Close()

	adapter := NewTrialsAdapter(server.URL, server.Client())
	records, err := adapter.Fetch(context.Background(), Query{Term: "Pfizer", Limit: 5})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if !strings.Contains(gotQuery, "max_rnk=5") {
		t.Fatalf("query %q missing rank bound", gotQuery)
	}
	if !strings.Contains(gotQuery, "fmt=json") {
		t.Fatalf("query %q missing fmt param", gotQuery)
	}
}

func TestFDAAdapterMapsThrottleToRateLimited(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	adapter := NewFDAAdapter(server.URL, server.Client())
	_, err := adapter.Fetch(context.Background(), Query{Term: "Roche"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestFDAAdapterMapsServerErrorToUnavailable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	adapter := NewFDAAdapter(server.URL, server.Client())
	_, err := adapter.Fetch(context.Background(), Query{Term: "Roche"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestPubMedAdapterFetchCollectsSummaries(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(r.URL.Path, "esearch"):
			_, _ = w.Write([]byte(`{"esearchresult":{"idlist":["111","222"]}}`))
		case strings.Contains(r.URL.Path, "esummary"):
			_, _ = w.Write([]byte(`{"result":{"uids":["111","222"],"111":{"uid":"111","title":"First"},"222":{"uid":"222","title":"Second"}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	adapter := NewPubMedAdapter(server.URL, "", server.Client())
	records, err := adapter.Fetch(context.Background(), Query{Term: "oncology", Limit: 10})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0]["uid"] != "111" {
		t.Fatalf("first record uid = %v, want 111", records[0]["uid"])
	}
}
