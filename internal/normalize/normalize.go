// Package normalize maps each source's raw record shape into the
// canonical record shape the rest of the pipeline operates on.
package normalize

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/halcyonbio/pharmawatch/internal/source"
	"github.com/halcyonbio/pharmawatch/internal/text"
)

const (
	KindTrial       = "trial"
	KindPublication = "publication"
	KindRegulatory  = "regulatory"
	KindNews        = "news"
)

const leadTextMaxRunes = 400

// ErrMalformedRecord reports a raw record missing required fields. The
// pipeline skips and logs such records instead of aborting the batch.
var ErrMalformedRecord = errors.New("malformed record")

// Canonical is the normalized representation of one ingested item,
// independent of its source.
type Canonical struct {
	Kind            string
	Source          string
	SourceNativeID  string
	Title           string
	BodyText        string
	LeadText        string
	URL             string
	PublishedAt     time.Time
	Status          *string
	Phase           *string
	TherapeuticArea *string
	Journal         *string
	Sponsor         *string
	Authors         []string
	Interventions   []string
	Conditions      []string
	RawPayload      json.RawMessage
	ContentHash     []byte
}

// Normalize maps one raw record from the named source into canonical
// form. Missing required fields yield an error wrapping
// ErrMalformedRecord.
func Normalize(sourceName string, raw source.RawRecord) (*Canonical, error) {
	resolved := strings.ToLower(strings.TrimSpace(sourceName))

	var (
		canonical *Canonical
		err       error
	)
	switch resolved {
	case source.NameTrials:
		canonical, err = normalizeTrial(raw)
	case source.NamePubMed:
		canonical, err = normalizePublication(raw)
	case source.NameFDA:
		canonical, err = normalizeRegulatory(raw)
	case source.NameNewswire:
		canonical, err = normalizeNews(raw)
	default:
		return nil, fmt.Errorf("source %q has no normalizer", resolved)
	}
	if err != nil {
		return nil, err
	}

	canonical.Source = resolved
	lead := canonical.LeadText
	if lead == "" {
		lead = canonical.BodyText
	}
	canonical.LeadText = text.TruncateSentence(lead, leadTextMaxRunes)
	canonical.ContentHash = contentHash(canonical.Title, canonical.BodyText)
	if payload, marshalErr := json.Marshal(raw); marshalErr == nil {
		canonical.RawPayload = payload
	}
	return canonical, nil
}

// normalizeTrial accepts both the live study_fields shape (array-valued
// keys) and the flat shape used by offline ingest files.
func normalizeTrial(raw source.RawRecord) (*Canonical, error) {
	nctID := firstString(raw, "NCTId")
	if nctID == "" {
		nctID = stringField(raw, "nct_id")
	}
	if nctID == "" {
		return nil, fmt.Errorf("trial record has no nct id: %w", ErrMalformedRecord)
	}

	title := firstString(raw, "BriefTitle")
	if title == "" {
		title = stringField(raw, "title")
	}
	if title == "" {
		return nil, fmt.Errorf("trial %s has no title: %w", nctID, ErrMalformedRecord)
	}

	conditions := allStrings(raw, "Condition")
	if len(conditions) == 0 {
		conditions = splitList(stringField(raw, "condition"))
	}
	interventions := allStrings(raw, "InterventionName")
	if len(interventions) == 0 {
		interventions = splitList(stringField(raw, "intervention"))
	}
	sponsor := firstString(raw, "LeadSponsorName")
	if sponsor == "" {
		sponsor = stringField(raw, "sponsor")
	}
	phaseRaw := strings.Join(allStrings(raw, "Phase"), ", ")
	if phaseRaw == "" {
		phaseRaw = stringField(raw, "phase")
	}
	status := firstString(raw, "OverallStatus")
	if status == "" {
		status = stringField(raw, "status")
	}
	updated := firstString(raw, "LastUpdatePostDate")
	if updated == "" {
		updated = stringField(raw, "last_updated")
	}

	publishedAt, _ := parseFlexibleTime(updated)

	recordURL := stringField(raw, "url")
	if recordURL == "" {
		recordURL = "https://clinicaltrials.gov/study/" + nctID
	}

	phase := StandardizePhase(phaseRaw)
	area := CategorizeCondition(strings.Join(conditions, ", "))

	return &Canonical{
		Kind:            KindTrial,
		SourceNativeID:  nctID,
		Title:           title,
		BodyText:        buildTrialBody(title, conditions, interventions, sponsor, status),
		URL:             recordURL,
		PublishedAt:     publishedAt,
		Status:          optionalString(status),
		Phase:           optionalString(phase),
		TherapeuticArea: optionalString(area),
		Sponsor:         optionalString(sponsor),
		Interventions:   interventions,
		Conditions:      conditions,
	}, nil
}

// normalizePublication accepts both the esummary docsum shape and the
// flat shape used by offline ingest files. Abstracts are optional; the
// title stands in as body text when none is present.
func normalizePublication(raw source.RawRecord) (*Canonical, error) {
	pmid := stringField(raw, "uid", "pmid")
	if pmid == "" {
		return nil, fmt.Errorf("publication record has no pmid: %w", ErrMalformedRecord)
	}

	title := stringField(raw, "title")
	if title == "" {
		return nil, fmt.Errorf("publication %s has no title: %w", pmid, ErrMalformedRecord)
	}

	abstract := stringField(raw, "abstract")
	body := abstract
	if body == "" {
		body = title
	}

	publishedAt, _ := parseFlexibleTime(stringField(raw, "pubdate", "pub_date"))

	recordURL := stringField(raw, "url")
	if recordURL == "" {
		recordURL = "https://pubmed.ncbi.nlm.nih.gov/" + pmid + "/"
	}

	journal := stringField(raw, "fulljournalname", "journal", "source")
	area := CategorizeCondition(title + " " + abstract)

	return &Canonical{
		Kind:            KindPublication,
		SourceNativeID:  pmid,
		Title:           title,
		BodyText:        body,
		URL:             recordURL,
		PublishedAt:     publishedAt,
		TherapeuticArea: optionalString(area),
		Journal:         optionalString(journal),
		Authors:         authorNames(raw),
	}, nil
}

func normalizeRegulatory(raw source.RawRecord) (*Canonical, error) {
	applicationNumber := stringField(raw, "application_number")
	if applicationNumber == "" {
		return nil, fmt.Errorf("approval record has no application number: %w", ErrMalformedRecord)
	}

	drugName := stringField(raw, "drug_name")
	if drugName == "" {
		return nil, fmt.Errorf("approval %s has no drug name: %w", applicationNumber, ErrMalformedRecord)
	}

	// Applications carry several products; the product number keeps
	// native ids unique within one application.
	nativeID := applicationNumber
	if productNumber := stringField(raw, "product_number"); productNumber != "" {
		nativeID = applicationNumber + "/" + productNumber
	}

	indication := stringField(raw, "indication")
	body := indication
	if body == "" {
		body = drugName
	}

	publishedAt, _ := parseFlexibleTime(stringField(raw, "approval_date"))

	status := "Approved"
	phase := "Approved"

	return &Canonical{
		Kind:            KindRegulatory,
		SourceNativeID:  nativeID,
		Title:           drugName,
		BodyText:        body,
		URL:             stringField(raw, "url"),
		PublishedAt:     publishedAt,
		Status:          &status,
		Phase:           &phase,
		TherapeuticArea: optionalString(CategorizeCondition(indication)),
		Sponsor:         optionalString(stringField(raw, "company")),
		Interventions:   []string{drugName},
	}, nil
}

func normalizeNews(raw source.RawRecord) (*Canonical, error) {
	nativeID := stringField(raw, "id", "url")
	if nativeID == "" {
		return nil, fmt.Errorf("news record has no id: %w", ErrMalformedRecord)
	}

	title := stringField(raw, "title")
	if title == "" {
		return nil, fmt.Errorf("news record %s has no title: %w", nativeID, ErrMalformedRecord)
	}

	content := stringField(raw, "content")
	body := content
	if body == "" {
		body = title
	}

	publishedAt, _ := parseFlexibleTime(stringField(raw, "published_at"))

	return &Canonical{
		Kind:            KindNews,
		SourceNativeID:  nativeID,
		Title:           title,
		BodyText:        body,
		LeadText:        stringField(raw, "summary"),
		URL:             stringField(raw, "url"),
		PublishedAt:     publishedAt,
		TherapeuticArea: optionalString(CategorizeCondition(content)),
	}, nil
}

func buildTrialBody(title string, conditions, interventions []string, sponsor, status string) string {
	var b strings.Builder
	b.WriteString(title)
	if !strings.HasSuffix(title, ".") {
		b.WriteString(".")
	}
	if len(conditions) > 0 {
		b.WriteString(" Conditions: " + strings.Join(conditions, ", ") + ".")
	}
	if len(interventions) > 0 {
		b.WriteString(" Interventions: " + strings.Join(interventions, ", ") + ".")
	}
	if sponsor != "" {
		b.WriteString(" Sponsor: " + sponsor + ".")
	}
	if status != "" {
		b.WriteString(" Status: " + status + ".")
	}
	return b.String()
}

func contentHash(title, body string) []byte {
	digest := sha256.Sum256([]byte(text.Normalize(title) + "\n" + text.Normalize(body)))
	return digest[:]
}
