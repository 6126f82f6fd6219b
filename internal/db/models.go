package db

import (
	"encoding/json"
	"time"
)

// IngestRun maps ingest_runs. One row per pipeline batch attempt chain.
type IngestRun struct {
	RunID              int64      `gorm:"column:run_id;primaryKey;autoIncrement"`
	RunUUID            string     `gorm:"column:run_uuid;type:uuid;not null;unique"`
	Source             string     `gorm:"column:source;type:text;not null"`
	Query              string     `gorm:"column:query;type:text;not null;default:''"`
	State              string     `gorm:"column:state;type:text;not null;default:fetching"`
	Attempt            int        `gorm:"column:attempt;type:integer;not null;default:1"`
	StartedAt          time.Time  `gorm:"column:started_at;not null;default:CURRENT_TIMESTAMP"`
	FinishedAt         *time.Time `gorm:"column:finished_at"`
	ItemsFetched       int        `gorm:"column:items_fetched;type:integer;not null;default:0"`
	ItemsMalformed     int        `gorm:"column:items_malformed;type:integer;not null;default:0"`
	ItemsDeduplicated  int        `gorm:"column:items_deduplicated;type:integer;not null;default:0"`
	ItemsPersisted     int        `gorm:"column:items_persisted;type:integer;not null;default:0"`
	EntitiesCreated    int        `gorm:"column:entities_created;type:integer;not null;default:0"`
	EntitiesMerged     int        `gorm:"column:entities_merged;type:integer;not null;default:0"`
	XrefsRecorded      int        `gorm:"column:xrefs_recorded;type:integer;not null;default:0"`
	ErrorMessage       *string    `gorm:"column:error_message;type:text"`
	CreatedAt          time.Time  `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

func (IngestRun) TableName() string { return "ingest_runs" }

// SourceCheckpoint maps source_checkpoints. Tracks the last successful
// fetch window end per (source, query) so incremental runs resume there.
type SourceCheckpoint struct {
	Source              string    `gorm:"column:source;type:text;primaryKey"`
	Query               string    `gorm:"column:query;type:text;primaryKey"`
	WindowEnd           time.Time `gorm:"column:window_end;not null"`
	LastSuccessfulRunID *int64    `gorm:"column:last_successful_run_id;type:bigint"`
	UpdatedAt           time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

func (SourceCheckpoint) TableName() string { return "source_checkpoints" }

// Record maps records. One row per canonical ingested item; immutable
// after insert except the refreshable fields (status, sentiment columns
// and body columns when the body changed, updated_at).
type Record struct {
	RecordID        int64           `gorm:"column:record_id;primaryKey;autoIncrement"`
	RecordUUID      string          `gorm:"column:record_uuid;type:uuid;not null;unique"`
	Kind            string          `gorm:"column:kind;type:text;not null"`
	Source          string          `gorm:"column:source;type:text;not null;uniqueIndex:ux_records_source_native,priority:1"`
	SourceNativeID  string          `gorm:"column:source_native_id;type:text;not null;uniqueIndex:ux_records_source_native,priority:2"`
	Title           string          `gorm:"column:title;type:text;not null"`
	BodyText        string          `gorm:"column:body_text;type:text;not null;default:''"`
	LeadText        string          `gorm:"column:lead_text;type:text;not null;default:''"`
	URL             *string         `gorm:"column:url;type:text"`
	PublishedAt     *time.Time      `gorm:"column:published_at"`
	Status          *string         `gorm:"column:status;type:text"`
	Phase           *string         `gorm:"column:phase;type:text"`
	TherapeuticArea *string         `gorm:"column:therapeutic_area;type:text"`
	Journal         *string         `gorm:"column:journal;type:text"`
	Sponsor         *string         `gorm:"column:sponsor;type:text"`
	SentimentScore  float64         `gorm:"column:sentiment_score;type:double precision;not null;default:0"`
	SentimentLabel  string          `gorm:"column:sentiment_label;type:text;not null;default:neutral"`
	ExtractedTerms  json.RawMessage `gorm:"column:extracted_terms"`
	Language        string          `gorm:"column:language;type:text;not null;default:und"`
	RawPayload      json.RawMessage `gorm:"column:raw_payload"`
	ContentHash     []byte          `gorm:"column:content_hash;type:bytea"`
	CreatedAt       time.Time       `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

func (Record) TableName() string { return "records" }

// Entity maps entities. Never deleted; merged duplicates absorb aliases.
type Entity struct {
	EntityID       int64     `gorm:"column:entity_id;primaryKey;autoIncrement"`
	EntityUUID     string    `gorm:"column:entity_uuid;type:uuid;not null;unique"`
	Kind           string    `gorm:"column:kind;type:text;not null;uniqueIndex:ux_entities_kind_name,priority:1"`
	CanonicalName  string    `gorm:"column:canonical_name;type:text;not null"`
	NormalizedName string    `gorm:"column:normalized_name;type:text;not null;uniqueIndex:ux_entities_kind_name,priority:2"`
	CreatedAt      time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

func (Entity) TableName() string { return "entities" }

// EntityAlias maps entity_aliases. Canonical names are stored as alias
// rows too, so kind+normalized_alias uniqueness covers the whole
// no-collision invariant with one index.
type EntityAlias struct {
	AliasID         int64     `gorm:"column:alias_id;primaryKey;autoIncrement"`
	EntityID        int64     `gorm:"column:entity_id;type:bigint;not null;index"`
	Kind            string    `gorm:"column:kind;type:text;not null;uniqueIndex:ux_aliases_kind_alias,priority:1"`
	Alias           string    `gorm:"column:alias;type:text;not null"`
	NormalizedAlias string    `gorm:"column:normalized_alias;type:text;not null;uniqueIndex:ux_aliases_kind_alias,priority:2"`
	CreatedAt       time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
}

func (EntityAlias) TableName() string { return "entity_aliases" }

// EntityLink maps entity_links.
type EntityLink struct {
	LinkID     int64     `gorm:"column:link_id;primaryKey;autoIncrement"`
	RecordID   int64     `gorm:"column:record_id;type:bigint;not null;index"`
	EntityID   int64     `gorm:"column:entity_id;type:bigint;not null;index"`
	Confidence float64   `gorm:"column:confidence;type:double precision;not null"`
	MatchBasis string    `gorm:"column:match_basis;type:text;not null"`
	Mention    string    `gorm:"column:mention;type:text;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
}

func (EntityLink) TableName() string { return "entity_links" }

// RecordXref maps record_xrefs. Evidence row for a cross-source
// duplicate that was suppressed in favor of record_id.
type RecordXref struct {
	XrefID         int64      `gorm:"column:xref_id;primaryKey;autoIncrement"`
	RecordID       int64      `gorm:"column:record_id;type:bigint;not null;index"`
	Source         string     `gorm:"column:source;type:text;not null"`
	SourceNativeID string     `gorm:"column:source_native_id;type:text;not null"`
	Title          string     `gorm:"column:title;type:text;not null"`
	URL            *string    `gorm:"column:url;type:text"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	Similarity     float64    `gorm:"column:similarity;type:double precision;not null"`
	CreatedAt      time.Time  `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
}

func (RecordXref) TableName() string { return "record_xrefs" }

// ResolutionAudit maps resolution_audits. Written when a fuzzy match
// lands near the acceptance threshold or a tie-break picked a winner.
type ResolutionAudit struct {
	AuditID            int64     `gorm:"column:audit_id;primaryKey;autoIncrement"`
	RecordUUID         *string   `gorm:"column:record_uuid;type:uuid"`
	Kind               string    `gorm:"column:kind;type:text;not null"`
	Mention            string    `gorm:"column:mention;type:text;not null"`
	WinnerEntityID     int64     `gorm:"column:winner_entity_id;type:bigint;not null"`
	Similarity         float64   `gorm:"column:similarity;type:double precision;not null"`
	RunnerUpEntityID   *int64    `gorm:"column:runner_up_entity_id;type:bigint"`
	RunnerUpSimilarity *float64  `gorm:"column:runner_up_similarity;type:double precision"`
	CreatedAt          time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
}

func (ResolutionAudit) TableName() string { return "resolution_audits" }

func autoMigrateModels() []any {
	return []any{
		&IngestRun{},
		&SourceCheckpoint{},
		&Record{},
		&Entity{},
		&EntityAlias{},
		&EntityLink{},
		&RecordXref{},
		&ResolutionAudit{},
	}
}
