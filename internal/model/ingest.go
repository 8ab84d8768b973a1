package model

import "time"

// ReingestPolicy controls how the ingestion orchestrator treats a document
// whose content hash already exists, grounded on
// internal/rag/ingest/idempotency.go.
type ReingestPolicy string

const (
	ReingestSkipIfUnchanged ReingestPolicy = "skip_if_unchanged"
	ReingestOverwrite       ReingestPolicy = "overwrite"
	ReingestNewVersion      ReingestPolicy = "new_version"
)

// ChunkingOptions controls the semantic chunker.
type ChunkingOptions struct {
	Strategy  string `json:"strategy"`
	MaxTokens int    `json:"max_tokens"`
	Overlap   int    `json:"overlap"`
}

// EmbeddingOptions controls the incremental embedding engine.
type EmbeddingOptions struct {
	Enabled    bool   `json:"enabled"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}

// ExtractionOptions controls entity/relationship extraction.
type ExtractionOptions struct {
	Enabled         bool `json:"enabled"`
	ExtractEntities bool `json:"extract_entities"`
}

// IngestOptions bundles the per-call knobs for IngestRequest.
type IngestOptions struct {
	Chunking       ChunkingOptions   `json:"chunking"`
	Embedding      EmbeddingOptions  `json:"embedding"`
	Extraction     ExtractionOptions `json:"extraction"`
	ReingestPolicy ReingestPolicy    `json:"reingest_policy"`
	Version        int               `json:"version"`
	IdempotencyKey string            `json:"idempotency_key"`
}

// IngestRequest is the input to the ingestion orchestrator (spec.md §4.2).
type IngestRequest struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	URL      string            `json:"url"`
	Source   string            `json:"source"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
	Language string            `json:"language"`
	Tenant   string            `json:"tenant"`
	Options  IngestOptions     `json:"options"`
}

// IngestStats reports what the ingestion run actually did.
type IngestStats struct {
	NumChunks     int           `json:"num_chunks"`
	NumEntities   int           `json:"num_entities"`
	NumRelations  int           `json:"num_relationships"`
	TotalTokens   int           `json:"total_tokens"`
	VectorUpserts int           `json:"vector_upserts"`
	ChunksEmbed   int           `json:"chunks_embedded"`
	ChunksSkipped int           `json:"chunks_skipped"`
	Duration      time.Duration `json:"duration"`
}

// IngestResponse is the result of a successful ingestion run.
type IngestResponse struct {
	DocID    string           `json:"doc_id"`
	Version  int              `json:"version"`
	ChunkIDs []string         `json:"chunk_ids"`
	Quality  QualityScore     `json:"quality"`
	Semantic SemanticAnalysis `json:"semantic"`
	Stats    IngestStats      `json:"stats"`
	Warnings []string         `json:"warnings,omitempty"`
}

// ContentStrategy names how an IngestFile's bytes are obtained, per
// spec.md §6's ingestion event (v2) payload.
type ContentStrategy string

const (
	// ContentInline carries the file's full text directly in the event.
	ContentInline ContentStrategy = "inline"
	// ContentObjectStorage points at an object store location; resolved
	// via a ContentResolver.
	ContentObjectStorage ContentStrategy = "object_storage"
	// ContentGitReference points at a git commit/path; resolved via a
	// ContentResolver.
	ContentGitReference ContentStrategy = "git_reference"
)

// IngestFile is one file within a project-level ingestion event.
type IngestFile struct {
	Path                 string            `json:"path"`
	ContentStrategy      ContentStrategy   `json:"content_strategy"`
	Text                 string            `json:"text,omitempty"`
	ContentURL           string            `json:"content_url,omitempty"`
	ContentURLExpiresAt  time.Time         `json:"content_url_expires_at,omitempty"`
	GitRef               string            `json:"git_ref,omitempty"`
	Checksum             string            `json:"checksum"`
	Language             string            `json:"language,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// ProjectIngestRequest is the v2, multi-file ingestion event payload
// (spec.md §6), fanning out into one IngestRequest per file.
type ProjectIngestRequest struct {
	ProjectName string            `json:"project_name"`
	Tenant      string            `json:"tenant"`
	Source      string            `json:"source"`
	Files       []IngestFile      `json:"files"`
	Options     IngestOptions     `json:"options"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// FileIngestResult pairs one project file with its outcome.
type FileIngestResult struct {
	Path     string          `json:"path"`
	Response IngestResponse  `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// ProjectIngestResponse is the aggregate result of a project-level
// ingestion run.
type ProjectIngestResponse struct {
	ProjectName string             `json:"project_name"`
	Files       []FileIngestResult `json:"files"`
}
