package ingestion

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"intelkernel/internal/model"
	"intelkernel/internal/nodekit"
)

// projectFanoutLimit bounds the number of files ingested concurrently
// within one ProjectIngestRequest, so a large project can't exhaust
// downstream embedder/graph/vector connection pools.
const projectFanoutLimit = 8

// ContentResolver resolves an IngestFile's bytes for strategies other than
// ContentInline. The only dependency set available to this orchestrator
// has no object-storage or git client (see DESIGN.md); callers that need
// ContentObjectStorage or ContentGitReference supply their own resolver,
// and the default resolver used when none is configured only honors
// ContentInline.
type ContentResolver interface {
	Resolve(ctx context.Context, f model.IngestFile) (string, error)
}

// inlineOnlyResolver is the zero-value ContentResolver: it serves
// ContentInline files and rejects anything that requires fetching bytes
// from elsewhere.
type inlineOnlyResolver struct{}

func (inlineOnlyResolver) Resolve(_ context.Context, f model.IngestFile) (string, error) {
	if f.ContentStrategy != model.ContentInline && f.ContentStrategy != "" {
		return "", nodekit.Invalid("ingestion.ContentResolver", fmt.Errorf(
			"content_strategy %q requires a configured ContentResolver", f.ContentStrategy))
	}
	return f.Text, nil
}

// WithContentResolver overrides the resolver used for non-inline files in
// IngestProject.
func WithContentResolver(r ContentResolver) Option {
	return func(o *Orchestrator) { o.resolver = r }
}

// IngestProject fans ProjectIngestRequest's files out into per-file
// Ingest calls, bounded to projectFanoutLimit concurrent files via
// errgroup.SetLimit, matching internal/retrieve's fan-out idiom. One
// file's resolve/ingest failure doesn't cancel its siblings: each result
// is recorded individually so a partial project ingestion still reports
// per-file outcomes.
func (o *Orchestrator) IngestProject(ctx context.Context, req model.ProjectIngestRequest) (model.ProjectIngestResponse, error) {
	results := make([]model.FileIngestResult, len(req.Files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(projectFanoutLimit)

	for i, f := range req.Files {
		i, f := i, f
		g.Go(func() error {
			results[i] = o.ingestProjectFile(gctx, req, f)
			return nil
		})
	}
	_ = g.Wait() // per-file errors are captured in results, not propagated.

	return model.ProjectIngestResponse{ProjectName: req.ProjectName, Files: results}, nil
}

func (o *Orchestrator) ingestProjectFile(ctx context.Context, req model.ProjectIngestRequest, f model.IngestFile) model.FileIngestResult {
	resolver := o.resolver
	if resolver == nil {
		resolver = inlineOnlyResolver{}
	}
	text, err := resolver.Resolve(ctx, f)
	if err != nil {
		return model.FileIngestResult{Path: f.Path, Error: err.Error()}
	}

	docID := req.ProjectName + ":" + f.Path
	ireq := model.IngestRequest{
		ID: docID, Title: f.Path, Source: req.Source, Text: text,
		Metadata: f.Metadata, Language: f.Language, Tenant: req.Tenant, Options: req.Options,
	}
	resp, err := o.Ingest(ctx, ireq)
	if err != nil {
		return model.FileIngestResult{Path: f.Path, Error: err.Error()}
	}
	return model.FileIngestResult{Path: f.Path, Response: resp}
}
