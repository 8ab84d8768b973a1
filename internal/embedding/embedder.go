// Package embedding implements the incremental embedding engine (spec.md
// §4.4), adapted from internal/rag/embedder/embedder.go and
// internal/embedding/client.go (the teacher's remote embedding HTTP
// client).
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"time"

	"intelkernel/internal/config"
	"intelkernel/internal/nodekit"
)

// Embedder is the remote embedding capability contract (spec.md §1
// treats the concrete provider as an external collaborator; the kernel
// depends only on this interface).
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// HTTPEmbedder calls a configured HTTP embedding endpoint, grounded on
// internal/embedding/client.go's EmbedText.
type HTTPEmbedder struct {
	cfg    config.EmbeddingConfig
	client *http.Client
}

// NewHTTPEmbedder builds an HTTPEmbedder from cfg.
func NewHTTPEmbedder(cfg config.EmbeddingConfig) *HTTPEmbedder {
	return &HTTPEmbedder{cfg: cfg, client: http.DefaultClient}
}

func (h *HTTPEmbedder) Dimension() int { return h.cfg.Dimensions }

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedBatch calls the configured embedding endpoint and returns one
// embedding per input string. A dependency timeout surfaces as a
// nodekit.Error with the Timeout kind; a transport failure, a body-read
// failure, or a 5xx response surfaces with the TransientDependencyFailure
// kind, so the caller's retry policy can engage. Any other non-2xx
// response, and a response body that cannot be used, surfaces as a
// PermanentDependencyFailure.
func (h *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embedding.EmbedBatch"
	if len(texts) == 0 {
		return nil, nodekit.Invalid(op, fmt.Errorf("no inputs"))
	}
	reqBody, _ := json.Marshal(embedReq{Model: h.cfg.Model, Input: texts})
	timeout := time.Duration(h.cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := h.cfg.BaseURL + h.cfg.Path
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, nodekit.InternalErr(op, err)
	}
	if h.cfg.APIHeader == "Authorization" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	} else if h.cfg.APIHeader != "" {
		req.Header.Set(h.cfg.APIHeader, h.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		if cctx.Err() != nil {
			return nil, nodekit.NewError(op, nodekit.Timeout, err)
		}
		return nil, nodekit.Transient(op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nodekit.Transient(op, err)
	}
	if resp.StatusCode/100 != 2 {
		if resp.StatusCode >= 500 {
			return nil, nodekit.Transient(op, fmt.Errorf("embeddings error: %s: %s", resp.Status, string(bodyBytes)))
		}
		return nil, nodekit.Permanent(op, fmt.Errorf("embeddings error: %s: %s", resp.Status, string(bodyBytes)))
	}

	var er embedResp
	if err := json.Unmarshal(bodyBytes, &er); err != nil {
		return nil, nodekit.Permanent(op, fmt.Errorf("parsing embedding response: %w", err))
	}
	if len(er.Data) != len(texts) {
		return nil, nodekit.Permanent(op, fmt.Errorf("unexpected embedding count: got %d, want %d", len(er.Data), len(texts)))
	}
	out := make([][]float32, len(er.Data))
	for i := range er.Data {
		out[i] = er.Data[i].Embedding
	}
	return out, nil
}

// DeterministicEmbedder is a test double producing stable, content-derived
// vectors without calling any network service, grounded on
// internal/rag/embedder/embedder.go's deterministicEmbedder (FNV-1a hash of
// byte trigrams, L2-normalized).
type DeterministicEmbedder struct {
	dim int
}

// NewDeterministicEmbedder builds a DeterministicEmbedder of the given
// dimension.
func NewDeterministicEmbedder(dim int) *DeterministicEmbedder {
	if dim <= 0 {
		dim = 32
	}
	return &DeterministicEmbedder{dim: dim}
}

func (d *DeterministicEmbedder) Dimension() int { return d.dim }

func (d *DeterministicEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embed(t)
	}
	return out, nil
}

func (d *DeterministicEmbedder) embed(text string) []float32 {
	vec := make([]float32, d.dim)
	if len(text) < 3 {
		text = text + "   "
	}
	for i := 0; i+3 <= len(text); i++ {
		h := fnv.New32a()
		_, _ = h.Write([]byte(text[i : i+3]))
		bucket := int(h.Sum32() % uint32(d.dim))
		vec[bucket] += 1
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}
