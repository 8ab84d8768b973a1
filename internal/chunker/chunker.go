// Package chunker implements the semantic chunker Compute node (spec.md
// §4.3), adapted from internal/rag/chunker/chunker.go's strategy dispatch.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"intelkernel/internal/model"
)

// Chunker splits text into semantically coherent chunks. It is a pure
// Compute node: identical input always yields identical output.
type Chunker interface {
	Chunk(docID, text string, opt model.ChunkingOptions) ([]model.Chunk, error)
}

// SemanticChunker dispatches to a strategy based on opt.Strategy.
type SemanticChunker struct{}

// Chunk splits text into chunks using the strategy hint in opt.
func (SemanticChunker) Chunk(docID, text string, opt model.ChunkingOptions) ([]model.Chunk, error) {
	strategy := strings.ToLower(opt.Strategy)
	if strategy == "" {
		strategy = "fixed"
	}
	var raw []rawChunk
	switch strategy {
	case "markdown", "md":
		raw = markdownChunk(text, opt)
	case "code":
		raw = codeChunk(text, opt)
	case "fixed", "tokens", "sentences", "generic":
		raw = fixedChunk(text, opt)
	default:
		raw = fixedChunk(text, opt)
	}
	out := make([]model.Chunk, 0, len(raw))
	for _, r := range raw {
		out = append(out, model.Chunk{
			ChunkID:     chunkID(docID, r.index, r.text),
			DocID:       docID,
			Index:       r.index,
			Text:        r.text,
			ContentHash: contentHash(r.text),
			TokenCount:  approxTokens(r.text),
			Kind:        r.kind,
			Boundary:    r.boundary,
		})
	}
	return out, nil
}

// chunkID is deterministic in (docID, index, text) so re-chunking
// unchanged content reproduces identical IDs, per spec.md §4.3's
// determinism invariant.
func chunkID(docID string, index int, text string) string {
	return fmt.Sprintf("chunk:%s:%d:%s", docID, index, contentHash(text)[:12])
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func approxTokens(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

type rawChunk struct {
	index    int
	text     string
	kind     string
	boundary string
}

func targetLen(opt model.ChunkingOptions) int {
	n := opt.MaxTokens
	if n <= 0 {
		n = 512
	}
	return n * 4
}

// fixedChunk makes contiguous chunks of target size with optional overlap.
func fixedChunk(text string, opt model.ChunkingOptions) []rawChunk {
	tgt := targetLen(opt)
	if tgt < 32 {
		tgt = 32
	}
	ov := opt.Overlap
	if ov < 0 {
		ov = 0
	}
	ovChars := ov * 4
	var out []rawChunk
	start := 0
	idx := 0
	for start < len(text) {
		end := start + tgt
		if end > len(text) {
			end = len(text)
		} else if i := strings.LastIndex(text[start:end], " "); i > tgt/2 {
			end = start + i
		}
		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			boundary := "token_limit"
			if end == len(text) {
				boundary = "end_of_text"
			}
			out = append(out, rawChunk{index: idx, text: chunk, kind: "paragraph", boundary: boundary})
			idx++
		}
		if end == len(text) {
			break
		}
		next := end - ovChars
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// markdownChunk splits on heading and paragraph boundaries, preserving
// heading lines as hard boundaries.
func markdownChunk(text string, opt model.ChunkingOptions) []rawChunk {
	tgt := targetLen(opt)
	lines := strings.Split(text, "\n")
	var out []rawChunk
	var buf strings.Builder
	idx := 0
	kind := "paragraph"
	boundary := "blank_line"
	writeFlush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			out = append(out, rawChunk{index: idx, text: s, kind: kind, boundary: boundary})
			idx++
			buf.Reset()
			kind, boundary = "paragraph", "blank_line"
		}
	}
	for i, ln := range lines {
		isHeading := strings.HasPrefix(ln, "#")
		isParaBreak := strings.TrimSpace(ln) == "" && i+1 < len(lines) && strings.TrimSpace(lines[i+1]) != ""
		if isHeading && buf.Len() > 0 {
			boundary = "heading"
			writeFlush()
		}
		if isHeading {
			kind = "heading"
		}
		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(ln)
		if (isHeading || isParaBreak) && buf.Len() >= tgt {
			boundary = "token_limit"
			writeFlush()
		}
	}
	writeFlush()
	return out
}

var codeSplitRe = regexp.MustCompile(`(?m)^\s*(func |class |def |#[#\s]|//)`)

// codeChunk respects function/class boundaries where possible.
func codeChunk(text string, opt model.ChunkingOptions) []rawChunk {
	tgt := targetLen(opt)
	lines := strings.Split(text, "\n")
	var out []rawChunk
	var buf strings.Builder
	idx := 0
	for i, ln := range lines {
		if codeSplitRe.MatchString(ln) && buf.Len() > 0 && (buf.Len()+len(ln)+1 > tgt || strings.Contains(buf.String(), "func ")) {
			out = append(out, rawChunk{index: idx, text: strings.TrimRight(buf.String(), "\n"), kind: "function", boundary: "function_boundary"})
			idx++
			buf.Reset()
		}
		buf.WriteString(ln)
		if i < len(lines)-1 {
			buf.WriteString("\n")
		}
	}
	if s := strings.TrimSpace(buf.String()); s != "" {
		out = append(out, rawChunk{index: idx, text: s, kind: "function", boundary: "end_of_text"})
	}
	return out
}
