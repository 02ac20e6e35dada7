// Package seed supplies the read-only projects: the artifact written by the
// fetch tool, or the embedded sample set when no artifact exists.
package seed

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"timeline/internal/document"
	"timeline/internal/domain"
)

//go:embed samples.json
var samplesJSON []byte

// SampleDocuments returns the raw sample documents, as written to an artifact.
func SampleDocuments() []any {
	var docs []any
	if err := json.Unmarshal(samplesJSON, &docs); err != nil {
		panic(fmt.Sprintf("seed: embedded samples are invalid: %v", err))
	}
	return docs
}

// Samples parses the embedded sample set.
func Samples(ctx context.Context) ([]domain.ProjectData, error) {
	return Parse(samplesJSON, slog.Default())
}

// Parse decodes an artifact: a JSON array of project documents. Documents
// that fail validation, and repeats of an earlier project id, are skipped
// with a warning.
func Parse(raw []byte, log *slog.Logger) ([]domain.ProjectData, error) {
	if log == nil {
		log = slog.Default()
	}
	var docs []any
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("decode seed artifact: %w", err)
	}
	out := make([]domain.ProjectData, 0, len(docs))
	seen := make(map[string]bool, len(docs))
	for i, doc := range docs {
		if err := document.Validate(doc); err != nil {
			log.Warn("skipping invalid seed project", "index", i, "error", err)
			continue
		}
		data := document.Normalize(doc)
		if seen[data.Project.ID] {
			log.Warn("skipping duplicate seed project", "index", i, "project_id", data.Project.ID)
			continue
		}
		seen[data.Project.ID] = true
		out = append(out, data)
	}
	return out, nil
}

// File reads seeds from an artifact on disk, falling back to the embedded
// samples when the file does not exist.
type File struct {
	Path   string
	Logger *slog.Logger
}

func (f File) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

func (f File) Seeds(ctx context.Context) ([]domain.ProjectData, error) {
	if f.Path == "" {
		return Parse(samplesJSON, f.logger())
	}
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		f.logger().Debug("seed artifact missing, using samples", "path", f.Path)
		return Parse(samplesJSON, f.logger())
	}
	if err != nil {
		return nil, fmt.Errorf("read seed artifact %s: %w", f.Path, err)
	}
	return Parse(raw, f.logger())
}
