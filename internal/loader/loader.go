package loader

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"lawbot/internal/domain"
	"lawbot/internal/logger"
)

// Options controls which files of a corpus directory are loaded.
type Options struct {
	Patterns  []string
	Recursive bool
}

// extractor turns one file into text plus optional page spans.
type extractor func(path string) (string, []domain.PageSpan, error)

var extractors = map[string]extractor{
	".pdf":  extractPDF,
	".txt":  extractPlain,
	".md":   extractPlain,
	".html": extractHTML,
	".htm":  extractHTML,
}

// Load reads every matching file under dir into a Document, sorted by path.
// A missing directory or an empty match set is reported as an IngestionError.
func Load(ctx context.Context, dir string, opts Options) ([]domain.Document, error) {
	patterns := opts.Patterns
	if len(patterns) == 0 {
		patterns = []string{"*.pdf"}
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &domain.IngestionError{Dir: dir, Reason: "corpus directory not found", Err: err}
	}
	if !info.IsDir() {
		return nil, &domain.IngestionError{Dir: dir, Reason: "corpus path is not a directory"}
	}

	paths, err := matchFiles(dir, patterns, opts.Recursive)
	if err != nil {
		return nil, &domain.IngestionError{Dir: dir, Reason: "cannot list corpus", Err: err}
	}
	if len(paths) == 0 {
		return nil, &domain.IngestionError{Dir: dir, Reason: fmt.Sprintf("no files match %s", strings.Join(patterns, ","))}
	}

	docs := make([]domain.Document, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := LoadFile(p)
		if err != nil {
			logger.Warn("skipping unreadable document", "path", p, "error", err)
			continue
		}
		rel, relErr := filepath.Rel(dir, p)
		if relErr == nil {
			doc.Path = filepath.ToSlash(rel)
			doc.ID = hashString(doc.Path)
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil, &domain.IngestionError{Dir: dir, Reason: "no document could be read"}
	}
	return docs, nil
}

// LoadFile extracts a single file by extension.
func LoadFile(path string) (domain.Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	extract, ok := extractors[ext]
	if !ok {
		return domain.Document{}, fmt.Errorf("unsupported file type %q", ext)
	}
	text, pages, err := extract(path)
	if err != nil {
		return domain.Document{}, err
	}
	return domain.Document{ID: hashString(path), Path: path, Text: text, Pages: pages}, nil
}

func matchFiles(dir string, patterns []string, recursive bool) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		for _, pattern := range patterns {
			ok, err := filepath.Match(strings.ToLower(strings.TrimSpace(pattern)), strings.ToLower(name))
			if err != nil {
				return fmt.Errorf("bad pattern %q: %w", pattern, err)
			}
			if ok {
				out = append(out, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func extractPlain(path string) (string, []domain.PageSpan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	return string(data), nil, nil
}

func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8])
}

var errNoText = errors.New("no extractable text")
