package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lawbot/internal/chunker"
	"lawbot/internal/domain"
	"lawbot/internal/embedding/hashing"
	"lawbot/internal/vectorindex"
)

type recordingMirror struct {
	entries int
	err     error
}

func (m *recordingMirror) Mirror(ctx context.Context, meta vectorindex.Meta, entries []domain.IndexEntry) error {
	m.entries = len(entries)
	return m.err
}

func writeCorpus(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, text := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestRun_BuildsLoadableIndex(t *testing.T) {
	corpus := writeCorpus(t, map[string]string{
		"coi.txt": "The Constitution of India was adopted on 26 November 1949.",
		"ipc.txt": "The Indian Penal Code was enacted in 1860 and defines offences.",
	})
	indexDir := filepath.Join(t.TempDir(), "index")
	ch, _ := chunker.New(chunker.Options{Size: 40, Overlap: 5})
	emb := hashing.New(64)
	mirror := &recordingMirror{}

	report, err := Run(context.Background(), Options{
		CorpusDir: corpus, IndexDir: indexDir, Patterns: []string{"*.txt"},
		ChunkSize: 40, ChunkOverlap: 5, BatchSize: 2, Workers: 2, Mirror: mirror,
	}, ch, emb)
	if err != nil {
		t.Fatal(err)
	}
	if report.Documents != 2 || report.Fragments < 3 || report.Model != "hashing-v1/64" {
		t.Fatalf("report = %+v", report)
	}
	if mirror.entries != report.Fragments {
		t.Fatalf("mirror got %d entries", mirror.entries)
	}
	idx, err := vectorindex.Load(indexDir, vectorindex.Compat{Model: emb.ModelID(), Dimension: emb.Dimension()})
	if err != nil {
		t.Fatal(err)
	}
	if idx.Len() != report.Fragments || idx.Meta().ChunkSize != 40 {
		t.Fatalf("loaded %d entries, meta %+v", idx.Len(), idx.Meta())
	}
}

func TestRun_EmptyCorpusWritesNothing(t *testing.T) {
	corpus := t.TempDir()
	indexDir := filepath.Join(t.TempDir(), "index")
	ch, _ := chunker.New(chunker.Options{Size: 100})
	_, err := Run(context.Background(), Options{CorpusDir: corpus, IndexDir: indexDir}, ch, hashing.New(32))
	if !domain.IsIngestion(err) {
		t.Fatalf("err = %v, want IngestionError", err)
	}
	if _, statErr := os.Stat(indexDir); !os.IsNotExist(statErr) {
		t.Fatal("index directory was created for an empty corpus")
	}
}

func TestRun_BlankDocuments(t *testing.T) {
	corpus := writeCorpus(t, map[string]string{"blank.txt": "   \n  "})
	ch, _ := chunker.New(chunker.Options{Size: 100})
	_, err := Run(context.Background(), Options{CorpusDir: corpus, IndexDir: t.TempDir(), Patterns: []string{"*.txt"}}, ch, hashing.New(32))
	if !domain.IsIngestion(err) {
		t.Fatalf("err = %v, want IngestionError", err)
	}
}

func TestRun_SkipsBlankFragments(t *testing.T) {
	text := "Article 1. India, that is Bharat, shall be a Union of States." +
		strings.Repeat("\n", 300) +
		"Article 2. Parliament may by law admit into the Union new States."
	corpus := writeCorpus(t, map[string]string{"coi.txt": text})
	for _, strategy := range []chunker.Strategy{chunker.Recursive, chunker.Fixed} {
		t.Run(string(strategy), func(t *testing.T) {
			indexDir := filepath.Join(t.TempDir(), "index")
			ch, err := chunker.New(chunker.Options{Size: 100, Overlap: 20, Strategy: strategy})
			if err != nil {
				t.Fatal(err)
			}
			emb := hashing.New(32)
			report, err := Run(context.Background(), Options{
				CorpusDir: corpus, IndexDir: indexDir, Patterns: []string{"*.txt"},
				ChunkSize: 100, ChunkOverlap: 20,
			}, ch, emb)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if report.Skipped == 0 {
				t.Fatalf("no blank fragments skipped: %+v", report)
			}
			idx, err := vectorindex.Load(indexDir, vectorindex.Compat{Model: emb.ModelID(), Dimension: emb.Dimension()})
			if err != nil {
				t.Fatal(err)
			}
			for _, e := range idx.Entries() {
				if strings.TrimSpace(e.Fragment.Text) == "" {
					t.Fatalf("blank fragment %d indexed", e.Fragment.Index)
				}
			}
		})
	}
}

func TestRun_FailedMirrorKeepsPreviousIndex(t *testing.T) {
	corpus := writeCorpus(t, map[string]string{"coi.txt": constitutionText})
	indexDir := filepath.Join(t.TempDir(), "index")
	ch, _ := chunker.New(chunker.Options{Size: 100})
	mirrorErr := errors.New("qdrant unavailable")
	_, err := Run(context.Background(), Options{
		CorpusDir: corpus, IndexDir: indexDir, Patterns: []string{"*.txt"},
		Mirror: &recordingMirror{err: mirrorErr},
	}, ch, hashing.New(32))
	if !errors.Is(err, mirrorErr) {
		t.Fatalf("err = %v, want mirror error", err)
	}
	if _, statErr := os.Stat(indexDir); !os.IsNotExist(statErr) {
		t.Fatal("local index written although the mirror failed")
	}
}

const constitutionText = "The Constitution of India was adopted on 26 November 1949."
