package vectorindex

import (
	"bufio"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"lawbot/internal/domain"
)

const (
	entriesFile = "entries.gob"
	metaFile    = "meta.yaml"
)

// Save writes the index into dir. Each file is written to a temporary name
// and renamed, meta last, so a reader never sees meta for missing entries.
func (x *Index) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	sum, err := writeAtomic(filepath.Join(dir, entriesFile), func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(x.entries)
	})
	if err != nil {
		return fmt.Errorf("write entries: %w", err)
	}
	x.meta.Checksum = sum

	if _, err := writeAtomic(filepath.Join(dir, metaFile), func(w io.Writer) error {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(x.meta); err != nil {
			return err
		}
		return enc.Close()
	}); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return nil
}

func writeAtomic(path string, write func(io.Writer) error) (string, error) {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	bw := bufio.NewWriter(io.MultiWriter(file, h))
	if err := write(bw); err != nil {
		file.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := bw.Flush(); err != nil {
		file.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ReadMeta reads only the metadata of the index in dir.
// A missing index reports domain.ErrEmptyIndex.
func ReadMeta(dir string) (Meta, error) {
	var meta Meta
	data, err := os.ReadFile(filepath.Join(dir, metaFile))
	if errors.Is(err, fs.ErrNotExist) {
		return meta, fmt.Errorf("%w: no index at %s", domain.ErrEmptyIndex, dir)
	}
	if err != nil {
		return meta, fmt.Errorf("read index meta: %w", err)
	}
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("parse index meta: %w", err)
	}
	return meta, nil
}

// Load opens the index in dir after checking that it was built by the
// embedder described by want. Entries are not decoded for incompatible
// indexes.
func Load(dir string, want Compat) (*Index, error) {
	meta, err := ReadMeta(dir)
	if err != nil {
		return nil, err
	}
	if meta.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("index format version %d is not supported (want %d)", meta.FormatVersion, FormatVersion)
	}
	if err := want.Check(meta); err != nil {
		return nil, err
	}
	if meta.Count == 0 {
		return nil, fmt.Errorf("%w: index at %s has no entries", domain.ErrEmptyIndex, dir)
	}

	file, err := os.Open(filepath.Join(dir, entriesFile))
	if err != nil {
		return nil, fmt.Errorf("open index entries: %w", err)
	}
	defer file.Close()

	h := sha256.New()
	r := io.TeeReader(bufio.NewReader(file), h)
	var entries []domain.IndexEntry
	if err := gob.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: decode entries: %v", ErrCorrupt, err)
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, fmt.Errorf("read index entries: %w", err)
	}
	if sum := hex.EncodeToString(h.Sum(nil)); sum != meta.Checksum {
		return nil, fmt.Errorf("%w: checksum %s, meta says %s", ErrCorrupt, sum, meta.Checksum)
	}
	if len(entries) != meta.Count {
		return nil, fmt.Errorf("%w: %d entries, meta says %d", ErrCorrupt, len(entries), meta.Count)
	}
	for i, e := range entries {
		if len(e.Vector) != meta.Dimension {
			return nil, fmt.Errorf("%w: entry %d has dimension %d", ErrCorrupt, i, len(e.Vector))
		}
	}
	return newIndex(meta, entries), nil
}
