// Package qdrant mirrors a built vector index into a Qdrant collection and
// searches it over Qdrant's REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lawbot/internal/domain"
	"lawbot/internal/logger"
	"lawbot/internal/vectorindex"
)

const defaultUpsertBatch = 256

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
	// BatchSize is the number of points per upsert request.
	BatchSize int
}

// Store is a minimal REST client for one Qdrant collection.
type Store struct {
	url        string
	apiKey     string
	collection string
	batchSize  int
	client     *http.Client

	// Populated by Open.
	metric  vectorindex.Metric
	count   int
	version string
}

func New(cfg Config) *Store {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "lawbot"
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultUpsertBatch
	}
	return &Store{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: collection,
		batchSize:  batch,
		client:     &http.Client{Timeout: timeout},
	}
}

func distanceName(m vectorindex.Metric) string {
	if m == vectorindex.L2 {
		return "Euclid"
	}
	return "Cosine"
}

// Mirror replaces the collection with the entries of a built index. Every
// point carries the expected point count so that Open can reject a
// collection left incomplete by an interrupted mirror. If an upsert fails
// the collection is dropped again.
func (s *Store) Mirror(ctx context.Context, meta vectorindex.Meta, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return domain.ErrEmptyIndex
	}
	if err := s.do(ctx, http.MethodDelete, s.collectionURL(), nil, nil); err != nil && !isNotFound(err) {
		return fmt.Errorf("drop collection: %w", err)
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     meta.Dimension,
			"distance": distanceName(meta.Metric),
		},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionURL(), body, nil); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	version := meta.Checksum
	if len(version) > 16 {
		version = version[:16]
	}
	for start := 0; start < len(entries); start += s.batchSize {
		end := min(start+s.batchSize, len(entries))
		points := make([]map[string]any, 0, end-start)
		for _, e := range entries[start:end] {
			f := e.Fragment
			points = append(points, map[string]any{
				"id":     f.ID,
				"vector": e.Vector,
				"payload": map[string]any{
					"source_id":       f.SourceID,
					"source":          f.Source,
					"text":            f.Text,
					"offset":          f.Offset,
					"length":          f.Length,
					"index":           f.Index,
					"page":            f.Page,
					"embedding_model": meta.Model,
					"index_version":   version,
					"index_count":     len(entries),
				},
			})
		}
		url := s.collectionURL() + "/points?wait=true"
		if err := s.do(ctx, http.MethodPut, url, map[string]any{"points": points}, nil); err != nil {
			if dropErr := s.do(ctx, http.MethodDelete, s.collectionURL(), nil, nil); dropErr != nil {
				logger.Warn("Failed to drop incomplete qdrant collection", "collection", s.collection, "error", dropErr)
			}
			return fmt.Errorf("upsert points [%d:%d]: %w", start, end, err)
		}
	}
	return nil
}

// Open reads the collection description and checks that it was mirrored
// from an index built by the embedder described by want.
func (s *Store) Open(ctx context.Context, want vectorindex.Compat) error {
	var info struct {
		Result struct {
			PointsCount int `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, s.collectionURL(), nil, &info); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: qdrant collection %s does not exist", domain.ErrEmptyIndex, s.collection)
		}
		return err
	}
	if info.Result.PointsCount == 0 {
		return fmt.Errorf("%w: qdrant collection %s has no points", domain.ErrEmptyIndex, s.collection)
	}

	var scroll struct {
		Result struct {
			Points []struct {
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	req := map[string]any{"limit": 1, "with_payload": true, "with_vector": false}
	if err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/scroll", req, &scroll); err != nil {
		return err
	}
	var model string
	expected := -1
	if len(scroll.Result.Points) > 0 {
		payload := scroll.Result.Points[0].Payload
		model, _ = payload["embedding_model"].(string)
		s.version, _ = payload["index_version"].(string)
		if _, ok := payload["index_count"]; ok {
			expected = intField(payload, "index_count")
		}
	}
	meta := vectorindex.Meta{Model: model, Dimension: info.Result.Config.Params.Vectors.Size}
	if err := want.Check(meta); err != nil {
		return err
	}
	if expected >= 0 && expected != info.Result.PointsCount {
		return fmt.Errorf("%w: qdrant collection %s has %d points, mirrored index had %d",
			vectorindex.ErrCorrupt, s.collection, info.Result.PointsCount, expected)
	}
	s.metric = vectorindex.Cosine
	if info.Result.Config.Params.Vectors.Distance == "Euclid" {
		s.metric = vectorindex.L2
	}
	s.count = info.Result.PointsCount
	return nil
}

func (s *Store) Len() int { return s.count }

func (s *Store) Version() string { return "qdrant:" + s.collection + ":" + s.version }

// Search returns Qdrant's approximate nearest neighbours, converted to
// ascending distances.
func (s *Store) Search(ctx context.Context, vector []float32, k int) (domain.RetrievalResult, error) {
	if s.count == 0 {
		return nil, domain.ErrEmptyIndex
	}
	if k <= 0 {
		return domain.RetrievalResult{}, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/search", req, &resp); err != nil {
		return nil, err
	}
	results := make(domain.RetrievalResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		f := domain.Fragment{ID: fmt.Sprint(r.ID)}
		f.SourceID, _ = r.Payload["source_id"].(string)
		f.Source, _ = r.Payload["source"].(string)
		f.Text, _ = r.Payload["text"].(string)
		f.Offset = intField(r.Payload, "offset")
		f.Length = intField(r.Payload, "length")
		f.Index = intField(r.Payload, "index")
		f.Page = intField(r.Payload, "page")

		dist := r.Score
		if s.metric == vectorindex.Cosine {
			dist = 1 - r.Score
		}
		results = append(results, domain.Hit{Fragment: f, Distance: dist})
	}
	return results, nil
}

func intField(payload map[string]any, key string) int {
	if v, ok := payload[key].(float64); ok {
		return int(v)
	}
	return 0
}

func (s *Store) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", s.url, s.collection)
}

type statusError struct {
	method string
	url    string
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %d %s", e.method, e.url, e.status, e.body)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == http.StatusNotFound
}

func (s *Store) do(ctx context.Context, method, url string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{method: method, url: url, status: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
