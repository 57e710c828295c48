// Package runtime wires the configured models, index and pipeline once per
// process and tears them down on shutdown.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"lawbot/internal/chunker"
	"lawbot/internal/config"
	"lawbot/internal/domain"
	"lawbot/internal/embedding/gemini"
	"lawbot/internal/embedding/hashing"
	embopenai "lawbot/internal/embedding/openai"
	"lawbot/internal/generation"
	"lawbot/internal/generation/extractive"
	gengemini "lawbot/internal/generation/gemini"
	genopenai "lawbot/internal/generation/openai"
	"lawbot/internal/logger"
	"lawbot/internal/prompt"
	"lawbot/internal/qa"
	"lawbot/internal/retriever"
	"lawbot/internal/retriever/cache"
	"lawbot/internal/telemetry"
	"lawbot/internal/vectorindex"
	"lawbot/internal/vectorindex/qdrant"
)

// Runtime holds the shared, read-only query pipeline.
type Runtime struct {
	Config    *config.AppConfig
	Embedder  domain.Embedder
	Generator domain.Generator
	Searcher  domain.Searcher
	Retriever *retriever.Retriever
	QA        *qa.Service
	Metrics   *telemetry.Metrics

	closers []io.Closer
}

// Open builds every component or none: on error, whatever was already
// opened is closed again.
func Open(ctx context.Context, cfg *config.AppConfig) (_ *Runtime, err error) {
	rt := &Runtime{Config: cfg}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	if rt.Metrics, err = telemetry.InitMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	emb, closer, err := NewEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.Embedder = emb
	rt.track(closer)

	if rt.Searcher, err = OpenSearcher(ctx, cfg, emb); err != nil {
		return nil, err
	}

	gen, closer, err := NewGenerator(ctx, cfg, rt.Metrics)
	if err != nil {
		return nil, err
	}
	rt.Generator = gen
	rt.track(closer)

	c, err := newCache(ctx, cfg.Retrieval.Cache)
	if err != nil {
		return nil, err
	}
	if c != nil {
		rt.track(c)
	}

	assembler, err := NewAssembler(cfg.Prompt)
	if err != nil {
		return nil, err
	}
	rt.Retriever = retriever.New(emb, rt.Searcher, retriever.Options{
		MaxDistance: cfg.Retrieval.MaxDistance,
		Cache:       c,
		Metrics:     rt.Metrics,
	})
	rt.QA = qa.New(rt.Retriever, assembler, gen, qa.Options{
		TopK:          cfg.Retrieval.TopK,
		MaxNewTokens:  cfg.Generator.MaxNewTokens,
		ReturnSources: cfg.ReturnSources,
		Metrics:       rt.Metrics,
	})
	logger.Info("Runtime ready",
		"embedder", emb.ModelID(),
		"generator", gen.ModelID(),
		"fragments", rt.Searcher.Len(),
	)
	return rt, nil
}

func (r *Runtime) track(c io.Closer) {
	if c != nil {
		r.closers = append(r.closers, c)
	}
}

// Close releases SDK clients and caches in reverse order of opening.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// NewChunker builds the configured chunker.
func NewChunker(cfg *config.AppConfig) (*chunker.Chunker, error) {
	return chunker.New(chunker.Options{
		Size:     cfg.Chunker.Size,
		Overlap:  cfg.Chunker.Overlap,
		Strategy: chunker.Strategy(cfg.Chunker.Strategy),
	})
}

// NewEmbedder builds the configured embedder. The closer may be nil.
func NewEmbedder(ctx context.Context, cfg *config.AppConfig) (domain.Embedder, io.Closer, error) {
	switch cfg.Embedder.Type {
	case "", "hashing":
		return hashing.New(cfg.Embedder.Dimension), nil, nil
	case "openai":
		oc := cfg.Embedder.OpenAI
		if oc == nil {
			return nil, nil, errMissingSection("embedder.openai")
		}
		key, err := config.APIKey(oc.APIKeyEnv)
		if err != nil {
			return nil, nil, err
		}
		c, err := embopenai.NewClient(embopenai.Config{
			BaseURL:    oc.BaseURL,
			APIKey:     key,
			Model:      oc.Model,
			Dimensions: oc.Dimensions,
			Timeout:    time.Duration(oc.TimeoutSecs) * time.Second,
		})
		return c, nil, err
	case "gemini":
		gc := cfg.Embedder.Gemini
		if gc == nil {
			return nil, nil, errMissingSection("embedder.gemini")
		}
		key, err := config.APIKey(gc.APIKeyEnv)
		if err != nil {
			return nil, nil, err
		}
		c, err := gemini.NewClient(ctx, gemini.Config{APIKey: key, Model: gc.Model, Dimensions: gc.Dimensions})
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	default:
		return nil, nil, fmt.Errorf("unknown embedder type %q", cfg.Embedder.Type)
	}
}

// NewGenerator builds the configured generator wrapped in a Guard.
func NewGenerator(ctx context.Context, cfg *config.AppConfig, metrics *telemetry.Metrics) (domain.Generator, io.Closer, error) {
	gc := cfg.Generator
	var (
		inner  domain.Generator
		closer io.Closer
	)
	switch gc.Type {
	case "", "extractive":
		tmpl, err := promptTemplate(cfg.Prompt)
		if err != nil {
			return nil, nil, err
		}
		markers, err := extractive.MarkersFor(tmpl)
		if err != nil {
			return nil, nil, fmt.Errorf("extractive generator: %w", err)
		}
		inner = extractive.New(markers, 3)
	case "openai":
		if gc.OpenAI == nil {
			return nil, nil, errMissingSection("generator.openai")
		}
		key, err := config.APIKey(gc.OpenAI.APIKeyEnv)
		if err != nil {
			return nil, nil, err
		}
		c, err := genopenai.NewClient(genopenai.Config{
			BaseURL:     gc.OpenAI.BaseURL,
			APIKey:      key,
			Model:       gc.OpenAI.Model,
			Temperature: gc.Temperature,
			Timeout:     time.Duration(gc.OpenAI.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		inner = c
	case "gemini":
		if gc.Gemini == nil {
			return nil, nil, errMissingSection("generator.gemini")
		}
		key, err := config.APIKey(gc.Gemini.APIKeyEnv)
		if err != nil {
			return nil, nil, err
		}
		c, err := gengemini.NewClient(ctx, gengemini.Config{APIKey: key, Model: gc.Gemini.Model, Temperature: gc.Temperature})
		if err != nil {
			return nil, nil, err
		}
		inner, closer = c, c
	default:
		return nil, nil, fmt.Errorf("unknown generator type %q", gc.Type)
	}
	guard := generation.NewGuard(inner, generation.GuardOptions{
		RatePerMinute: gc.RatePerMinute,
		Timeout:       time.Duration(gc.TimeoutSecs) * time.Second,
		Metrics:       metrics,
	})
	return guard, closer, nil
}

// OpenSearcher loads the local index or connects to Qdrant, failing fast if
// the index was built by a different embedder.
func OpenSearcher(ctx context.Context, cfg *config.AppConfig, emb domain.Embedder) (domain.Searcher, error) {
	want := vectorindex.Compat{Model: emb.ModelID(), Dimension: emb.Dimension()}
	if cfg.Index.Search == "qdrant" {
		store := NewQdrant(cfg)
		if err := store.Open(ctx, want); err != nil {
			return nil, err
		}
		return store, nil
	}
	idx, err := vectorindex.Load(cfg.Index.Dir, want)
	if err != nil {
		return nil, err
	}
	if m := idx.Meta(); m.ChunkSize != cfg.Chunker.Size || m.ChunkOverlap != cfg.Chunker.Overlap {
		logger.Warn("Index was built with different chunk settings",
			"index_size", m.ChunkSize, "index_overlap", m.ChunkOverlap,
			"config_size", cfg.Chunker.Size, "config_overlap", cfg.Chunker.Overlap)
	}
	return idx, nil
}

// NewQdrant returns a client for the configured collection.
func NewQdrant(cfg *config.AppConfig) *qdrant.Store {
	qc := cfg.Index.Qdrant
	if qc == nil {
		qc = &config.QdrantConfig{}
	}
	return qdrant.New(qdrant.Config{
		URL:        qc.URL,
		APIKey:     qc.APIKey,
		Collection: qc.Collection,
		Timeout:    time.Duration(qc.TimeoutSecs) * time.Second,
	})
}

func errMissingSection(name string) error {
	return fmt.Errorf("config section %s is missing", name)
}

// promptTemplate returns the configured template text, reading the template
// file if set. Empty means the default template.
func promptTemplate(pc config.PromptConfig) (string, error) {
	if pc.TemplateFile == "" {
		return pc.Template, nil
	}
	data, err := os.ReadFile(pc.TemplateFile)
	if err != nil {
		return "", fmt.Errorf("read prompt template: %w", err)
	}
	return string(data), nil
}

// NewAssembler builds the prompt assembler, reading the template file if set.
func NewAssembler(pc config.PromptConfig) (*prompt.Assembler, error) {
	tmpl, err := promptTemplate(pc)
	if err != nil {
		return nil, err
	}
	return prompt.New(prompt.Options{
		Template:  tmpl,
		Delimiter: pc.Delimiter,
		Budget:    pc.BudgetTokens,
	})
}

func newCache(ctx context.Context, cc config.CacheConfig) (cache.Cache, error) {
	switch cc.Type {
	case "", "none":
		return nil, nil
	case "memory":
		return cache.NewMemory(cc.Size), nil
	case "redis":
		rdb, err := cache.NewRedisClient(ctx, cc.RedisURL)
		if err != nil {
			return nil, err
		}
		return cache.NewRedis(rdb, time.Duration(cc.TTLSecs)*time.Second), nil
	default:
		return nil, fmt.Errorf("unknown cache type %q", cc.Type)
	}
}

// errClosed is returned by a Lazy after Close.
var errClosed = errors.New("runtime closed")

// Lazy opens the runtime on first use. Concurrent first callers share one
// Open; a failed Open is not retried.
type Lazy struct {
	cfg  *config.AppConfig
	once sync.Once

	mu     sync.Mutex
	rt     *Runtime
	err    error
	closed bool
}

func NewLazy(cfg *config.AppConfig) *Lazy { return &Lazy{cfg: cfg} }

func (l *Lazy) Get(ctx context.Context) (*Runtime, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, errClosed
	}
	l.once.Do(func() {
		rt, err := Open(ctx, l.cfg)
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.closed {
			// Close ran while Open was in flight.
			if rt != nil {
				rt.Close()
			}
			rt, err = nil, errClosed
		}
		l.rt, l.err = rt, err
	})
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errClosed
	}
	return l.rt, l.err
}

// Answer implements domain.QAService on top of the lazily opened runtime.
func (l *Lazy) Answer(ctx context.Context, question string) (domain.Answer, error) {
	rt, err := l.Get(ctx)
	if err != nil {
		return domain.Answer{}, err
	}
	return rt.QA.Answer(ctx, question)
}

// Close releases the runtime if it was opened. Later calls to Get fail.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.rt == nil {
		return nil
	}
	rt := l.rt
	l.rt = nil
	return rt.Close()
}
