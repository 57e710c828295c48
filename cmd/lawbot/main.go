package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"lawbot/internal/config"
	"lawbot/internal/domain"
	"lawbot/internal/ingest"
	"lawbot/internal/logger"
	"lawbot/internal/qa"
	"lawbot/internal/runtime"
	"lawbot/internal/server"
	"lawbot/internal/telemetry"
	"lawbot/internal/tui"
	"lawbot/internal/vectorindex"
)

const usage = `Usage: lawbot <command> [flags]

Commands:
  ingest   build the vector index from a corpus directory
  ask      answer one question and exit
  serve    run the HTTP query endpoint
  chat     interactive terminal chat

Run "lawbot <command> -h" for command flags.`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err := config.LoadDotEnv(); err != nil {
		log.Printf("warning: %v", err)
	}

	cmd, args := os.Args[1], os.Args[2:]
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "ingest":
		err = runIngest(ctx, args)
	case "ask":
		err = runAsk(ctx, args)
	case "serve":
		err = runServe(ctx, args)
	case "chat":
		err = runChat(ctx, args)
	case "-h", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", cmd, usage)
		os.Exit(2)
	}
	if msg, code := exitStatus(cmd, err); code != 0 {
		if msg != "" {
			log.Print(msg)
		}
		os.Exit(code)
	}
}

// errReported marks a failure that has already been explained to the user.
var errReported = errors.New("failure already reported")

// exitStatus returns what main prints and the process exit code for err.
func exitStatus(cmd string, err error) (string, int) {
	switch {
	case err == nil:
		return "", 0
	case errors.Is(err, errReported):
		return "", 1
	default:
		return fmt.Sprintf("%s: %v", cmd, err), 1
	}
}

// reportFailure shows the user-facing message for err and keeps the
// internal detail in the debug log.
func reportFailure(w io.Writer, err error) error {
	fmt.Fprintln(w, qa.UserMessage(err))
	logger.Debug("Question failed", "error", err)
	return errReported
}

// setup parses the shared -config flag and initializes logging and tracing.
func setup(ctx context.Context, fs *flag.FlagSet, args []string) (*config.AppConfig, func(), error) {
	cfgPath := fs.String("config", "", "Path to YAML config file (default ./lawbot.yaml or ~/.config/lawbot/config.yaml)")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	var (
		cfg *config.AppConfig
		err error
	)
	if *cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(*cfgPath)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger.InitLogger(cfg.Log)
	shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry)
	if err != nil {
		return nil, nil, fmt.Errorf("init tracer: %w", err)
	}
	return cfg, shutdown, nil
}

func runIngest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	corpus := fs.String("corpus", "", "Corpus directory (overrides config)")
	index := fs.String("index", "", "Index directory (overrides config)")
	pattern := fs.String("pattern", "", "Comma-separated file patterns, e.g. *.pdf,*.txt")
	recursive := fs.Bool("recursive", false, "Descend into subdirectories")
	mirror := fs.Bool("qdrant", false, "Also mirror the index into the configured Qdrant collection")
	cfg, shutdown, err := setup(ctx, fs, args)
	if err != nil {
		return err
	}
	defer shutdown()

	if *corpus != "" {
		cfg.Corpus.Dir = *corpus
	}
	if *index != "" {
		cfg.Index.Dir = *index
	}
	if *pattern != "" {
		cfg.Corpus.Patterns = strings.Split(*pattern, ",")
	}
	if *recursive {
		cfg.Corpus.Recursive = true
	}

	ch, err := runtime.NewChunker(cfg)
	if err != nil {
		return err
	}
	emb, closer, err := runtime.NewEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}
	metrics, err := telemetry.InitMetrics()
	if err != nil {
		return err
	}

	opts := ingest.Options{
		CorpusDir:    cfg.Corpus.Dir,
		IndexDir:     cfg.Index.Dir,
		Patterns:     cfg.Corpus.Patterns,
		Recursive:    cfg.Corpus.Recursive,
		Metric:       vectorindex.Metric(cfg.Index.Metric),
		ChunkSize:    cfg.Chunker.Size,
		ChunkOverlap: cfg.Chunker.Overlap,
		BatchSize:    cfg.Embedder.BatchSize,
		Workers:      cfg.Embedder.Workers,
		Metrics:      metrics,
		Progress: func(done, total int) {
			fmt.Fprintf(os.Stderr, "\rembedded %d/%d", done, total)
			if done == total {
				fmt.Fprintln(os.Stderr)
			}
		},
	}
	if *mirror {
		if cfg.Index.Qdrant == nil || cfg.Index.Qdrant.URL == "" {
			return fmt.Errorf("--qdrant needs index.qdrant.url in the config")
		}
		opts.Mirror = runtime.NewQdrant(cfg)
	}

	report, err := ingest.Run(ctx, opts, ch, emb)
	if domain.IsIngestion(err) {
		// An empty or unreadable corpus is not fatal; the previous index stays.
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d fragments from %d documents with %s (dim %d) into %s in %s\n",
		report.Fragments, report.Documents, report.Model, report.Dimension, report.IndexDir, report.Elapsed.Round(time.Millisecond))
	return nil
}

func runAsk(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	sources := fs.Bool("sources", false, "Print the fragments the answer is based on")
	cfg, shutdown, err := setup(ctx, fs, args)
	if err != nil {
		return err
	}
	defer shutdown()
	question := strings.Join(fs.Args(), " ")
	cfg.ReturnSources = *sources

	return ask(ctx, cfg, question, os.Stdout, os.Stderr)
}

func ask(ctx context.Context, cfg *config.AppConfig, question string, stdout, stderr io.Writer) error {
	rt, err := runtime.Open(ctx, cfg)
	if err != nil {
		return reportFailure(stderr, err)
	}
	defer rt.Close()

	ans, err := rt.QA.Answer(ctx, question)
	if err != nil {
		return reportFailure(stderr, err)
	}
	fmt.Fprintln(stdout, qa.Describe(ans))
	return nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "Listen address (overrides config)")
	cfg, shutdown, err := setup(ctx, fs, args)
	if err != nil {
		return err
	}
	defer shutdown()
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	// Fail fast on a missing or incompatible index before accepting traffic.
	rt, err := runtime.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := server.New(rt.QA, cfg.Server, cfg.Telemetry.ServiceName)
	if err := srv.Run(ctx); err != nil {
		return err
	}
	logger.Info("Server exited")
	return nil
}

func runChat(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	cfg, shutdown, err := setup(ctx, fs, args)
	if err != nil {
		return err
	}
	defer shutdown()

	// The index opens on the first question so that a missing knowledge base
	// is reported in the chat instead of aborting it.
	lazy := runtime.NewLazy(cfg)
	defer lazy.Close()

	header := fmt.Sprintf("embedder=%s generator=%s index=%s", cfg.Embedder.Type, cfg.Generator.Type, cfg.Index.Dir)
	m := tui.New(lazy, header)
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
