// Docsearchd is a per-document semantic search tool.
//
// It splits a document into overlapping chunks, embeds them through an
// OpenAI-compatible endpoint, and persists one exact nearest-neighbor index
// per document under a local storage root. Queries embed the question and
// return the closest chunks of one document.
//
// Usage:
//
//	# Index a file (the document id is derived from the filename)
//	docsearchd ingest report.txt
//
//	# Query it
//	docsearchd query report "what were the quarterly results"
//
//	# Manage indices
//	docsearchd list
//	docsearchd info report
//	docsearchd delete report
//
// Configuration is read from ~/.config/docsearchd/config.yaml and overridden
// by DOCSEARCHD_* environment variables.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docsearchd/internal/chunker"
	"github.com/fyrsmithlabs/docsearchd/internal/config"
	"github.com/fyrsmithlabs/docsearchd/internal/embeddings"
	"github.com/fyrsmithlabs/docsearchd/internal/logging"
	"github.com/fyrsmithlabs/docsearchd/internal/search"
	"github.com/fyrsmithlabs/docsearchd/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	offline    bool
	jsonOutput bool

	ingestID  string
	queryTopK int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "docsearchd",
	Short: "Per-document semantic search over local indices",
	Long: `docsearchd indexes documents for semantic search: each document is
chunked, embedded, and stored as an independent vector index on disk.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/docsearchd/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "use the deterministic fixture embedder instead of the configured provider")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON")

	ingestCmd.Flags().StringVar(&ingestID, "id", "", "document id (default: derived from the filename)")
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "number of results (default from config)")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.SetVersionTemplate("docsearchd {{.Version}}\n")
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Index a document for semantic search",
	Long: `Index a document: split it into overlapping chunks, embed each chunk,
and persist a vector index. Re-ingesting under the same id replaces the
previous index.

Examples:
  # Index a file; the id is derived from the filename
  docsearchd ingest "Annual Report 2024.txt"

  # Index stdin under an explicit id
  cat notes.md | docsearchd ingest --id notes -`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var queryCmd = &cobra.Command{
	Use:   "query <doc-id> <text>",
	Short: "Search one document for the chunks closest to a query",
	Long: `Embed the query text and return the top-k most similar chunks of the
selected document, most similar first. Scores are distances: lower is
more similar.

Examples:
  docsearchd query annual_report_2024 "how did revenue develop"
  docsearchd query notes "open questions" --top-k 3`,
	Args: cobra.ExactArgs(2),
	RunE: runQuery,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed documents",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var infoCmd = &cobra.Command{
	Use:   "info <doc-id>",
	Short: "Show details of one indexed document",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <doc-id>",
	Short: "Delete a document's index",
	Long:  `Delete a document's index from memory and disk. Deleting an absent document is not an error.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("docsearchd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

// app bundles the wired application for one command invocation.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	provider embeddings.Provider
	service  *search.Service
}

// Close releases resources in reverse initialization order.
func (a *app) Close() {
	if a.provider != nil {
		_ = a.provider.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// initApp loads configuration and wires logger, embedder, store, and service.
func initApp() (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: true,
		Fields: map[string]string{"service": "docsearchd"},
	})
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	embCfg := cfg.Embeddings
	if offline {
		embCfg.Provider = "fixture"
	}
	provider, err := embeddings.NewProvider(embCfg, logger)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("initializing embedding provider: %w", err)
	}

	metric, err := vectorstore.ParseMetric(cfg.Search.Metric)
	if err != nil {
		provider.Close()
		logger.Sync()
		return nil, err
	}

	splitter, err := chunker.New(chunker.Config{
		ChunkSize: cfg.Chunking.ChunkSize,
		Overlap:   cfg.Chunking.Overlap,
	})
	if err != nil {
		provider.Close()
		logger.Sync()
		return nil, fmt.Errorf("initializing chunker: %w", err)
	}

	store, err := vectorstore.NewStore(vectorstore.Config{
		Path:      cfg.Storage.Path,
		CacheSize: cfg.Search.CacheSize,
		Metric:    metric,
	}, splitter, provider, logger)
	if err != nil {
		provider.Close()
		logger.Sync()
		return nil, fmt.Errorf("initializing vector store: %w", err)
	}

	service, err := search.NewService(store, provider, logger, search.WithTopK(cfg.Search.TopK))
	if err != nil {
		provider.Close()
		logger.Sync()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, provider: provider, service: service}, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, err := initApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	source := args[0]
	var text []byte
	if source == "-" {
		if ingestID == "" {
			return errors.New("--id is required when reading from stdin")
		}
		text, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		source = ""
	} else {
		text, err = os.ReadFile(source)
		if err != nil {
			return fmt.Errorf("reading %s: %w", source, err)
		}
	}

	summary, err := a.service.Ingest(ctx, search.IngestRequest{
		DocumentID: ingestID,
		Source:     source,
		Text:       string(text),
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(summary)
	}
	fmt.Printf("Indexed %s: %d chunks, dimension %d, metric %s, model %s\n",
		summary.DocumentID, summary.ChunkCount, summary.Dimension, summary.Metric, summary.Model)
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	a, err := initApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	results, err := a.service.Query(ctx, search.QueryRequest{
		DocumentID: args[0],
		Text:       args[1],
		TopK:       queryTopK,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(results)
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%d. [chunk %d, score %.4f]\n%s\n\n", i+1, r.Ordinal, r.Score, r.Text)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := initApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	ids, err := a.service.List(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(ids)
	}
	if len(ids) == 0 {
		fmt.Println("No documents indexed.")
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	a, err := initApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	info, err := a.service.Info(ctx, args[0])
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(info)
	}
	fmt.Printf("Document:   %s\n", info.DocumentID)
	fmt.Printf("Chunks:     %d\n", info.ChunkCount)
	fmt.Printf("Dimension:  %d\n", info.Dimension)
	fmt.Printf("Metric:     %s\n", info.Metric)
	fmt.Printf("Model:      %s\n", info.Model)
	fmt.Printf("Created:    %s\n", info.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := initApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	existed, err := a.service.Remove(ctx, args[0])
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(map[string]bool{"deleted": existed})
	}
	if existed {
		fmt.Printf("Deleted %s\n", args[0])
	} else {
		fmt.Printf("No index for %s\n", args[0])
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
