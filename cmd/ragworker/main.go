// Command ragworker runs the document ingestion worker: it polls for
// documents whose ingestion has not completed and processes each one through
// the chunk-embed-persist pipeline. With -search it instead runs a single
// retrieval query and prints the results, which is handy for smoke-testing a
// deployment.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mediboard/rag/internal/config"
	"github.com/mediboard/rag/internal/embedder"
	"github.com/mediboard/rag/internal/ingestion"
	"github.com/mediboard/rag/internal/keypool"
	"github.com/mediboard/rag/internal/llm"
	"github.com/mediboard/rag/internal/repository"
	"github.com/mediboard/rag/internal/repository/postgres"
	"github.com/mediboard/rag/internal/reranker"
	"github.com/mediboard/rag/internal/retrieval"
	"github.com/mediboard/rag/internal/vectorstore"
)

func main() {
	searchQuery := flag.String("search", "", "run one retrieval query and exit")
	searchCategories := flag.String("categories", "", "comma-separated category filter for -search")
	flag.Parse()

	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(*searchQuery, *searchCategories); err != nil {
		slog.Error("failed to run worker", "error", err)
		os.Exit(1)
	}
}

func run(searchQuery, searchCategories string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting ingestion worker",
		"environment", cfg.Environment,
		"embedding_provider", cfg.EmbeddingProvider,
	)

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	documentRepo := postgres.NewDocumentRepo(db)
	chunkRepo := postgres.NewChunkRepo(db)

	vectorStore, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL, cfg.QdrantCollection)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer vectorStore.Close()
	if err := vectorStore.EnsureCollection(ctx, cfg.EmbeddingDimension); err != nil {
		return fmt.Errorf("failed to ensure Qdrant collection: %w", err)
	}
	slog.Info("connected to Qdrant", "collection", cfg.QdrantCollection)

	embed, err := buildEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("failed to build embedder: %w", err)
	}
	slog.Info("initialized embedder", "model", embed.ModelName(), "dimension", embed.Dimension())

	var rr reranker.Reranker
	if cfg.RerankerEnabled {
		llmClient := llm.NewOllamaClient(
			llm.WithBaseURL(cfg.OllamaURL),
			llm.WithModel(cfg.OllamaLLMModel),
		)
		rr = reranker.NewLLMReranker(llmClient, reranker.WithModel(cfg.OllamaLLMModel))
		slog.Info("reranking enabled", "model", cfg.OllamaLLMModel)
	}

	if searchQuery != "" {
		engine := retrieval.NewEngine(embed, vectorStore, chunkRepo, rr, slog.Default())
		return runSearch(ctx, engine, searchQuery, searchCategories)
	}

	ingestor := ingestion.NewIngestor(documentRepo, chunkRepo, embed, vectorStore, slog.Default(),
		ingestion.WithParentMaxLen(cfg.ParentMaxLen),
		ingestion.WithChildChunkSize(cfg.ChildChunkSize),
	)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		s := <-sig
		slog.Info("shutting down", "signal", s.String())
		cancel()
	}()

	return pollLoop(ctx, documentRepo, ingestor, cfg.PollInterval, cfg.PollBatchSize)
}

func buildEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	switch cfg.EmbeddingProvider {
	case "openai":
		keys, err := keypool.New(cfg.OpenAIAPIKeys)
		if err != nil {
			return nil, err
		}
		return embedder.NewOpenAIEmbedder(embedder.OpenAIConfig{
			Keys:      keys,
			Model:     cfg.OpenAIModel,
			Dimension: cfg.EmbeddingDimension,
		})
	default:
		return embedder.NewOllamaEmbedder(embedder.OllamaConfig{
			BaseURL:   cfg.OllamaURL,
			Model:     cfg.OllamaEmbeddingModel,
			Dimension: cfg.EmbeddingDimension,
		}), nil
	}
}

// pollLoop scans for pending documents and launches ingestion for each. Runs
// are detached: completion is observed through the document's ingest status,
// and an in-flight set keeps a slow document from being launched twice.
func pollLoop(ctx context.Context, docs repository.DocumentRepository, ingestor *ingestion.Ingestor, interval time.Duration, batchSize int) error {
	var mu sync.Mutex
	inFlight := make(map[uuid.UUID]struct{})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		pending, err := docs.ListPending(ctx, batchSize)
		if err != nil {
			slog.Error("listing pending documents failed", "error", err)
			continue
		}

		for _, doc := range pending {
			mu.Lock()
			if _, busy := inFlight[doc.ID]; busy {
				mu.Unlock()
				continue
			}
			inFlight[doc.ID] = struct{}{}
			mu.Unlock()

			go func(doc *repository.Document) {
				defer func() {
					mu.Lock()
					delete(inFlight, doc.ID)
					mu.Unlock()
				}()

				scope := ingestion.Scope{
					Category:  vectorstore.Category(doc.Category),
					PatientID: doc.PatientID,
				}
				if err := ingestor.Ingest(ctx, doc.ID, scope); err != nil {
					slog.Error("document ingestion failed", "document_id", doc.ID, "error", err)
				}
			}(doc)
		}
	}
}

func runSearch(ctx context.Context, engine *retrieval.Engine, query, categories string) error {
	var cats []vectorstore.Category
	for _, c := range strings.Split(categories, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cats = append(cats, vectorstore.Category(c))
		}
	}

	results := engine.Search(ctx, query, 0, cats)
	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
