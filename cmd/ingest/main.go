package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cropsense/internal/chunking"
	"cropsense/internal/config"
	"cropsense/internal/embedding"
	"cropsense/internal/ingest"
	"cropsense/internal/providers"
	"cropsense/internal/storage"
)

var (
	flagPDF     string
	flagDir     string
	flagID      string
	flagName    string
	flagDocType string
	flagCrop    string
	flagRegion  string
)

var rootCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load agricultural PDFs into the retrieval store",
	Long: `Extracts text from PDF documents, chunks it, embeds each chunk, and
stores the vectors in Postgres. Runs the pipeline directly, without the
Temporal worker, which is handy for local corpus loads and testing.`,
	RunE: runIngest,
}

func init() {
	rootCmd.Flags().StringVar(&flagPDF, "pdf", "", "Path to a single PDF file")
	rootCmd.Flags().StringVar(&flagDir, "dir", "", "Directory of PDF files to ingest")
	rootCmd.Flags().StringVar(&flagID, "id", "", "Document id (defaults to the file's content hash)")
	rootCmd.Flags().StringVar(&flagName, "name", "", "Human-readable document name")
	rootCmd.Flags().StringVar(&flagDocType, "type", "", "Document type, e.g. guide or report")
	rootCmd.Flags().StringVar(&flagCrop, "crop", "", "Crop this document covers")
	rootCmd.Flags().StringVar(&flagRegion, "region", "", "Region this document covers")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	if flagPDF == "" && flagDir == "" {
		return fmt.Errorf("either --pdf or --dir is required")
	}

	_ = godotenv.Load(".env")
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	cancel()
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	provider, err := providers.BuildEmbeddingProvider(cfg.EmbedProvider, cfg.EmbedDim)
	if err != nil {
		return err
	}
	chunker, err := chunking.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return err
	}
	embedClient := embedding.NewClient(provider, cfg.EmbedDim,
		embedding.RetryPolicy{MaxAttempts: cfg.EmbedMaxAttempts, BaseDelay: time.Second}, logger)
	ingestor := ingest.NewIngestor(chunker, embedClient,
		storage.NewChunkStore(db, cfg.CommitBatchSize, cfg.CandidateLimit),
		storage.NewStatusStore(db), cfg.EmbedBatchSize, logger)

	tags := map[string]string{}
	if flagCrop != "" {
		tags["crop"] = flagCrop
	}
	if flagRegion != "" {
		tags["region"] = flagRegion
	}
	if len(tags) == 0 {
		tags = nil
	}

	if flagPDF != "" {
		stats, err := ingestor.IngestDocument(cmd.Context(), ingest.Document{
			Path:         flagPDF,
			DocumentID:   flagID,
			Name:         flagName,
			DocumentType: flagDocType,
			Tags:         tags,
		})
		if err != nil {
			return err
		}
		fmt.Printf("ingested %s: %d pages, %d chunks stored in %.1fs\n",
			stats.DocumentID, stats.Pages, stats.StoredChunks, stats.DurationSeconds)
		return nil
	}

	entries, err := os.ReadDir(flagDir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	docs := make([]ingest.Document, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !hasPDFSuffix(e.Name()) {
			continue
		}
		docs = append(docs, ingest.Document{
			Path:         flagDir + "/" + e.Name(),
			Name:         e.Name(),
			DocumentType: flagDocType,
			Tags:         tags,
		})
	}
	if len(docs) == 0 {
		return fmt.Errorf("no PDF files found in %s", flagDir)
	}

	results := ingestor.IngestBatch(cmd.Context(), docs)
	stored, failed := 0, 0
	for _, r := range results {
		stored += r.StoredChunks
		failed += r.FailedChunks
	}
	fmt.Printf("ingested %d documents: %d chunks stored, %d failed\n", len(results), stored, failed)
	return nil
}

func hasPDFSuffix(name string) bool {
	if len(name) < 4 {
		return false
	}
	ext := name[len(name)-4:]
	return ext == ".pdf" || ext == ".PDF"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
