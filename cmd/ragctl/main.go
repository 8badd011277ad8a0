// ragctl is a small host harness exercising the RAG memory engine end
// to end: add memories, retrieve, run a maintenance cycle, export/import
// an MNX snapshot.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/aurora-assistant/ragmemory/internal/blobstore/localblob"
	"github.com/aurora-assistant/ragmemory/internal/chunkmodel"
	"github.com/aurora-assistant/ragmemory/internal/consolidation"
	"github.com/aurora-assistant/ragmemory/internal/embedder"
	"github.com/aurora-assistant/ragmemory/internal/entity"
	"github.com/aurora-assistant/ragmemory/internal/ragstore"
	"github.com/aurora-assistant/ragmemory/internal/session"
	"github.com/aurora-assistant/ragmemory/internal/xlog"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		log.Println("Usage: ragctl <add|search|consolidate|export|import> [args]")
		return
	}

	dataDir := os.Getenv("RAGCTL_DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}
	passphrase := os.Getenv("RAGCTL_PASSPHRASE")
	if passphrase == "" {
		passphrase = "dev-only-passphrase"
	}
	store, err := localblob.New(dataDir, passphrase)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	logger := xlog.Build("info", "stdout")
	extract, err := entity.New()
	if err != nil {
		log.Fatalf("init entity extractor: %v", err)
	}

	cfg := ragstore.DefaultEngineConfig()
	cfg.Logger = logger
	engine := ragstore.New("ragctl-ai", store, embedder.NewHashEmbedder(), extract, cfg)

	ctx := context.Background()
	key := session.Key{AiID: "ragctl-ai", Channel: "cli", Scope: "local", Identifier: "default"}

	switch args[0] {
	case "add":
		addCmd := flag.NewFlagSet("add", flag.ExitOnError)
		content := addCmd.String("text", "", "memory content to ingest")
		addCmd.Parse(args[1:])
		if *content == "" {
			log.Fatal("add: -text is required")
		}
		id, err := engine.Ingest(ctx, key, *content, "memory", chunkmodel.SourceMemory, nil)
		if err != nil {
			log.Fatalf("ingest failed: %v", err)
		}
		fmt.Printf("added chunk %s\n", id)

	case "search":
		searchCmd := flag.NewFlagSet("search", flag.ExitOnError)
		query := searchCmd.String("q", "", "search query")
		strategy := searchCmd.String("strategy", "HYBRID", "retrieval strategy")
		topK := searchCmd.Int("k", 5, "number of results")
		searchCmd.Parse(args[1:])
		if *query == "" {
			log.Fatal("search: -q is required")
		}
		results := engine.Retrieve(ctx, key, *strategy, *query, *topK)
		for i, r := range results {
			fmt.Printf("%d. [%.3f] %s\n", i+1, r.Score, r.Chunk.Content)
		}

	case "consolidate":
		stats, compResult, optResult, err := engine.RunMaintenanceCycle(ctx, consolidation.Signals{Nighttime: true, Charging: true})
		if err != nil {
			log.Fatalf("maintenance cycle failed: %v", err)
		}
		fmt.Printf("consolidation: %+v\ncompaction: %+v\noptimizer: %+v\n", stats, compResult, optResult)

	case "export":
		exportCmd := flag.NewFlagSet("export", flag.ExitOnError)
		out := exportCmd.String("o", "export.mnx", "output file path")
		exportCmd.Parse(args[1:])
		data, err := engine.Export(ctx, 0, nil)
		if err != nil {
			log.Fatalf("export failed: %v", err)
		}
		if err := os.WriteFile(*out, data, 0o600); err != nil {
			log.Fatalf("write export file: %v", err)
		}
		fmt.Printf("exported %d bytes to %s\n", len(data), *out)

	case "import":
		importCmd := flag.NewFlagSet("import", flag.ExitOnError)
		in := importCmd.String("i", "export.mnx", "input file path")
		importCmd.Parse(args[1:])
		data, err := os.ReadFile(*in)
		if err != nil {
			log.Fatalf("read import file: %v", err)
		}
		if _, err := engine.Import(ctx, data); err != nil {
			log.Fatalf("import failed: %v", err)
		}
		fmt.Printf("imported %d chunks from %s\n", len(engine.Index.GetChunks()), *in)

	default:
		log.Fatalf("unknown command: %s", args[0])
	}
}
