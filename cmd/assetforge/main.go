// assetforge runs one asset plan through parsing, generation, and (by
// default) automatic approval, writing approved assets to a local
// directory. Use the API server for interactive human review.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"assetforge/internal/activity"
	"assetforge/internal/genclient"
	"assetforge/internal/persist"
	"assetforge/internal/planparse"
	"assetforge/internal/prompt"
	"assetforge/internal/queue"
)

func main() {
	plan := flag.String("plan", "", "path to the markdown asset plan")
	project := flag.String("project", "demo", "project id used to derive asset ids")
	mode := flag.String("mode", "composite", "parse mode: composite or granular")
	outDir := flag.String("out", "out", "directory for approved assets")
	concurrency := flag.Int("concurrency", 2, "max in-flight generation calls")
	offline := flag.Bool("offline", false, "use the fake generation client (no API key needed)")
	autoApprove := flag.Bool("auto-approve", true, "approve every generated asset without review")
	artStyle := flag.String("style", "pixel art", "art style appended to every prompt")
	model := flag.String("model", "imagen-3.0-generate-002", "image model id")
	flag.Parse()
	if *plan == "" {
		log.Fatal("--plan is required")
	}

	_ = godotenv.Load()

	markdown, err := os.ReadFile(*plan)
	if err != nil {
		log.Fatal(err)
	}
	specs := planparse.Parse(string(markdown), planparse.Options{
		Mode:      planparse.Mode(*mode),
		ProjectID: *project,
	})
	if len(specs) == 0 {
		log.Fatal("plan contains no assets")
	}
	log.Printf("parsed %d assets from %s", len(specs), *plan)

	ctx := context.Background()
	client := buildClient(ctx, *offline, *model)
	defer client.Close()

	persister, err := persist.NewFileStore(*outDir)
	if err != nil {
		log.Fatal(err)
	}

	logStream := activity.NewLog()
	sub := logStream.Subscribe(128)
	go func() {
		for e := range sub {
			log.Printf("[%s] %s", e.Level, e.Message)
		}
	}()

	orch := queue.New(queue.NewStore(specs), prompt.NewTemplateBuilder(), client, persister, logStream, queue.Config{
		BatchID:       *project,
		MaxConcurrent: *concurrency,
		CallTimeout:   2 * time.Minute,
		Style:         prompt.StyleContext{ArtStyle: *artStyle},
	})
	if err := orch.Start(ctx); err != nil {
		log.Fatal(err)
	}

	if *autoApprove {
		go approveLoop(ctx, orch)
	}

	<-orch.Done()
	logStream.Unsubscribe(sub)

	archive := persist.NewArchiveFromEnv("archive.json")
	defer archive.Close()
	if err := archive.SaveBatch(ctx, orch.BatchID(), persist.Outcomes(orch.BatchID(), orch.Items())); err != nil {
		log.Printf("archive batch: %v", err)
	}

	p := orch.Progress()
	log.Printf("done: %d/%d generated, %d failed", p.Completed, p.Total, p.Failed)
	if p.Failed > 0 {
		os.Exit(1)
	}
}

// approveLoop stands in for the human review gate: it approves every
// item the moment it reaches awaiting_approval.
func approveLoop(ctx context.Context, orch *queue.Orchestrator) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-orch.Done():
			return
		case <-ticker.C:
			for _, it := range orch.Items() {
				if it.State.Phase() == queue.PhaseAwaitingApproval {
					if err := orch.Approve(ctx, it.Asset.ID); err != nil {
						log.Printf("approve %s: %v", it.Asset.ID, err)
					}
				}
			}
		}
	}
}

func buildClient(ctx context.Context, offline bool, model string) genclient.Client {
	if offline {
		return genclient.NewFakeClient()
	}
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		log.Fatal("GEMINI_API_KEY is not set (use --offline to run without it)")
	}
	cli, err := genclient.NewGeminiClient(ctx, apiKey, model, 0.03)
	if err != nil {
		log.Fatal(err)
	}
	return cli
}
