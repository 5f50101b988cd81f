package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"practice-pipeline/internal/config"
	"practice-pipeline/internal/domain/model"
	"practice-pipeline/internal/infra/adapters/imagegen"
	pg "practice-pipeline/internal/infra/db/postgres"
	"practice-pipeline/internal/infra/logging"
	"practice-pipeline/internal/infra/queue"
	"practice-pipeline/internal/infra/storage"
	"practice-pipeline/internal/usecase"
)

// Used when no -dir is given so a fresh install has something to practise on.
var defaultThemes = []struct {
	Mode  model.Mode
	Theme string
}{
	{model.ModePPDT, "villagers gathered around a broken tractor"},
	{model.ModePPDT, "two hikers at a fork in a mountain trail"},
	{model.ModeTAT, "a young woman reading a letter by a window"},
	{model.ModeTAT, "an old man and a boy repairing a boat"},
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	dir := flag.String("dir", "", "directory with ppdt/ and tat/ subdirectories of stimulus images")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// ---- Config ----
	cfg, err := config.LoadConfig(ctx, *cfgPath, false)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.Log, false)

	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	store, err := storage.NewLocal(cfg.Storage)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	// Seeding never enqueues; the in-memory queue only satisfies the use case.
	images := usecase.NewImageUseCase(pg.NewImageRepo(pool), store,
		queue.New(queue.NewMemoryBroker(0), logger), logger)

	var seeded int
	if *dir == "" {
		for _, s := range defaultThemes {
			data, err := imagegen.DrawPlaceholder(imagegen.BuildPrompt(model.ImagePayload{Theme: s.Theme, Mode: s.Mode}))
			if err != nil {
				log.Fatalf("draw %q: %v", s.Theme, err)
			}
			img, err := images.ImportStimulus(ctx, data, "stimulus.png", s.Mode)
			if err != nil {
				log.Fatalf("import %q: %v", s.Theme, err)
			}
			fmt.Printf("seeded: %s %s (id=%s)\n", s.Mode, s.Theme, img.ID)
			seeded++
		}
	} else {
		for _, mode := range []model.Mode{model.ModePPDT, model.ModeTAT} {
			sub := filepath.Join(*dir, strings.ToLower(string(mode)))
			entries, err := os.ReadDir(sub)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				log.Fatalf("read %s: %v", sub, err)
			}
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				data, err := os.ReadFile(filepath.Join(sub, e.Name()))
				if err != nil {
					log.Fatalf("read %s: %v", e.Name(), err)
				}
				img, err := images.ImportStimulus(ctx, data, e.Name(), mode)
				if err != nil {
					log.Printf("skip %s: %v", e.Name(), err)
					continue
				}
				fmt.Printf("seeded: %s %s (id=%s, %dx%d)\n", mode, e.Name(), img.ID, img.Width, img.Height)
				seeded++
			}
		}
	}

	fmt.Printf("Seeding complete: %d stimuli.\n", seeded)
}
