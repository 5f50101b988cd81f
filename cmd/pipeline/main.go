// Command pipeline is the operator CLI: it inspects and retries queue jobs,
// re-requests analysis for an attempt and mints API tokens.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"practice-pipeline/internal/config"
	"practice-pipeline/internal/domain/model"
	pg "practice-pipeline/internal/infra/db/postgres"
	"practice-pipeline/internal/infra/logging"
	"practice-pipeline/internal/infra/queue"
	red "practice-pipeline/internal/infra/redis"
	"practice-pipeline/internal/infra/web"
	"practice-pipeline/internal/usecase"
)

const usage = `usage: pipeline [-config path] <command> [flags]

commands:
  stats                          queue depths for every queue
  failed   -queue q [-limit n]   list failed jobs
  retry    -queue q -id job      redeliver a failed job
  reanalyze -attempt id          request analysis for an attempt again
  token    [-user id] [-role r]  mint a bearer token for the HTTP API
`

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg, err := config.LoadConfig(ctx, *cfgPath, false)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "token":
		err = runToken(cfg, args)
	case "stats", "failed", "retry":
		err = runQueue(ctx, cfg, cmd, args)
	case "reanalyze":
		err = runReanalyze(ctx, cfg, args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	user := fs.String("user", "", "user uuid (random when empty)")
	role := fs.String("role", web.RoleUser, "user | admin")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	email := fs.String("email", "", "optional email claim")
	_ = fs.Parse(args)

	if *role != web.RoleUser && *role != web.RoleAdmin {
		return fmt.Errorf("unknown role %q", *role)
	}
	if *user == "" {
		*user = uuid.NewString()
	} else if _, err := uuid.Parse(*user); err != nil {
		return fmt.Errorf("user must be a uuid: %w", err)
	}
	tok, err := web.NewAuthManager(cfg.HTTP.JWTSecret, *ttl).Mint(*user, *role, *email, "")
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"user_id": *user, "role": *role, "token": tok})
}

func openQueue(ctx context.Context, cfg *config.Config) (*queue.Queue, func(), error) {
	rc, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	logger := logging.New(cfg.Log, false)
	q := queue.New(queue.NewRedisBroker(rc.Raw(), cfg.Redis.Prefix, cfg.Queue.Lease), logger)
	return q, func() { _ = q.Close(); _ = rc.Close() }, nil
}

func runQueue(ctx context.Context, cfg *config.Config, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	name := fs.String("queue", "", "ocr-run | ai-analyze | image-generate")
	id := fs.String("id", "", "job id")
	limit := fs.Int("limit", 20, "max jobs to list")
	_ = fs.Parse(args)

	q, closeFn, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	if cmd == "stats" {
		out := make([]model.QueueStats, 0, len(model.Queues))
		for _, n := range model.Queues {
			st, err := q.Stats(ctx, n)
			if err != nil {
				return err
			}
			out = append(out, st)
		}
		return printJSON(out)
	}

	qn := model.QueueName(*name)
	known := false
	for _, n := range model.Queues {
		known = known || n == qn
	}
	if !known {
		return fmt.Errorf("unknown queue %q", *name)
	}
	if cmd == "failed" {
		jobs, err := q.Failed(ctx, qn, *limit)
		if err != nil {
			return err
		}
		return printJSON(jobs)
	}
	if *id == "" {
		return fmt.Errorf("-id is required")
	}
	if err := q.Retry(ctx, qn, *id); err != nil {
		return err
	}
	fmt.Printf("job %s redelivered on %s\n", *id, qn)
	return nil
}

func runReanalyze(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("reanalyze", flag.ExitOnError)
	attemptID := fs.String("attempt", "", "attempt id")
	_ = fs.Parse(args)
	if *attemptID == "" {
		return fmt.Errorf("-attempt is required")
	}

	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	rc, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer rc.Close()

	logger := logging.New(cfg.Log, false)
	images := pg.NewImageRepo(pool)
	users := pg.NewUserRepo(pool)
	tm := pg.NewTxManager(pool)
	q := queue.New(queue.NewRedisBroker(rc.Raw(), cfg.Redis.Prefix, cfg.Queue.Lease), logger)
	uc := usecase.NewAttemptUseCase(pg.NewAttemptRepo(pool, tm, images, users), images, users, tm, q,
		red.NewLocker(rc), cfg.Pipeline.DedupTTL, cfg.Pipeline.PollingWindow, logger)

	enqueued, err := uc.RequestAnalysis(ctx, *attemptID, 0)
	if err != nil {
		return err
	}
	if !enqueued {
		fmt.Printf("analysis for %s is already pending\n", *attemptID)
		return nil
	}
	fmt.Printf("analysis for %s enqueued\n", *attemptID)
	return nil
}
