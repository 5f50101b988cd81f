package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"practice-pipeline/internal/config"
	"practice-pipeline/internal/infra/db/migrations"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: migrate [-config path] up|down|status")
		flag.PrintDefaults()
	}
	flag.Parse()
	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cfg, err := config.LoadConfig(ctx, *cfgPath, false)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	db, err := migrations.Open(cfg.Database.URL)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer db.Close()

	switch cmd {
	case "up":
		err = migrations.Up(ctx, db)
	case "down":
		err = migrations.Down(ctx, db)
	case "status":
		err = migrations.Status(ctx, db)
	default:
		flag.Usage()
		log.Fatalf("unknown command %q", cmd)
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", cmd, err)
	}
	log.Printf("migrate %s: done", cmd)
}
