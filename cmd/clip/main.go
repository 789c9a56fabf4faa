// Package main copies a time window and topic selection between archives.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	clipcmd "github.com/louisbranch/tapedeck/internal/cmd/clip"
)

func main() {
	cfg, err := clipcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[CLIP] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := clipcmd.Run(ctx, cfg, os.Stdout); err != nil {
		log.Fatalf("clip: %v", err)
	}
}
