// Package main inspects message archives and recording catalogs.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	loginfocmd "github.com/louisbranch/tapedeck/internal/cmd/loginfo"
)

func main() {
	cfg, err := loginfocmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[LOGINFO] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := loginfocmd.Run(ctx, cfg, os.Stdout); err != nil {
		log.Fatalf("loginfo: %v", err)
	}
}
