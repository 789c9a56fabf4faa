// Package loginfo implements the archive inspection command: it summarizes a
// single archive or lists the recordings registered in a catalog.
package loginfo

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/louisbranch/tapedeck/internal/archive"
	"github.com/louisbranch/tapedeck/internal/catalog"
	"github.com/louisbranch/tapedeck/internal/platform/cmd"
)

// Config holds loginfo command configuration.
type Config struct {
	// Catalog is the path to the recording catalog database.
	Catalog string `env:"TAPEDECK_CATALOG"`
	// Locator addresses the archive to summarize.
	Locator string
	// List prints the catalog's registered recordings instead of an
	// archive summary.
	List bool
}

// ParseConfig parses environment defaults and flags into a Config. The first
// positional argument is the archive locator.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := cmd.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.Catalog, "catalog", cfg.Catalog, "path to the recording catalog")
	fs.BoolVar(&cfg.List, "list", false, "list catalog recordings instead of summarizing an archive")
	if err := cmd.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.Locator = fs.Arg(0)

	if cfg.List {
		if cfg.Catalog == "" {
			return Config{}, errors.New("-list requires a catalog path")
		}
		return cfg, nil
	}
	if cfg.Locator == "" {
		return Config{}, errors.New("archive locator is required")
	}
	return cfg, nil
}

// Run executes the loginfo command.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	return cmd.RunWithTelemetry(ctx, cmd.ServiceLogInfo, func(ctx context.Context) error {
		if cfg.List {
			return listCatalog(cfg.Catalog, out)
		}
		return summarize(ctx, cfg.Locator, out)
	})
}

func summarize(ctx context.Context, locator string, out io.Writer) error {
	a, err := archive.Open(locator)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer a.Close()

	sum, err := a.Summarize(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Archive: %s\n", locator)
	fmt.Fprintf(out, "Messages: %d\n", sum.Messages)
	if sum.Messages > 0 {
		fmt.Fprintf(out, "Range: %s - %s (%s)\n",
			sum.Start.Format(time.RFC3339Nano),
			sum.End.Format(time.RFC3339Nano),
			sum.End.Sub(sum.Start))
	}
	fmt.Fprintf(out, "Topics: %d\n", len(sum.Topics))
	for _, topic := range sum.Topics {
		fmt.Fprintf(out, "  %s [%s]: %d\n", topic.Name, topic.Type, topic.Messages)
	}
	return nil
}

func listCatalog(path string, out io.Writer) error {
	store, err := catalog.Open(path)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer store.Close()

	recs, err := store.List()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Recordings: %d\n", len(recs))
	for _, rec := range recs {
		fmt.Fprintf(out, "  %s: %d messages, %d topics, %s - %s\n",
			rec.Locator, rec.Messages, len(rec.Topics),
			rec.Started.Format(time.RFC3339),
			rec.Ended.Format(time.RFC3339))
	}
	return nil
}
