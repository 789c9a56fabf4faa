// Package clip implements the archive export command: it copies a time
// window and topic selection from a source archive into a new one.
package clip

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
	"github.com/louisbranch/tapedeck/internal/topics"
)

// Config holds clip command configuration.
type Config struct {
	// Catalog is the path to the recording catalog database. When set, the
	// clipped archive is registered there.
	Catalog string `env:"TAPEDECK_CATALOG"`
	// Source and Dest address the input and output archives.
	Source string
	Dest   string
	// Topics are exact topic names to include; Pattern includes every
	// source topic matching the expression. Empty selection copies all.
	Topics  multiFlag
	Pattern string
	// From and Until bound the copied capture-time window. Until is
	// exclusive; zero values leave the window open on that side.
	From  time.Time
	Until time.Time
}

// multiFlag collects a repeatable string flag.
type multiFlag []string

func (m *multiFlag) String() string { return fmt.Sprint([]string(*m)) }

func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

// ParseConfig parses environment defaults and flags into a Config. The two
// positional arguments are the source and destination locators.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := cmd.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	var from, until string
	fs.StringVar(&cfg.Catalog, "catalog", cfg.Catalog, "register the clip in this recording catalog")
	fs.Var(&cfg.Topics, "topic", "topic to include (repeatable)")
	fs.StringVar(&cfg.Pattern, "pattern", "", "include source topics matching this expression")
	fs.StringVar(&from, "from", "", "start of the capture window (RFC 3339)")
	fs.StringVar(&until, "until", "", "end of the capture window, exclusive (RFC 3339)")
	if err := cmd.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}

	cfg.Source = fs.Arg(0)
	cfg.Dest = fs.Arg(1)
	if cfg.Source == "" || cfg.Dest == "" {
		return Config{}, errors.New("source and destination locators are required")
	}
	if cfg.Source == cfg.Dest {
		return Config{}, errors.New("source and destination must differ")
	}

	var err error
	if cfg.From, err = parseInstant(from); err != nil {
		return Config{}, fmt.Errorf("invalid -from: %w", err)
	}
	if cfg.Until, err = parseInstant(until); err != nil {
		return Config{}, fmt.Errorf("invalid -until: %w", err)
	}
	if !cfg.From.IsZero() && !cfg.Until.IsZero() && !cfg.Until.After(cfg.From) {
		return Config{}, errors.New("-until must be after -from")
	}
	return cfg, nil
}

func parseInstant(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}

// Run executes the clip command and reports how many records were copied.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	return cmd.RunWithTelemetry(ctx, cmd.ServiceClip, func(ctx context.Context) error {
		copied, topicSet, err := clip(ctx, cfg)
		if err != nil {
			return err
		}

		if cfg.Catalog != "" {
			if err := register(cfg, copied, topicSet); err != nil {
				return err
			}
		}

		fmt.Fprintf(out, "Copied %d records to %s\n", copied, cfg.Dest)
		return nil
	})
}

func clip(ctx context.Context, cfg Config) (int64, []string, error) {
	src, err := archive.Open(cfg.Source)
	if err != nil {
		return 0, nil, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	topicSet, err := resolveTopics(ctx, src, cfg)
	if err != nil {
		return 0, nil, err
	}
	if len(topicSet) == 0 {
		return 0, nil, errors.New("no source topics match the selection")
	}

	dst, err := archive.Open(cfg.Dest)
	if err != nil {
		return 0, nil, fmt.Errorf("open destination: %w", err)
	}
	defer dst.Close()

	var copied int64
	it := src.Iterate(ctx, topicSet, cfg.From)
	defer it.Close()
	for it.Next() {
		rec := it.Record()
		if !cfg.Until.IsZero() && !rec.CaptureTime.Before(cfg.Until) {
			break
		}
		if err := dst.Append(ctx, rec); err != nil {
			return copied, nil, fmt.Errorf("append: %w", err)
		}
		copied++
	}
	if err := it.Err(); err != nil {
		return copied, nil, err
	}
	return copied, topicSet, nil
}

// resolveTopics applies the include flags against the source archive's topic
// index. An empty selection resolves to every source topic.
func resolveTopics(ctx context.Context, src *archive.Archive, cfg Config) ([]string, error) {
	known, err := src.KnownTopics(ctx)
	if err != nil {
		return nil, err
	}

	sel := topics.New()
	for _, name := range cfg.Topics {
		if !sel.Add(name, known) {
			return nil, fmt.Errorf("topic %q not present in source archive", name)
		}
	}
	if cfg.Pattern != "" {
		if _, err := sel.AddPattern(cfg.Pattern, known); err != nil {
			return nil, err
		}
	}
	return sel.Resolve(known), nil
}

func register(cfg Config, copied int64, topicSet []string) error {
	store, err := catalog.Open(cfg.Catalog)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer store.Close()

	rec := catalog.Recording{
		Locator:  cfg.Dest,
		Topics:   topicSet,
		Started:  cfg.From.UTC(),
		Ended:    time.Now().UTC(),
		Messages: copied,
	}
	if err := store.Put(rec); err != nil {
		return fmt.Errorf("register clip: %w", err)
	}
	return nil
}
