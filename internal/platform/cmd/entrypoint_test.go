package cmd

import (
	"context"
	"errors"
	"flag"
	"testing"
)

type entrypointConfig struct {
	Archive string `env:"TAPEDECK_TEST_ARCHIVE" envDefault:"record.db"`
}

func TestParseConfigLoadsEnvDefaults(t *testing.T) {
	var cfg entrypointConfig
	if err := ParseConfig(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Archive != "record.db" {
		t.Fatalf("expected default archive, got %q", cfg.Archive)
	}
}

func TestParseConfigRejectsNil(t *testing.T) {
	if err := ParseConfig[entrypointConfig](nil); err == nil {
		t.Fatal("expected error for nil config target")
	}
}

func TestParseArgsRejectsNilFlagSet(t *testing.T) {
	if err := ParseArgs(nil, nil); err == nil {
		t.Fatal("expected error for nil flag set")
	}
}

func TestParseArgsParsesFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	verbose := fs.Bool("verbose", false, "")
	if err := ParseArgs(fs, []string{"-verbose"}); err != nil {
		t.Fatalf("parse args: %v", err)
	}
	if !*verbose {
		t.Fatal("expected verbose flag to parse")
	}
}

func TestRunWithTelemetryRequiresService(t *testing.T) {
	err := RunWithTelemetry(context.Background(), "  ", func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error for blank service name")
	}
}

func TestRunWithTelemetryRequiresRun(t *testing.T) {
	if err := RunWithTelemetry(context.Background(), ServiceLogInfo, nil); err == nil {
		t.Fatal("expected error for nil run function")
	}
}

func TestRunWithTelemetryPropagatesRunError(t *testing.T) {
	t.Setenv("TAPEDECK_OTEL_ENDPOINT", "")

	wantErr := errors.New("boom")
	err := RunWithTelemetry(context.Background(), ServiceClip, func(context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected run error, got %v", err)
	}
}
