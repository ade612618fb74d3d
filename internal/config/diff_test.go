package config_test

import (
	"testing"
	"time"

	"github.com/avennor/sonalign/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Eval:   config.EvalConfig{TopErrors: 3},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.EvalChanged {
		t.Error("expected EvalChanged=false for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_EvalChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Eval: config.EvalConfig{FeedbackTimeout: 30 * time.Second, TopErrors: 3},
	}
	new := &config.Config{
		Eval: config.EvalConfig{FeedbackTimeout: 10 * time.Second, TopErrors: 5},
	}

	d := config.Diff(old, new)
	if !d.EvalChanged {
		t.Error("expected EvalChanged=true")
	}
	if d.NewEval.TopErrors != 5 {
		t.Errorf("expected NewEval.TopErrors=5, got %d", d.NewEval.TopErrors)
	}
	if d.NewEval.FeedbackTimeout != 10*time.Second {
		t.Errorf("expected NewEval.FeedbackTimeout=10s, got %s", d.NewEval.FeedbackTimeout)
	}
}

func TestDiff_ProviderChangeIgnored(t *testing.T) {
	t.Parallel()
	// Provider swaps require a restart, so Diff must not report them.
	old := &config.Config{
		Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "openai"}},
	}
	new := &config.Config{
		Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "ollama"}},
	}

	d := config.Diff(old, new)
	if d.LogLevelChanged || d.EvalChanged {
		t.Error("provider-only change should not set any hot-reload flags")
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Eval:   config.EvalConfig{TopErrors: 3},
	}
	new := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogWarn},
		Eval:   config.EvalConfig{TopErrors: 1},
	}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.EvalChanged {
		t.Error("expected EvalChanged=true")
	}
}
