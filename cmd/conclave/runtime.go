package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/conclave-ai/conclave/internal/agent"
	"github.com/conclave-ai/conclave/internal/agent/providers"
	"github.com/conclave-ai/conclave/internal/auth"
	"github.com/conclave-ai/conclave/internal/board"
	"github.com/conclave-ai/conclave/internal/config"
	ctxwindow "github.com/conclave-ai/conclave/internal/context"
	"github.com/conclave-ai/conclave/internal/models"
	"github.com/conclave-ai/conclave/internal/observability"
	"github.com/conclave-ai/conclave/internal/outbound"
	"github.com/conclave-ai/conclave/internal/sessions"
	"github.com/conclave-ai/conclave/internal/tasks"
	pkgmodels "github.com/conclave-ai/conclave/pkg/models"
)

// core bundles the wired embedded-agent run loop for a CLI invocation:
// provider, session store, runtime (with failover and compaction), auth
// profiles, board orchestrator, and task store.
type core struct {
	cfg       *config.Config
	logger    *observability.Logger
	slogger   *slog.Logger
	provider  agent.LLMProvider
	store     sessions.Store
	runtime   *agent.Runtime
	authStore *auth.ProfileStore
	stateDir  string
	board     *board.Orchestrator
	runner    board.AgentRunner
	taskStore tasks.Store
}

// buildCore wires the run loop from configuration. Every command that
// drives a turn goes through here so the CLI and the long-running serve
// path exercise the same stack.
func buildCore(cfg *config.Config) (*core, error) {
	obsLogger, slogger := newLogger(cfg)

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildSessionStore(cfg)
	if err != nil {
		return nil, err
	}

	runtime := agent.NewRuntime(provider, store)

	stateDir := stateDirFor(cfg)
	authStore, err := auth.LoadProfileStore(stateDir)
	if err != nil {
		return nil, fmt.Errorf("load auth profiles: %w", err)
	}
	seedProfiles(authStore, cfg)
	runtime.SetAuthStore(authStore)

	ctxwindow.SetGuardThresholds(cfg.LLM.ContextWindow.WarnBelowTokens, cfg.LLM.ContextWindow.HardMinTokens)

	policy := agent.FailoverPolicy{
		RateLimitWait:     cfg.LLM.RateLimitWait,
		ThinkingFallbacks: agent.DefaultThinkingFallbackChain(),
		ModelFallbacks:    modelFallbacks(cfg),
	}
	if policy.RateLimitWait == 0 {
		policy.RateLimitWait = 30 * time.Second
	}
	runtime.SetFailoverPolicy(policy)

	runtime.SetHistoryLimits(cfg.Session.HistoryTurnLimit, cfg.Session.HistoryTurnLimitByChannel, cfg.Session.CompactionReserveTurns)

	branches := sessions.NewMemoryBranchStore()
	compactor := sessions.NewCompactor(sessions.DefaultCompactionConfig(), store, &providerSummarizer{provider: provider})
	bridge := agent.NewCompactionBridge(store, branches, compactor)
	runtime.SetCompactionFunc(bridge.Compact)

	// Workspace IDENTITY.md fills identity gaps the YAML config leaves.
	if cfg.Workspace.Enabled && cfg.Identity.Name == "" && cfg.Identity.Creature == "" {
		if id, err := agent.LoadIdentityFromWorkspace(cfg.Workspace.Path); err == nil && id != nil {
			cfg.Identity.Name = id.Name
			cfg.Identity.Creature = id.Creature
			cfg.Identity.Vibe = id.Vibe
			cfg.Identity.Emoji = id.Emoji
		}
	}

	// Validate the default model against the registry before the first
	// turn: an unusably small context window is rejected here, not after
	// a failed driver call.
	registry := models.NewRegistry()
	primary := primaryCandidate(cfg)
	if primary.Model != "" {
		descriptor, err := registry.Resolve(primary.Provider, primary.Model)
		if err != nil {
			return nil, fmt.Errorf("default model: %w", err)
		}
		if descriptor.BelowWarnThreshold() {
			slogger.Warn("default model context window is small",
				"model", descriptor.ID, "window_tokens", descriptor.ContextWindowTokens)
		}
		runtime.SetDefaultModel(primary.Model)
	}

	// The outer half of model fallback: when the turn controller exhausts
	// profiles and raises a FailoverError, re-run the turn against the
	// next candidate in llm.fallback_chain.
	runner := newFallbackRunner(NewBoardAgentRunner(runtime), primary, cfg, store, authStore, registry, slogger)

	workspacePath := cfg.Workspace.Path
	soul := board.NewSoulLoader(workspacePath, printfLogger{slogger})
	boardMem := board.NewMemoryStore(workspacePath)
	orch := board.NewOrchestrator(board.ConfigFromSettings(cfg.Board), runner, soul, boardMem)

	return &core{
		cfg:       cfg,
		logger:    obsLogger,
		slogger:   slogger,
		provider:  provider,
		store:     store,
		runtime:   runtime,
		authStore: authStore,
		stateDir:  stateDir,
		board:     orch,
		runner:    runner,
		taskStore: tasks.NewMemoryStore(),
	}, nil
}

// flush persists mutable state (auth profile cooldowns) before exit.
func (c *core) flush() {
	if err := auth.SaveProfileStore(c.authStore, c.stateDir); err != nil {
		c.slogger.Warn("failed to persist auth profiles", "error", err)
	}
}

// buildProvider resolves the configured default LLM provider.
func buildProvider(cfg *config.Config) (agent.LLMProvider, error) {
	name := cfg.LLM.DefaultProvider
	if name == "" {
		name = "anthropic"
	}

	return buildOneProvider(name, cfg.LLM.Providers[name])
}

func buildOneProvider(name string, pc config.LLMProviderConfig) (agent.LLMProvider, error) {
	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
		})
	case "openai":
		return providers.NewOpenAIProvider(pc.APIKey), nil
	case "ollama":
		return providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q (supported: anthropic, openai, ollama)", name)
	}
}


// buildSessionStore opens the durable session store: append-only JSONL
// logs under <workspace>/sessions, one file per session.
func buildSessionStore(cfg *config.Config) (sessions.Store, error) {
	dir := filepath.Join(cfg.Workspace.Path, "sessions")
	if cfg.Workspace.Path == "" {
		dir = filepath.Join(".", ".conclave", "sessions")
	}
	store, err := sessions.NewFileStore(dir)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return store, nil
}

// modelFallbacks parses the configured fallback chain into model targets.
// Entries are "provider/model" or a bare provider id (provider default
// model).
func modelFallbacks(cfg *config.Config) []agent.ModelTarget {
	var out []agent.ModelTarget
	for _, entry := range cfg.LLM.FallbackChain {
		provider, model, found := strings.Cut(entry, "/")
		if !found {
			model = cfg.LLM.Providers[provider].DefaultModel
		}
		out = append(out, agent.ModelTarget{Provider: provider, Model: model})
	}
	return out
}

// stateDirFor returns where mutable runtime state (auth profile cooldowns)
// is persisted.
func stateDirFor(cfg *config.Config) string {
	if cfg.Workspace.Path != "" {
		return filepath.Join(cfg.Workspace.Path, "state")
	}
	return filepath.Join(".", ".conclave", "state")
}

// providerSummarizer adapts an agent.LLMProvider to sessions.Summarizer
// for the compaction path.
type providerSummarizer struct {
	provider agent.LLMProvider
}

func (s *providerSummarizer) Summarize(ctx context.Context, messages []*pkgmodels.Message, prompt string) (string, error) {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}

	req := &agent.CompletionRequest{
		System: prompt,
		Messages: []agent.CompletionMessage{
			{Role: "user", Content: b.String()},
		},
	}
	chunks, err := s.provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		out.WriteString(chunk.Text)
	}
	return strings.TrimSpace(out.String()), nil
}

// printfLogger adapts slog to the printf-style logger the soul loader
// takes.
type printfLogger struct {
	l *slog.Logger
}

func (p printfLogger) Printf(format string, args ...any) {
	p.l.Info(fmt.Sprintf(format, args...))
}

// buildSenderMux registers an outbound sender for every channel with a
// token configured. Channels that fail to initialize are skipped; the mux
// rejects sends for them with a clear error.
func buildSenderMux(cfg *config.Config) *outbound.Mux {
	mux := outbound.NewMux()
	if token := cfg.Channels.Slack.BotToken; token != "" {
		mux.Register(outbound.NewSlackSender(token))
	}
	if token := cfg.Channels.Discord.BotToken; token != "" {
		if sender, err := outbound.NewDiscordSender(token); err == nil {
			mux.Register(sender)
		}
	}
	if token := cfg.Channels.Telegram.BotToken; token != "" {
		if sender, err := outbound.NewTelegramSender(token); err == nil {
			mux.Register(sender)
		}
	}
	return mux
}

// seedProfiles installs the config-declared credential pool into the
// store. Cooldown state persisted from earlier runs survives; the config
// is authoritative for which profiles exist and whether they're disabled.
// credential_ref names an env var ("env:ANTHROPIC_KEY_MAIN" or a bare
// name) holding the secret, so the config file never carries it.
func seedProfiles(store *auth.ProfileStore, cfg *config.Config) {
	store.SetCooldownPolicy(auth.CooldownPolicy{
		RateLimitBase: cfg.Auth.Cooldown.RateLimitBase,
		RateLimitCap:  cfg.Auth.Cooldown.RateLimitCap,
		AuthHold:      cfg.Auth.Cooldown.AuthHold,
		TimeoutHold:   cfg.Auth.Cooldown.TimeoutHold,
		UnknownHold:   cfg.Auth.Cooldown.UnknownHold,
	})
	for _, p := range cfg.Auth.Profiles {
		ref := strings.TrimPrefix(p.CredentialRef, "env:")
		store.AddProfile(p.ID, auth.ProfileCredential{
			Type:     auth.CredentialAPIKey,
			Provider: p.Provider,
			Key:      os.Getenv(ref),
			Disabled: p.Disabled,
		})
	}
}

// primaryCandidate derives the default (provider, model) pair from config.
func primaryCandidate(cfg *config.Config) models.Candidate {
	provider := cfg.LLM.DefaultProvider
	if provider == "" {
		provider = "anthropic"
	}
	return models.Candidate{Provider: provider, Model: cfg.LLM.Providers[provider].DefaultModel}
}

// fallbackRunner walks the configured model fallback chain when a turn's
// controller signals exhaustion. Runtimes for fallback candidates are
// built lazily and share the session store and auth profiles, but carry no
// fallback chain of their own, so a final failure surfaces plainly.
type fallbackRunner struct {
	primary   board.AgentRunner
	candidate models.Candidate
	chain     []models.Candidate
	cfg       *config.Config
	store     sessions.Store
	auth      *auth.ProfileStore
	registry  *models.Registry
	logger    *slog.Logger

	mu    sync.Mutex
	cache map[string]board.AgentRunner
}

func newFallbackRunner(primary board.AgentRunner, candidate models.Candidate, cfg *config.Config, store sessions.Store, authStore *auth.ProfileStore, registry *models.Registry, logger *slog.Logger) *fallbackRunner {
	return &fallbackRunner{
		primary:   primary,
		candidate: candidate,
		chain:     fallbackChain(cfg),
		cfg:       cfg,
		store:     store,
		auth:      authStore,
		registry:  registry,
		logger:    logger,
		cache:     map[string]board.AgentRunner{},
	}
}

// fallbackChain parses llm.fallback_chain entries: "provider/model" or a
// bare provider id (that provider's default model).
func fallbackChain(cfg *config.Config) []models.Candidate {
	var out []models.Candidate
	for _, entry := range cfg.LLM.FallbackChain {
		provider, model, found := strings.Cut(entry, "/")
		if !found {
			model = cfg.LLM.Providers[provider].DefaultModel
		}
		out = append(out, models.Candidate{Provider: provider, Model: model})
	}
	return out
}

// RunTurn implements board.AgentRunner with the outer model-fallback loop.
func (f *fallbackRunner) RunTurn(ctx context.Context, sessionKey, systemPrompt, userText string) (string, error) {
	reply, winner, err := models.RunWithFallback(ctx, f.candidate, f.chain,
		func(ctx context.Context, c models.Candidate) (string, error) {
			runner, rerr := f.runnerFor(c)
			if rerr != nil {
				// An unbuildable candidate advances the chain rather than
				// killing the turn.
				return "", models.CoerceToFailoverError(rerr, c.Provider, c.Model)
			}
			return runner.RunTurn(ctx, sessionKey, systemPrompt, userText)
		})
	if err == nil && winner != f.candidate {
		f.logger.Warn("turn served by fallback model", "candidate", winner.String())
	}
	return reply, err
}

// runnerFor returns the primary runner for the primary candidate and a
// lazily-built one for fallback candidates.
func (f *fallbackRunner) runnerFor(c models.Candidate) (board.AgentRunner, error) {
	if c == f.candidate {
		return f.primary, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if runner, ok := f.cache[c.String()]; ok {
		return runner, nil
	}

	if c.Model != "" {
		if _, err := f.registry.Resolve(c.Provider, c.Model); err != nil {
			return nil, err
		}
	}
	provider, err := buildOneProvider(c.Provider, f.cfg.LLM.Providers[c.Provider])
	if err != nil {
		return nil, err
	}
	runtime := agent.NewRuntime(provider, f.store)
	runtime.SetAuthStore(f.auth)
	if c.Model != "" {
		runtime.SetDefaultModel(c.Model)
	}

	runner := NewBoardAgentRunner(runtime)
	f.cache[c.String()] = runner
	return runner, nil
}
