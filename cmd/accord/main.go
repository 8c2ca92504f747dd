package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/accordlabs/accord/pkg/agent"
	"github.com/accordlabs/accord/pkg/audit"
	"github.com/accordlabs/accord/pkg/bus"
	"github.com/accordlabs/accord/pkg/config"
	"github.com/accordlabs/accord/pkg/consensus"
	"github.com/accordlabs/accord/pkg/integrity"
	"github.com/accordlabs/accord/pkg/observability"
	"github.com/accordlabs/accord/pkg/orchestrator"
	"github.com/accordlabs/accord/pkg/store"
	"github.com/accordlabs/accord/pkg/strategy"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, separated from main for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runCmd(nil, stdout, stderr)
	}
	switch args[1] {
	case "run":
		return runCmd(args[2:], stdout, stderr)
	case "verify":
		return verifyCmd(args[2:], stdout, stderr)
	case "sign":
		return signCmd(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintf(stdout, "accord %s\n", config.Version)
		return 0
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", args[1])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `Usage: accord [command]

Commands:
  run      run a consensus session (default)
  verify   verify a persisted audit chain
  sign     wrap text in the authority override format
  version  print the engine version`)
}

func runCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	profilePath := fs.String("profile", "", "path to a YAML run profile")
	rounds := fs.Int("rounds", 0, "override the number of rounds")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	if *profilePath != "" {
		profile, err := config.LoadProfile(*profilePath)
		if err != nil {
			_, _ = fmt.Fprintln(stderr, err)
			return 1
		}
		profile.Apply(cfg)
	}
	if *rounds > 0 {
		cfg.Rounds = *rounds
	}
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid configuration: %v\n", err)
		return 1
	}

	setupLogger(cfg.LogLevel, stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := runSession(ctx, cfg, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "run failed: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		_, _ = fmt.Fprintf(stderr, "encode report: %v\n", err)
		return 1
	}
	return 0
}

func runSession(ctx context.Context, cfg *config.Config, stderr io.Writer) (*orchestrator.Report, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "accord",
		ServiceVersion: config.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.OTLPEnabled,
		Insecure:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	sqliteSink, db, err := audit.OpenSQLiteSink(filepath.Join(cfg.DataDir, "audit.db"))
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()
	log := audit.NewLog(audit.NewWriterSink(stderr), sqliteSink)

	var authority *integrity.Authority
	if cfg.AuthoritySecret != "" {
		authority = integrity.NewAuthority([]byte(cfg.AuthoritySecret))
	}
	gate := integrity.NewGate(integrity.DefaultGateConfig(cfg.GenesisText), authority, log)

	st, grant, cleanup, err := openStore(ctx, cfg, gate, log)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	engine := consensus.NewEngine(consensus.Config{
		AgentCount:   cfg.AgentCount,
		Threshold:    cfg.Threshold,
		ExpiryRounds: cfg.ExpiryRounds,
		MaxPending:   cfg.MaxPending,
	}, st, grant, gate, log)

	b := bus.New(gate, bus.WithSystemSenders("system", "orchestrator"))
	budgets := agent.Budgets{
		VotesPerRound:     cfg.VoteBudget,
		ProposalsPerRound: cfg.ProposalBudget,
	}

	agents := make([]*agent.Agent, cfg.AgentCount)
	for i := range agents {
		strat, err := buildStrategy(cfg)
		if err != nil {
			return nil, err
		}
		agents[i] = agent.New(fmt.Sprintf("agent-%d", i+1), strat, budgets, engine, b, st)
	}

	var directive *integrity.DirectiveChannel
	if authority != nil {
		directive = integrity.NewDirectiveChannel(cfg.DirectivePath, authority, log)
	}

	orch := orchestrator.New(agents, engine, st, directive, log, obs)
	return orch.Run(ctx, cfg.Rounds)
}

// buildStrategy returns a fresh strategy per agent; each agent keeps its own
// proposal rotation state.
func buildStrategy(cfg *config.Config) (agent.Strategy, error) {
	heuristic := strategy.NewHeuristic(nil, nil)
	if cfg.VoteRule == "" {
		return heuristic, nil
	}
	cel, err := strategy.NewCEL(cfg.VoteRule, heuristic)
	if err != nil {
		return nil, fmt.Errorf("vote rule: %w", err)
	}
	return cel, nil
}

func openStore(ctx context.Context, cfg *config.Config, gate *integrity.Gate, log *audit.Log) (store.Store, *store.Grant, func(), error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		st, grant := store.NewRedisStore(client, "accord", gate, log)
		return st, grant, func() { _ = client.Close() }, nil

	default:
		var opts []store.FileOption
		if cfg.S3Bucket != "" {
			mirror, err := store.NewS3ArchiveSink(ctx, store.S3ArchiveConfig{
				Bucket:   cfg.S3Bucket,
				Region:   cfg.S3Region,
				Endpoint: cfg.S3Endpoint,
				Prefix:   "archive/",
			})
			if err != nil {
				return nil, nil, nil, err
			}
			opts = append(opts, store.WithArchiveMirror(mirror))
		}
		st, grant, err := store.NewFileStore(
			filepath.Join(cfg.DataDir, "tenets.json"),
			filepath.Join(cfg.DataDir, "archive"),
			gate, log, opts...)
		if err != nil {
			return nil, nil, nil, err
		}
		return st, grant, func() {}, nil
	}
}

// verifyCmd reloads a persisted audit database and checks the hash chain.
func verifyCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", "./data/audit.db", "path to the audit database")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	sink, db, err := audit.OpenSQLiteSink(*dbPath)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = db.Close() }()

	entries, err := sink.ReadEntries(context.Background())
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	if err := audit.Verify(entries); err != nil {
		_, _ = fmt.Fprintf(stderr, "chain verification failed: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "chain intact: %d entries\n", len(entries))
	return 0
}

// signCmd wraps text in the <mac>:<payload> override format using the
// configured authority secret.
func signCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	text := strings.Join(fs.Args(), " ")
	if text == "" {
		_, _ = fmt.Fprintln(stderr, "usage: accord sign <text>")
		return 2
	}

	secret := os.Getenv("ACCORD_AUTHORITY_SECRET")
	if secret == "" {
		_, _ = fmt.Fprintln(stderr, "ACCORD_AUTHORITY_SECRET is not set")
		return 1
	}

	authority := integrity.NewAuthority([]byte(secret))
	_, _ = fmt.Fprintln(stdout, authority.Wrap(text))
	return 0
}

func setupLogger(level string, w io.Writer) {
	var lv slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lv = slog.LevelDebug
	case "WARN":
		lv = slog.LevelWarn
	case "ERROR":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})))
}
