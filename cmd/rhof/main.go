package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/someflydev/rhof/internal/adapter"
	"github.com/someflydev/rhof/internal/adapter/manualfeed"
	"github.com/someflydev/rhof/internal/adapter/remoteboard"
	"github.com/someflydev/rhof/internal/artifact"
	"github.com/someflydev/rhof/internal/dedup"
	"github.com/someflydev/rhof/internal/fetch"
	"github.com/someflydev/rhof/internal/registry"
	"github.com/someflydev/rhof/internal/rules"
	"github.com/someflydev/rhof/internal/snapshot"
	"github.com/someflydev/rhof/internal/store"
	"github.com/someflydev/rhof/internal/sync"
)

// schedulerInterval is how often RunSync repeats when RHOF_SCHEDULER_ENABLED
// is set. There's no separate interval knob, just the on/off switch.
const schedulerInterval = time.Hour

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return b
}

func main() {
	ctx := context.Background()

	pool, err := store.Connect(ctx)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := store.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	registryPath := env("RHOF_REGISTRY", "config/sources.yaml")
	reg, err := registry.Load(registryPath)
	if err != nil {
		log.Fatalf("loading registry: %v", err)
	}

	artifactRoot := env("ARTIFACTS_DIR", "data/artifacts")
	artifactStore, err := artifact.New(artifactRoot)
	if err != nil {
		log.Fatalf("opening artifact store: %v", err)
	}

	fetcher := fetch.New(artifactStore,
		fetch.WithMaxRetries(envInt("RHOF_HTTP_MAX_RETRIES", 3)),
		fetch.WithBaseBackoff(time.Duration(envInt("RHOF_HTTP_BASE_BACKOFF_MS", 500))*time.Millisecond),
		fetch.WithGlobalConcurrency(int64(envInt("RHOF_HTTP_MAX_CONCURRENCY", 16))),
	)

	manualDir := env("RHOF_MANUAL_DIR", "manual")
	adapters := buildAdapters(reg, fetcher, artifactStore, manualDir)

	tagRules, err := rules.Load(env("RHOF_TAG_RULES", "rules/tags.yaml"))
	if err != nil {
		log.Fatalf("loading tag rules: %v", err)
	}
	riskRules, err := rules.Load(env("RHOF_RISK_RULES", "rules/risk.yaml"))
	if err != nil {
		log.Fatalf("loading risk rules: %v", err)
	}
	payRules, err := rules.Load(env("RHOF_PAY_RULES", "rules/pay.yaml"))
	if err != nil {
		log.Fatalf("loading pay rules: %v", err)
	}

	reportsRoot := env("REPORTS_DIR", "reports")

	orch := &sync.Orchestrator{
		Registry:    reg,
		Store:       store.New(pool),
		Adapters:    adapters,
		ArtifactStr: artifactStore,
		DedupHook:   dedup.DefaultHook{},
		RuleSets:    []*rules.Set{tagRules, riskRules, payRules},
		ReportsRoot: reportsRoot,
		Snapshot: sync.NewSnapshotFunc(func(ctx context.Context, reportsRoot, runID string) (snapshot.Manifest, error) {
			return snapshot.Export(ctx, pool, reportsRoot, runID)
		}, reportsRoot),
	}

	if envBool("RHOF_SCHEDULER_ENABLED", false) {
		runForever(ctx, orch)
		return
	}
	runOnce(ctx, orch)
}

func runOnce(ctx context.Context, orch *sync.Orchestrator) {
	report, err := orch.RunSync(ctx)
	if err != nil {
		log.Fatalf("sync run failed: %v", err)
	}
	log.Printf("run %s finished with status %s (%d sources)", report.RunID, report.Status, len(report.Sources))
}

// runForever repeats RunSync on schedulerInterval until the process is
// killed, logging each run rather than exiting on a per-run error so a
// single bad run doesn't take the scheduler down with it.
func runForever(ctx context.Context, orch *sync.Orchestrator) {
	for {
		report, err := orch.RunSync(ctx)
		if err != nil {
			log.Printf("sync run failed: %v", err)
		} else {
			log.Printf("run %s finished with status %s (%d sources)", report.RunID, report.Status, len(report.Sources))
		}
		time.Sleep(schedulerInterval)
	}
}

func buildAdapters(reg *registry.Registry, fetcher *fetch.Fetcher, artifactStore *artifact.Store, manualDir string) *adapter.Table {
	var built []adapter.Adapter
	for _, cfg := range reg.All() {
		switch cfg.Crawlability {
		case "ManualOnly":
			built = append(built, manualfeed.New(cfg.ID, manualDir, artifactStore))
		default:
			built = append(built, remoteboard.New(cfg.ID, fetcher))
		}
	}
	return adapter.NewTable(built...)
}
