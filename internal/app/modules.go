package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-suite/meridian/internal/ledger"
	"github.com/meridian-suite/meridian/internal/platform/cache"
	"github.com/meridian-suite/meridian/internal/posting"
	"github.com/meridian-suite/meridian/internal/projects"
	"github.com/meridian-suite/meridian/internal/shared"
	"github.com/meridian-suite/meridian/internal/workflow"
	"github.com/meridian-suite/meridian/jobs"
)

// Modules bundles the wired engine services. Embedding hosts and the worker
// binary both assemble through here so every process shares one wiring.
type Modules struct {
	Audit      *shared.AuditLogger
	Ledger     *ledger.Service
	Posting    *posting.Engine
	Workflows  *workflow.Store
	Automation *workflow.Engine
	Projects   *projects.Service
}

// BuildModules wires the engine services onto shared infrastructure. Email
// steps enqueue through the queue client; task transitions serialize on a
// per-project redis lock with the configured TTL.
func BuildModules(cfg *Config, logger *slog.Logger, pool *pgxpool.Pool, redisClient *redis.Client, queue *jobs.Client) (*Modules, error) {
	audit := shared.NewAuditLogger(pool)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, ledgerRepo, audit)
	postingEngine := posting.NewEngine(ledgerService, logger)

	store := workflow.NewStore(pool).WithAudit(audit)
	mailer := jobs.NewQueueMailer(queue)
	registry, err := workflow.NewStandardRegistry(
		mailer,
		workflow.NewWebhookClient(),
		workflow.NewERPFieldWriter(pool),
		workflow.NewDocumentEmailer(mailer),
	)
	if err != nil {
		return nil, err
	}
	automation := workflow.NewEngine(store, store, registry, audit, logger)

	locker := cache.NewMutex(redisClient, cfg.WIPLockTTL)
	projectsService := projects.NewService(projects.NewRepository(pool), locker, audit, logger)

	return &Modules{
		Audit:      audit,
		Ledger:     ledgerService,
		Posting:    postingEngine,
		Workflows:  store,
		Automation: automation,
		Projects:   projectsService,
	}, nil
}
