package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wasteflow/wasteflow/internal/companies"
	"github.com/wasteflow/wasteflow/internal/declaration"
	"github.com/wasteflow/wasteflow/internal/lmaimport"
	"github.com/wasteflow/wasteflow/internal/observability"
	"github.com/wasteflow/wasteflow/internal/shared"
	"github.com/wasteflow/wasteflow/internal/signature"
	"github.com/wasteflow/wasteflow/internal/weightticket"
)

// Services groups the domain services shared by the HTTP server and the worker.
type Services struct {
	Audit         *shared.AuditLogger
	Idempotency   *shared.IdempotencyStore
	Companies     *companies.CachedLookup
	WeightTickets *weightticket.Service
	Declarations  *declaration.Service
	Signatures    *signature.Service
	Imports       *lmaimport.Service
}

// NewServices wires repositories and services. redisClient may be nil, which
// disables locks and the company cache. metrics may be nil.
func NewServices(cfg *Config, pool *pgxpool.Pool, redisClient *redis.Client, metrics *observability.Metrics, logger *slog.Logger) *Services {
	if logger == nil {
		logger = slog.Default()
	}
	audit := shared.NewAuditLogger(pool)
	locker := shared.NewLocker(redisClient, cfg.TicketLockTTL)
	lookup := companies.NewCachedLookup(companies.NewRepository(pool), redisClient, cfg.CompanyCacheTTL)

	var observer weightticket.TransitionObserver
	if metrics != nil {
		observer = metrics
	}

	return &Services{
		Audit:       audit,
		Idempotency: shared.NewIdempotencyStore(pool),
		Companies:   lookup,
		WeightTickets: weightticket.NewService(
			weightticket.NewRepository(pool),
			audit,
			locker,
			weightticket.ServiceConfig{
				CancelPolicy: weightticket.CancelPolicy{AllowCancelCompleted: cfg.TicketAllowCancelCompleted},
				Observer:     observer,
			},
			logger.With(slog.String("component", "weightticket")),
		),
		Declarations: declaration.NewService(
			declaration.NewRepository(pool),
			audit,
			declaration.ServiceConfig{Location: cfg.Location(), DeadlineDay: cfg.DeclarationDeadlineDay},
			logger.With(slog.String("component", "declaration")),
		),
		Signatures: signature.NewService(
			signature.NewRepository(pool),
			audit,
			locker,
			logger.With(slog.String("component", "signature")),
		),
		Imports: lmaimport.NewService(
			lmaimport.NewRepository(pool),
			lookup,
			lmaimport.ServiceConfig{Workers: cfg.ImportWorkers},
			logger.With(slog.String("component", "lmaimport")),
		),
	}
}
