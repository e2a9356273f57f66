package transaction

import (
	"context"
	"time"

	"github.com/flowglad/flowglad/internal/cache"
	"github.com/flowglad/flowglad/internal/events"
	identitydomain "github.com/flowglad/flowglad/internal/identity/domain"
	ledgerdomain "github.com/flowglad/flowglad/internal/ledger/domain"
	"github.com/flowglad/flowglad/pkg/authctx"
	"github.com/flowglad/flowglad/pkg/rls"
	"github.com/flowglad/flowglad/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminUserID is the synthetic actor recorded for admin transactions.
const AdminUserID = "ADMIN"

// Fn is a business function run inside a transaction. The claim it receives
// is already bound to the SQL session, and effects it queues are flushed only
// if the transaction commits.
type Fn func(ctx context.Context, tx *gorm.DB, claim identitydomain.Claim, effects *Effects) error

type AdminOption func(*adminOptions)

type adminOptions struct {
	livemode bool
}

// WithLivemode overrides the admin transaction's livemode (default true).
func WithLivemode(livemode bool) AdminOption {
	return func(o *adminOptions) { o.livemode = livemode }
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Resolver identitydomain.Resolver
	Outbox   *events.Outbox
	Ledger   ledgerdomain.Service
	Cache    cache.Invalidator
	Binder   rls.Binder           `optional:"true"`
	Metrics  *telemetry.Metrics   `optional:"true"`
}

// Runner owns the transaction protocol: resolve identity, bind claims to the
// SQL session, run the business function, flush effects on commit.
type Runner struct {
	db       *gorm.DB
	log      *zap.Logger
	resolver identitydomain.Resolver
	outbox   *events.Outbox
	ledger   ledgerdomain.Service
	cache    cache.Invalidator
	binder   rls.Binder
	metrics  *telemetry.Metrics
	tracer   oteltrace.Tracer
}

func NewRunner(p Params) *Runner {
	binder := p.Binder
	if binder == nil {
		binder = rls.ForDialect(p.DB)
	}
	return &Runner{
		db:       p.DB,
		log:      p.Log.Named("transaction"),
		resolver: p.Resolver,
		outbox:   p.Outbox,
		ledger:   p.Ledger,
		cache:    p.Cache,
		binder:   binder,
		metrics:  p.Metrics,
		tracer:   otel.Tracer("flowglad/transaction"),
	}
}

// AdminTransaction runs fn under the connection's default privileged role.
// No identity resolution, no role switch; stale claims are still cleared so
// a pooled session never leaks a previous caller's identity.
func (r *Runner) AdminTransaction(ctx context.Context, fn Fn, opts ...AdminOption) error {
	options := adminOptions{livemode: true}
	for _, opt := range opts {
		opt(&options)
	}

	claim := identitydomain.Claim{
		UserID:   AdminUserID,
		Role:     identitydomain.RoleMerchant,
		AuthType: identitydomain.AuthTypeAPIKey,
		Livemode: options.livemode,
	}

	return r.run(ctx, "admin", claim, fn, func(tx *gorm.DB) (release func() error, err error) {
		if err := r.binder.BindAdmin(tx, options.livemode); err != nil {
			return nil, err
		}
		return func() error { return nil }, nil
	})
}

// AuthenticatedTransaction resolves the caller's identity, then runs fn with
// the resolved claim bound to the SQL session. Resolution failure or an
// error from fn aborts the transaction with nothing applied.
func (r *Runner) AuthenticatedTransaction(ctx context.Context, input identitydomain.ResolveInput, fn Fn) error {
	resolution, err := r.resolver.Resolve(ctx, input)
	if err != nil {
		r.observe("authenticated", "resolve_error", 0)
		return err
	}
	return r.runBound(ctx, "authenticated", resolution.Claim, fn)
}

// RecomputeWithContext replays a previously captured identity snapshot
// without re-verifying credentials. It exists solely so cached read queries
// can be re-executed under their original security context; it must never be
// fed identifiers taken from request input.
func (r *Runner) RecomputeWithContext(ctx context.Context, saved identitydomain.TransactionContext, fn Fn) error {
	claim := identitydomain.ClaimFromTransactionContext(saved, time.Now().UTC())
	return r.runBound(ctx, "recompute", claim, fn)
}

func (r *Runner) runBound(ctx context.Context, kind string, claim identitydomain.Claim, fn Fn) error {
	return r.run(ctx, kind, claim, fn, func(tx *gorm.DB) (func() error, error) {
		if err := r.binder.Bind(tx, rls.SecurityContext{Claim: claim}); err != nil {
			return nil, err
		}
		return func() error { return r.binder.Release(tx) }, nil
	})
}

func (r *Runner) run(ctx context.Context, kind string, claim identitydomain.Claim, fn Fn, bind func(tx *gorm.DB) (func() error, error)) error {
	ctx, span := r.tracer.Start(ctx, "transaction."+kind)
	defer span.End()
	span.SetAttributes(
		attribute.String("transaction.kind", kind),
		attribute.Bool("transaction.livemode", claim.Livemode),
	)

	start := time.Now()
	effects := newEffects()
	ctx = authctx.WithClaim(ctx, claim)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		release, err := bind(tx)
		if err != nil {
			return err
		}
		// The role reset must survive every exit path out of fn,
		// including panics: a pooled connection left in a non-default
		// role is a cross-tenant hazard.
		defer func() {
			if releaseErr := release(); releaseErr != nil {
				r.log.Error("security context release failed", zap.Error(releaseErr))
			}
		}()

		if err := fn(ctx, tx, claim, effects); err != nil {
			return err
		}

		// Flush events and ledger commands inside the transaction so
		// they commit or roll back atomically with the business writes.
		for _, event := range effects.events {
			if err := r.outbox.PublishTx(ctx, tx, event); err != nil {
				return err
			}
		}
		for _, cmd := range effects.ledgerCommands {
			if err := r.ledger.ApplyTx(ctx, tx, cmd); err != nil {
				return err
			}
		}
		return nil
	})

	eventCount, ledgerCount, cacheCount := effects.counts()
	span.SetAttributes(
		attribute.Int("effects.events", eventCount),
		attribute.Int("effects.ledger_commands", ledgerCount),
		attribute.Int("effects.cache_keys", cacheCount),
	)

	if err != nil {
		span.RecordError(err)
		r.metrics.AddEffectsDiscarded("event", eventCount)
		r.metrics.AddEffectsDiscarded("ledger_command", ledgerCount)
		r.metrics.AddEffectsDiscarded("cache_key", cacheCount)
		r.observe(kind, "rollback", time.Since(start))
		return err
	}

	// Cache purges only after commit: purging against data that might
	// still roll back would repopulate caches with phantom state.
	if cacheCount > 0 {
		r.cache.Invalidate(ctx, effects.cacheKeys...)
	}

	r.metrics.AddEffectsFlushed("event", eventCount)
	r.metrics.AddEffectsFlushed("ledger_command", ledgerCount)
	r.metrics.AddEffectsFlushed("cache_key", cacheCount)
	r.observe(kind, "commit", time.Since(start))
	return nil
}

func (r *Runner) observe(kind, status string, elapsed time.Duration) {
	r.metrics.ObserveTransaction(kind, status, elapsed)
}

var Module = fx.Module("transaction",
	fx.Provide(NewRunner),
)
