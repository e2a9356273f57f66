package events

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/flowglad/flowglad/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	dispatchInterval = 2 * time.Second
	dispatchBatch    = 100
)

// Handler receives committed events. Delivery is at-least-once; handlers
// must tolerate replays.
type Handler func(ctx context.Context, event OutboxEvent) error

type DispatcherParams struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Outbox  *Outbox
	Metrics *telemetry.Metrics `optional:"true"`
}

// Dispatcher drains the outbox on a fixed interval.
type Dispatcher struct {
	db      *gorm.DB
	log     *zap.Logger
	outbox  *Outbox
	metrics *telemetry.Metrics

	handlers []Handler
	stop     chan struct{}
	done     chan struct{}
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{
		db:      p.DB,
		log:     p.Log.Named("events.dispatcher"),
		outbox:  p.Outbox,
		metrics: p.Metrics,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (d *Dispatcher) Subscribe(handler Handler) {
	d.handlers = append(d.handlers, handler)
}

func (d *Dispatcher) Start() {
	go d.run()
}

func (d *Dispatcher) Stop() {
	close(d.stop)
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			if err := d.drain(context.Background()); err != nil {
				d.log.Warn("outbox drain", zap.Error(err))
				d.metrics.RecordOutboxDispatch("error")
			}
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) error {
	rows, err := d.outbox.Pending(ctx, d.db, dispatchBatch)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		d.metrics.SetOutboxBacklog(0)
		return nil
	}

	dispatched := make([]snowflake.ID, 0, len(rows))
	for _, row := range rows {
		delivered := true
		for _, handler := range d.handlers {
			if err := handler(ctx, row); err != nil {
				d.log.Warn("event handler failed",
					zap.String("event_type", row.Type),
					zap.String("event_id", row.ID.String()),
					zap.Error(err),
				)
				delivered = false
				break
			}
		}
		if delivered {
			dispatched = append(dispatched, row.ID)
		}
	}

	if err := d.outbox.MarkDispatched(ctx, d.db, dispatched, time.Now().UTC()); err != nil {
		return err
	}

	d.metrics.RecordOutboxDispatch("ok")
	d.metrics.SetOutboxBacklog(int64(len(rows) - len(dispatched)))
	return nil
}

func RegisterLifecycle(lc fx.Lifecycle, d *Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			d.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			d.Stop()
			return nil
		},
	})
}

var Module = fx.Module("events",
	fx.Provide(
		NewOutbox,
		NewDispatcher,
	),
	fx.Invoke(RegisterLifecycle),
)
