package messaging

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/metrics"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/util"
)

// DefaultRouterWorkers is the number of inbound workers. Messages are sharded
// by sender so one sender's messages are always handled in arrival order.
const DefaultRouterWorkers = 8

// ErrDuplicateInbound is returned for a provider message id seen before.
var ErrDuplicateInbound = errors.New("duplicate inbound message")

// InboundHandler processes one inbound customer message.
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg models.InboundMessage) (flow.InboundResult, error)
}

// InboundRouter drains a Service's channels into an InboundHandler.
type InboundRouter struct {
	svc     Service
	handler InboundHandler
	dedup   store.DedupRepo
	metrics *metrics.LeadPipeMetrics
	workers int
}

// RouterOption configures an InboundRouter.
type RouterOption func(*InboundRouter)

// WithDedup drops messages whose provider id was already recorded.
func WithDedup(repo store.DedupRepo) RouterOption {
	return func(r *InboundRouter) { r.dedup = repo }
}

// WithRouterMetrics records duplicates and delivery receipts.
func WithRouterMetrics(m *metrics.LeadPipeMetrics) RouterOption {
	return func(r *InboundRouter) { r.metrics = m }
}

// WithWorkers sets the number of inbound workers.
func WithWorkers(n int) RouterOption {
	return func(r *InboundRouter) {
		if n > 0 {
			r.workers = n
		}
	}
}

// NewInboundRouter creates a router from svc to handler.
func NewInboundRouter(svc Service, handler InboundHandler, opts ...RouterOption) *InboundRouter {
	r := &InboundRouter{svc: svc, handler: handler, workers: DefaultRouterWorkers}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Process deduplicates and handles a single message. A message whose handling
// fails for any reason other than being malformed is forgotten so a provider
// redelivery is handled again.
func (r *InboundRouter) Process(ctx context.Context, msg models.InboundMessage) (flow.InboundResult, error) {
	recorded := false
	if r.dedup != nil && msg.MessageID != "" {
		inserted, err := r.dedup.RecordInbound(msg.MessageID, util.NormalizePhone(msg.From))
		recorded = inserted
		switch {
		case err != nil:
			slog.Warn("InboundRouter.Process: dedup record failed, processing anyway", "messageID", msg.MessageID, "error", err)
		case !inserted:
			slog.Info("InboundRouter.Process: dropping duplicate", "messageID", msg.MessageID, "from", msg.From)
			r.metrics.ObserveInbound(metrics.OutcomeDuplicate, 0)
			return flow.InboundResult{}, ErrDuplicateInbound
		}
	}

	res, err := r.handler.HandleInbound(ctx, msg)
	if err != nil {
		if recorded && !errors.Is(err, flow.ErrMalformedInbound) {
			if ferr := r.dedup.ForgetInbound(msg.MessageID); ferr != nil {
				slog.Warn("InboundRouter.Process: forget failed message failed", "messageID", msg.MessageID, "error", ferr)
			}
		}
		return res, err
	}
	if r.dedup != nil && msg.MessageID != "" {
		if err := r.dedup.MarkProcessed(msg.MessageID); err != nil {
			slog.Warn("InboundRouter.Process: mark processed failed", "messageID", msg.MessageID, "error", err)
		}
	}
	return res, nil
}

// Run dispatches inbound messages to sharded workers and observes receipts
// until ctx is cancelled or the inbound channel closes. Queued messages are
// drained before Run returns.
func (r *InboundRouter) Run(ctx context.Context) error {
	slog.Info("InboundRouter.Run: starting", "workers", r.workers)
	defer slog.Info("InboundRouter.Run: stopped")

	workCtx := context.WithoutCancel(ctx)
	g := new(errgroup.Group)
	queues := make([]chan models.InboundMessage, r.workers)
	for i := range queues {
		q := make(chan models.InboundMessage, DefaultChannelBufferSize)
		queues[i] = q
		g.Go(func() error {
			for msg := range q {
				if _, err := r.Process(workCtx, msg); err != nil && !errors.Is(err, ErrDuplicateInbound) {
					slog.Error("InboundRouter: failed to process message", "from", msg.From, "error", err)
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		inbound := r.svc.Inbound()
		receipts := r.svc.Receipts()
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-inbound:
				if !ok {
					return nil
				}
				queues[r.shard(msg.From)] <- msg
			case rc, ok := <-receipts:
				if !ok {
					receipts = nil
					continue
				}
				r.observeReceipt(rc)
			}
		}
	})
	return g.Wait()
}

func (r *InboundRouter) shard(from string) int {
	h := fnv.New32a()
	h.Write([]byte(util.NormalizePhone(from)))
	return int(h.Sum32() % uint32(r.workers))
}

// observeReceipt counts provider delivery confirmations. Send results are
// counted by the coordinator.
func (r *InboundRouter) observeReceipt(rc models.Receipt) {
	slog.Debug("InboundRouter: receipt", "to", rc.To, "status", rc.Status)
	switch rc.Status {
	case models.MessageStatusDelivered, models.MessageStatusRead:
		r.metrics.ObserveOutbound(string(rc.Status))
	}
}
