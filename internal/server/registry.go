// Package server coordinates connection registration, message fan-out and
// periodic diagnostics for the relay via the Registry type.
package server

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/google/uuid"
)

const eventQueueSize = 256

// --- Event types ---

type event interface{ kind() string }

type connectEvent struct {
	id     uuid.UUID
	target DeliveryTarget
}

func (connectEvent) kind() string { return "connect" }

type disconnectEvent struct {
	id uuid.UUID
}

func (disconnectEvent) kind() string { return "disconnect" }

type messageEvent struct {
	id      uuid.UUID
	payload []byte
}

func (messageEvent) kind() string { return "message" }

type diagnosticsEvent struct{}

func (diagnosticsEvent) kind() string { return "diagnostics" }

type connectionsQuery struct {
	reply chan []uuid.UUID
}

func (connectionsQuery) kind() string { return "query" }

// --- Registry ---

// Registry is the single owner of the identity to delivery-target mapping.
// All mutation happens inside Run, one event at a time, so the map needs no
// lock. Other goroutines only ever send events.
type Registry struct {
	events  chan event
	targets map[uuid.UUID]DeliveryTarget
	logger  *slog.Logger
	metrics *Metrics
	done    chan struct{}
}

// NewRegistry creates a Registry. Run must be called for events to be processed.
// logger and metrics may be nil.
func NewRegistry(logger *slog.Logger, metrics *Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Registry{
		events:  make(chan event, eventQueueSize),
		targets: make(map[uuid.UUID]DeliveryTarget),
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
	}
}

// Run processes events in arrival order until ctx is cancelled. Events still
// queued at that point are discarded. Run must be called at most once.
func (r *Registry) Run(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Registry stopped", "clients", len(r.targets))
			return
		case ev := <-r.events:
			r.handle(ev)
		}
	}
}

// Done is closed when Run returns.
func (r *Registry) Done() <-chan struct{} {
	return r.done
}

// Connect registers target under id.
func (r *Registry) Connect(id uuid.UUID, target DeliveryTarget) {
	r.submit(connectEvent{id: id, target: target})
}

// Disconnect removes id. Unknown ids are ignored.
func (r *Registry) Disconnect(id uuid.UUID) {
	r.submit(disconnectEvent{id: id})
}

// Message fans payload out to every registered connection except id.
func (r *Registry) Message(id uuid.UUID, payload []byte) {
	r.submit(messageEvent{id: id, payload: payload})
}

// Diagnostics logs the identities currently registered.
func (r *Registry) Diagnostics() {
	r.submit(diagnosticsEvent{})
}

// Connections returns the identities registered at the moment the query is
// processed, in no particular order.
func (r *Registry) Connections(ctx context.Context) ([]uuid.UUID, error) {
	q := connectionsQuery{reply: make(chan []uuid.UUID, 1)}

	select {
	case r.events <- q:
	case <-r.done:
		return nil, ErrRegistryStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case ids := <-q.reply:
		return ids, nil
	case <-r.done:
		return nil, ErrRegistryStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// submit queues ev unless the loop has already stopped, in which case the
// event is dropped.
func (r *Registry) submit(ev event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

func (r *Registry) handle(ev event) {
	r.metrics.Events.WithLabelValues(ev.kind()).Inc()

	switch e := ev.(type) {
	case connectEvent:
		r.handleConnect(e)
	case disconnectEvent:
		r.handleDisconnect(e)
	case messageEvent:
		r.handleMessage(e)
	case diagnosticsEvent:
		r.handleDiagnostics()
	case connectionsQuery:
		e.reply <- r.ids()
	}
}

func (r *Registry) handleConnect(e connectEvent) {
	if _, exists := r.targets[e.id]; exists {
		r.logger.Warn("Replacing stale registration", "conn_id", e.id)
	}
	r.targets[e.id] = e.target
	r.metrics.ActiveConnections.Set(float64(len(r.targets)))
	r.logger.Info("Client registered", "conn_id", e.id, "clients", len(r.targets))
}

func (r *Registry) handleDisconnect(e disconnectEvent) {
	delete(r.targets, e.id)
	r.metrics.ActiveConnections.Set(float64(len(r.targets)))
	r.logger.Info("Client disconnected", "conn_id", e.id, "clients", len(r.targets))
}

// handleMessage returns the number of deliveries attempted.
func (r *Registry) handleMessage(e messageEvent) int {
	sender := e.id.String()
	tagged := make([]byte, 0, len(sender)+2+len(e.payload))
	tagged = append(tagged, sender...)
	tagged = append(tagged, ": "...)
	tagged = append(tagged, e.payload...)

	frame := Frame{Kind: FrameText, Payload: tagged}

	attempts := 0
	for id, target := range r.targets {
		if id == e.id {
			continue
		}
		attempts++
		r.deliver(id, target, frame)
	}

	r.logger.Debug("Broadcast message", "conn_id", e.id, "recipients", attempts)
	return attempts
}

// deliver contains a single recipient's failure so it never reaches the
// sender or the rest of the fan-out.
func (r *Registry) deliver(id uuid.UUID, target DeliveryTarget, frame Frame) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.Deliveries.WithLabelValues(resultFailed).Inc()
			r.logger.Error("Recovered from panic in delivery", "conn_id", id, "panic", rec)
		}
	}()

	err := target.Deliver(frame)
	switch {
	case err == nil:
		r.metrics.Deliveries.WithLabelValues(resultDelivered).Inc()
	case errors.Is(err, ErrClientClosed):
		r.metrics.Deliveries.WithLabelValues(resultClosed).Inc()
		r.logger.Debug("Dropped delivery to closed client", "conn_id", id)
	case errors.Is(err, ErrSendBufferFull):
		r.metrics.Deliveries.WithLabelValues(resultBufferFull).Inc()
		r.logger.Warn("Dropped delivery, send buffer full", "conn_id", id)
	default:
		r.metrics.Deliveries.WithLabelValues(resultFailed).Inc()
		r.logger.Warn("Delivery failed", "conn_id", id, "error", err)
	}
}

// handleDiagnostics logs and returns the registered identities, sorted.
func (r *Registry) handleDiagnostics() []string {
	ids := make([]string, 0, len(r.targets))
	for id := range r.targets {
		ids = append(ids, id.String())
	}
	slices.Sort(ids)

	r.logger.Info("Connected clients", "count", len(ids), "clients", ids)
	return ids
}

func (r *Registry) ids() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(r.targets))
	for id := range r.targets {
		ids = append(ids, id)
	}
	return ids
}
