// Package broadcast fans chat lines and join/leave announcements out to
// registered sessions and records each event in the history sink.
//
// All fan-out happens inside the registry's lock, so every recipient sees
// events in the same total order and the history file matches that order.
// Recipients only queue lines while the lock is held; the actual network
// writes happen on each session's own writer goroutine.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cyberinferno/chatrelay/history"
	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/registry"
)

const defaultHistoryTimeout = 2 * time.Second

// ErrEmptyMessage is reported for chat events whose text is blank.
var ErrEmptyMessage = errors.New("broadcast: empty message")

// RecipientFailure records one recipient that could not be given a line.
type RecipientFailure struct {
	ID   uint32
	Name string
	Err  error
}

// DeliveryError lists every recipient that failed during a single delivery.
// Other recipients were still served.
type DeliveryError struct {
	Failures []RecipientFailure
}

func (e *DeliveryError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%d(%s): %v", f.ID, f.Name, f.Err))
	}

	return "broadcast: delivery failed for " + strings.Join(parts, ", ")
}

// Unwrap exposes the per-recipient causes to errors.Is.
func (e *DeliveryError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}

	return errs
}

// Report summarises one delivery.
type Report struct {
	Line       string
	Recipients int
	Delivered  int
	Delivery   *DeliveryError
	HistoryErr error
	Dropped    bool
}

// Err joins the delivery and history failures, or returns nil.
func (r Report) Err() error {
	var errs []error
	if r.Dropped {
		errs = append(errs, ErrEmptyMessage)
	}
	if r.Delivery != nil {
		errs = append(errs, r.Delivery)
	}
	if r.HistoryErr != nil {
		errs = append(errs, r.HistoryErr)
	}

	return errors.Join(errs...)
}

// Option configures an Engine.
type Option func(*Engine)

// WithFormatter replaces the default TextFormatter.
func WithFormatter(f Formatter) Option {
	return func(e *Engine) {
		e.format = f
	}
}

// WithHistoryTimeout bounds each history append.
func WithHistoryTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.historyTimeout = d
		}
	}
}

// Engine is the broadcast engine. It is safe for concurrent use.
type Engine struct {
	reg            *registry.Registry
	sink           history.Sink
	format         Formatter
	historyTimeout time.Duration
	log            logger.Logger
}

// New creates an Engine over reg that records to sink.
//
// Parameters:
//   - reg: The registry providing recipients and the ordering lock
//   - sink: History sink; nil means history.Nop
//   - log: Logger for delivery and history failures
//   - opts: Optional settings
//
// Returns:
//   - A ready Engine
func New(reg *registry.Registry, sink history.Sink, log logger.Logger, opts ...Option) *Engine {
	if sink == nil {
		sink = history.Nop{}
	}

	if log == nil {
		log = logger.Nop()
	}

	e := &Engine{
		reg:            reg,
		sink:           sink,
		format:         TextFormatter{},
		historyTimeout: defaultHistoryTimeout,
		log:            log.With(logger.Field{Key: "component", Value: "broadcast"}),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Registry returns the registry the engine fans out over.
func (e *Engine) Registry() *registry.Registry {
	return e.reg
}

// Deliver fans ev out to every registered member except its origin and
// appends exactly one history line. Chat events with blank text are dropped
// without delivery or history.
func (e *Engine) Deliver(ctx context.Context, ev Event) Report {
	if ev.Kind == KindChat && strings.TrimSpace(ev.Text) == "" {
		return Report{Dropped: true}
	}

	line := e.format.Line(ev)
	payload := []byte(line + "\n")
	report := Report{Line: line}

	e.reg.Fanout(ev.OriginID, func(recipients []registry.Entry) {
		report.Recipients = len(recipients)

		var failures []RecipientFailure
		for _, r := range recipients {
			if err := r.Member.Deliver(payload); err != nil {
				failures = append(failures, RecipientFailure{ID: r.ID, Name: r.Member.Name(), Err: err})
				continue
			}
			report.Delivered++
		}

		if ev.Origin != nil {
			if echo, ok := e.originLine(ev); ok {
				if err := ev.Origin.Deliver([]byte(echo + "\n")); err != nil {
					failures = append(failures, RecipientFailure{ID: ev.OriginID, Name: ev.OriginName, Err: err})
				}
			}
		}

		if len(failures) > 0 {
			report.Delivery = &DeliveryError{Failures: failures}
		}

		hctx, cancel := context.WithTimeout(ctx, e.historyTimeout)
		report.HistoryErr = e.sink.Append(hctx, line)
		cancel()
	})

	if report.Delivery != nil {
		e.log.Error("delivery failed",
			logger.Field{Key: "kind", Value: ev.Kind.String()},
			logger.Field{Key: "origin_id", Value: ev.OriginID},
			logger.Field{Key: "failed", Value: len(report.Delivery.Failures)},
			logger.Err(report.Delivery),
		)
	}

	if report.HistoryErr != nil {
		e.log.Error("history append failed",
			logger.Field{Key: "kind", Value: ev.Kind.String()},
			logger.Field{Key: "origin_id", Value: ev.OriginID},
			logger.Err(report.HistoryErr),
		)
	}

	e.log.Debug("event delivered",
		logger.Field{Key: "kind", Value: ev.Kind.String()},
		logger.Field{Key: "origin_id", Value: ev.OriginID},
		logger.Field{Key: "recipients", Value: report.Recipients},
		logger.Field{Key: "delivered", Value: report.Delivered},
	)

	return report
}

// Announce delivers a lifecycle event attributed to ServerName.
func (e *Engine) Announce(ctx context.Context, kind Kind, originID uint32, name string) Report {
	return e.Deliver(ctx, Event{Kind: kind, OriginID: originID, OriginName: name})
}

// Join registers m, announces it to everyone else and sends m its welcome
// line. The welcome is queued in the same fan-out scope as the announcement,
// so it is the first line m receives.
//
// Returns:
//   - The new member id
//   - registry.ErrCapacityExceeded when full; nothing is announced
func (e *Engine) Join(ctx context.Context, m registry.Member) (uint32, error) {
	id, err := e.reg.Register(m)
	if err != nil {
		return 0, err
	}

	e.Deliver(ctx, Event{Kind: KindJoin, OriginID: id, OriginName: m.Name(), Origin: m})
	return id, nil
}

// originLine renders what the origin of ev receives: the welcome for its
// own join, or the formatter's echo for chat.
func (e *Engine) originLine(ev Event) (string, bool) {
	if ev.Kind == KindJoin {
		return e.format.Welcome(ev.OriginName), true
	}

	return e.format.Echo(ev)
}

// Leave removes id and announces the departure to the remaining members.
// Only the call that actually removes id announces, so concurrent or
// repeated calls produce a single leave line.
//
// Returns:
//   - true if this call removed the member
func (e *Engine) Leave(ctx context.Context, id uint32, name string) bool {
	if !e.reg.Remove(id) {
		return false
	}

	e.Announce(ctx, KindLeave, id, name)
	return true
}
