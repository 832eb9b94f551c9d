// Package telemetry traces machines with OpenTelemetry. Every resolved event
// becomes a span; actions are recorded as span events.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	hsm "github.com/stateforward/hsm-engine"
)

const instrumentation = "github.com/stateforward/hsm-engine"

// Provider is a TracerProvider that records nothing. It is the default when
// no provider is given.
type Provider struct {
	trace.TracerProvider
}

var (
	provider    = &Provider{}
	tracer      = &Tracer{}
	span        = &Span{}
	spanContext = trace.SpanContext{}
)

func NewProvider() *Provider {
	return provider
}

func (provider *Provider) Tracer(name string, options ...trace.TracerOption) trace.Tracer {
	return tracer
}

type Tracer struct {
	trace.Tracer
}

func (tracer *Tracer) Start(ctx context.Context, name string, options ...trace.SpanStartOption) (context.Context, trace.Span) {
	return ctx, span
}

type Span struct {
	trace.Span
}

func (span *Span) End(options ...trace.SpanEndOption)                  {}
func (span *Span) AddEvent(name string, options ...trace.EventOption)  {}
func (span *Span) AddLink(link trace.Link)                             {}
func (span *Span) IsRecording() bool                                   { return false }
func (span *Span) RecordError(err error, options ...trace.EventOption) {}
func (span *Span) SetAttributes(kv ...attribute.KeyValue)              {}
func (span *Span) SetName(name string)                                 {}
func (span *Span) SetStatus(code codes.Code, description string)       {}
func (span *Span) SpanContext() trace.SpanContext                      { return spanContext }
func (span *Span) TracerProvider() trace.TracerProvider                { return provider }

// Global returns the provider registered with otel.SetTracerProvider.
func Global() trace.TracerProvider {
	return otel.GetTracerProvider()
}

// Observer turns machine notifications into spans. One span is open per
// machine at a time because a machine resolves one event at a time.
type Observer struct {
	tracer trace.Tracer
	mu     sync.Mutex
	spans  map[*hsm.Machine]trace.Span
}

func NewObserver(maybeProvider ...trace.TracerProvider) *Observer {
	var tp trace.TracerProvider = NewProvider()
	if len(maybeProvider) > 0 && maybeProvider[0] != nil {
		tp = maybeProvider[0]
	}
	return &Observer{
		tracer: tp.Tracer(instrumentation),
		spans:  map[*hsm.Machine]trace.Span{},
	}
}

func (o *Observer) Notify(n hsm.Notification) {
	switch n.Signal {
	case hsm.SignalStart, hsm.SignalTerminate:
		_, s := o.tracer.Start(context.Background(), "hsm."+n.Signal.String(), trace.WithAttributes(machineAttributes(n)...))
		s.End()
	case hsm.SignalTransitionBegin:
		_, s := o.tracer.Start(context.Background(), "hsm.transition "+string(n.Event),
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(machineAttributes(n)...),
		)
		o.mu.Lock()
		o.spans[n.Machine] = s
		o.mu.Unlock()
	case hsm.SignalBeforeAction, hsm.SignalAfterAction, hsm.SignalActionException:
		s := o.current(n.Machine)
		if s == nil {
			return
		}
		attrs := []attribute.KeyValue{
			attribute.String("hsm.action", n.Action),
			attribute.Int("hsm.action.position", n.Position),
			attribute.Int("hsm.action.total", n.Total),
		}
		if n.Signal == hsm.SignalAfterAction {
			attrs = append(attrs, attribute.Int64("hsm.action.duration_ns", n.Duration.Nanoseconds()), attribute.Bool("hsm.action.skipped", n.Skipped))
		}
		s.AddEvent(n.Signal.String(), trace.WithAttributes(attrs...))
		if n.Err != nil && n.Signal == hsm.SignalActionException {
			s.RecordError(n.Err)
		}
	case hsm.SignalTransitionDeclined:
		if s := o.current(n.Machine); s != nil {
			s.SetAttributes(attribute.Bool("hsm.declined", true))
		}
	case hsm.SignalTransitionComplete:
		if s := o.current(n.Machine); s != nil {
			s.SetAttributes(attribute.String("hsm.to", n.To))
			s.SetStatus(codes.Ok, "")
		}
	case hsm.SignalTransitionException:
		if s := o.current(n.Machine); s != nil {
			s.RecordError(n.Err)
			s.SetStatus(codes.Error, n.Err.Error())
		}
	case hsm.SignalTransitionEnd:
		o.mu.Lock()
		s, ok := o.spans[n.Machine]
		delete(o.spans, n.Machine)
		o.mu.Unlock()
		if ok {
			s.End()
		}
	}
}

func (o *Observer) current(m *hsm.Machine) trace.Span {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.spans[m]
}

func machineAttributes(n hsm.Notification) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("hsm.from", n.From),
		attribute.String("hsm.event", string(n.Event)),
	}
	if n.Machine != nil {
		attrs = append(attrs,
			attribute.String("hsm.machine.id", n.Machine.ID()),
			attribute.String("hsm.machine.name", n.Machine.Name()),
		)
	}
	return attrs
}
