package pipeline

import (
	"github.com/tinybackspace/tiny-backspace/internal/domain"
)

// Sink receives pipeline events in emission order.
type Sink interface {
	Emit(event domain.Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(event domain.Event)

func (f SinkFunc) Emit(event domain.Event) { f(event) }

// MultiSink fans each event out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(event domain.Event) {
	for _, sink := range m {
		sink.Emit(event)
	}
}

// DiscardSink drops everything. Used when a caller has no consumer.
var DiscardSink = SinkFunc(func(domain.Event) {})
