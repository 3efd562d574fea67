package es

import (
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// IDGenerator is a function that generates unique IDs for event records.
type IDGenerator func() string

// DefaultIDGenerator returns the default ID generator using nanoid.
func DefaultIDGenerator() IDGenerator {
	return func() string { return gonanoid.Must() }
}

type (
	valueOption[T any] struct{ v T }

	LogOption         valueOption[*slog.Logger]
	CodecOption       valueOption[Codec]
	IDGeneratorOption valueOption[IDGenerator]
	ClockOption       valueOption[func() time.Time]
	MetricsOption     valueOption[ESMetrics]

	options struct {
		log     *slog.Logger
		codec   Codec
		newID   IDGenerator
		now     func() time.Time
		metrics ESMetrics
	}

	// Option configures a core component (Store, Publisher, Corrector,
	// MementoStore, Repository).
	Option interface {
		applyTo(*options)
	}
)

func WithLog(l *slog.Logger) LogOption { return LogOption{v: l} }
func WithCodec(c Codec) CodecOption    { return CodecOption{v: c} }

// WithIDGenerator sets a custom ID generator for event record IDs.
func WithIDGenerator(gen IDGenerator) IDGeneratorOption { return IDGeneratorOption{v: gen} }

// WithClock sets the time source used to stamp RaisedAt.
func WithClock(now func() time.Time) ClockOption { return ClockOption{v: now} }

// WithMetrics sets the metrics implementation for core components.
func WithMetrics(m ESMetrics) MetricsOption { return MetricsOption{v: m} }

func (o LogOption) applyTo(opts *options)         { opts.log = o.v }
func (o CodecOption) applyTo(opts *options)       { opts.codec = o.v }
func (o IDGeneratorOption) applyTo(opts *options) { opts.newID = o.v }
func (o ClockOption) applyTo(opts *options)       { opts.now = o.v }
func (o MetricsOption) applyTo(opts *options)     { opts.metrics = o.v }

func newOptions(opts ...Option) options {
	options := options{
		log:     slog.Default(),
		codec:   JSONCodec{},
		newID:   DefaultIDGenerator(),
		now:     time.Now,
		metrics: NopESMetrics(),
	}
	for _, opt := range opts {
		opt.applyTo(&options)
	}
	return options
}
