// Package loadevents publishes a Kafka event for every tile that becomes
// resident. Events are keyed by the H3 cell of the tile's center so one
// area lands on one partition.
package loadevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/tilestream/internal/core/observability"
	h3mapper "github.com/mohammed-shakir/tilestream/internal/mapper/h3"
	"github.com/mohammed-shakir/tilestream/internal/render"
)

type Event struct {
	Table      string     `json:"table"`
	TileID     string     `json:"tile_id"`
	ContentRef string     `json:"content_ref"`
	Depth      int        `json:"depth"`
	Cell       string     `json:"cell,omitempty"`
	Region     [6]float64 `json:"region"`
	Bytes      int        `json:"bytes"`
	TS         time.Time  `json:"ts"`
}

type Options struct {
	Topic     string
	QueueSize int
	Table     string
	CRS       string
	// Mapper is optional; without it events are keyed by tile id.
	Mapper *h3mapper.Mapper
}

type Publisher struct {
	logger  *slog.Logger
	opts    Options
	events  chan Event
	prod    sarama.AsyncProducer
	stopped chan struct{}
	errDone chan struct{}
	now     func() time.Time

	// guards events against sends after Close
	mu     sync.RWMutex
	closed bool
}

var _ render.Renderer = (*Publisher)(nil)

func ProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = "tilestream"
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionZSTD
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	return cfg
}

func NewPublisher(logger *slog.Logger, brokers []string, opts Options) (*Publisher, error) {
	prod, err := sarama.NewAsyncProducer(brokers, ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("loadevents: create async producer: %w", err)
	}
	return NewWithProducer(logger, prod, opts), nil
}

// NewWithProducer takes ownership of prod; Close closes it.
func NewWithProducer(logger *slog.Logger, prod sarama.AsyncProducer, opts Options) *Publisher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		logger:  logger,
		opts:    opts,
		events:  make(chan Event, opts.QueueSize),
		prod:    prod,
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
		now:     time.Now,
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				observability.IncLoadEvent("marshal_error")
				p.logger.Warn("load event marshal failed", "tile_id", ev.TileID, "err", err)
				continue
			}
			key := ev.Cell
			if key == "" {
				key = ev.TileID
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.opts.Topic,
				Key:   sarama.StringEncoder(key),
				Value: sarama.ByteEncoder(b),
			}
			observability.IncLoadEvent("sent")
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				observability.IncLoadEvent("producer_error")
				p.logger.Warn("load event producer error", "err", err)
			}
		}
	}()

	return p
}

// AddTile queues an event for t. It never blocks the loader: when the queue
// is full the event is dropped.
func (p *Publisher) AddTile(t render.LoadedTile) {
	ev := Event{
		Table:      p.opts.Table,
		TileID:     t.ID,
		ContentRef: t.ContentRef,
		Depth:      t.Depth,
		Region:     t.Region,
		Bytes:      len(t.Geometry),
		TS:         p.now().UTC(),
	}
	if p.opts.Mapper != nil {
		cell, err := p.opts.Mapper.CellForRegion(t.Region, p.opts.CRS)
		if err != nil {
			p.logger.Debug("load event without cell", "tile_id", t.ID, "err", err)
		} else {
			ev.Cell = cell
		}
	}
	p.Publish(ev)
}

// Publish queues ev. Events published after Close are dropped.
func (p *Publisher) Publish(ev Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		observability.IncLoadEvent("dropped_closed")
		return
	}
	select {
	case p.events <- ev:
	default:
		observability.IncLoadEvent("dropped")
	}
}

// Close drains queued events into the producer and closes it. Repeated
// calls are no-ops.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()
	<-p.stopped

	err := p.prod.Close()
	<-p.errDone
	if err != nil {
		return fmt.Errorf("loadevents: close producer: %w", err)
	}
	return nil
}
