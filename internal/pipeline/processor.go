// Package pipeline streams features from a source through a resolver into a
// sink in bounded chunks, keeping input order and tracking memory pressure.
package pipeline

import (
	"context"
	"runtime"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/jartic-cli/internal/feature"
)

const (
	// memoryCheckEvery is the record interval between memory samples.
	memoryCheckEvery = 100
	// collectEvery is the chunk interval between forced GC passes.
	collectEvery = 5
)

// Source produces features in file order.
type Source interface {
	Header() feature.Header
	Features(ctx context.Context) (<-chan *feature.Feature, <-chan error)
}

// Sink consumes features in the order they are written. Write must not
// retain fs after it returns.
type Sink interface {
	Write(fs []*feature.Feature) error
	Close() error
}

// SinkFactory opens a sink for the adjusted header of a source.
type SinkFactory func(header feature.Header) (Sink, error)

// Resolver turns a feature into its final geometry and sets its Meta. An
// error skips the feature.
type Resolver interface {
	Resolve(f *feature.Feature) error
}

// Options controls chunking and memory behaviour.
type Options struct {
	ChunkSize          int
	MemoryLimitPercent float64
	Verbose            bool
	LargeIntFields     []string
}

// DefaultOptions returns the standard processing options.
func DefaultOptions() Options {
	return Options{
		ChunkSize:          1000,
		MemoryLimitPercent: 80,
		LargeIntFields:     feature.DefaultLargeIntFields,
	}
}

// Validate checks option ranges.
func (o Options) Validate() error {
	if o.ChunkSize < 1 {
		return eris.Errorf("pipeline: chunk size must be positive, got %d", o.ChunkSize)
	}
	if o.MemoryLimitPercent <= 0 || o.MemoryLimitPercent > 100 {
		return eris.Errorf("pipeline: memory limit must be in (0, 100], got %.1f", o.MemoryLimitPercent)
	}
	return nil
}

// Processor runs one source through the resolver into a sink. A Processor
// is not safe for concurrent use; give every worker its own.
type Processor struct {
	opts      Options
	resolver  Resolver
	largeInts feature.LargeInts
	log       *zap.Logger

	sample  func() Memory
	collect func()
}

// NewProcessor validates opts and returns a Processor.
func NewProcessor(opts Options, resolver Resolver, log *zap.Logger) (*Processor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if resolver == nil {
		return nil, eris.New("pipeline: resolver is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		opts:      opts,
		resolver:  resolver,
		largeInts: feature.NewLargeInts(opts.LargeIntFields),
		log:       log,
		sample:    SampleMemory,
		collect:   runtime.GC,
	}, nil
}

type runState struct {
	sink   Sink
	buf    []*feature.Feature
	chunks int
}

// Run streams src into a sink opened from the adjusted header. Features
// that fail to resolve are logged, counted as skipped and left out of the
// output. Buffered features are flushed before a read error is returned.
func (p *Processor) Run(ctx context.Context, src Source, newSink SinkFactory) (stats Stats, err error) {
	stats = NewStats()

	header := src.Header()
	header.Schema = p.largeInts.AdjustSchema(header.Schema)

	sink, err := newSink(header)
	if err != nil {
		return stats, eris.Wrap(err, "pipeline: open sink")
	}
	p.log.Debug("pipeline: sink opened",
		zap.Strings("fields", header.Schema.Names()),
		zap.Bool("crs", header.CRS != nil),
	)
	st := &runState{sink: sink, buf: make([]*feature.Feature, 0, p.opts.ChunkSize)}
	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = eris.Wrap(cerr, "pipeline: close sink")
		}
	}()

	featCh, errCh := src.Features(ctx)
	for f := range featCh {
		p.process(f)
		stats.Record(f)
		if !f.Meta.Skipped {
			st.buf = append(st.buf, f)
		}

		if len(st.buf) >= p.opts.ChunkSize {
			if err := p.flush(st); err != nil {
				drain(featCh)
				return stats, err
			}
		}
		if stats.Total%memoryCheckEvery == 0 {
			if err := p.checkMemory(st, stats.Total); err != nil {
				drain(featCh)
				return stats, err
			}
		}
	}

	if err := p.flush(st); err != nil {
		return stats, err
	}
	if err := <-errCh; err != nil {
		return stats, eris.Wrap(err, "pipeline: read source")
	}

	p.log.Info("pipeline: source complete",
		zap.Int("total", stats.Total),
		zap.Int("written", stats.Written()),
		zap.Int("invalid", stats.Invalid),
		zap.Int("fixed", stats.Fixed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("chunks", st.chunks),
	)
	return stats, nil
}

// process resolves one feature, converting errors and panics into a skip.
func (p *Processor) process(f *feature.Feature) {
	err := p.resolve(f)
	if err != nil {
		f.Meta.Skipped = true
		p.log.Warn("pipeline: skipping feature", zap.String("id", f.ID), zap.Error(err))
		return
	}
	if p.opts.Verbose {
		p.log.Debug("pipeline: feature resolved",
			zap.String("id", f.ID),
			zap.Bool("valid", f.Meta.IsValid),
			zap.String("method", f.Meta.FixMethod),
		)
	}
}

func (p *Processor) resolve(f *feature.Feature) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("pipeline: panic resolving feature: %v", r)
		}
	}()

	if n := p.largeInts.Coerce(f.Properties); n > 0 && p.opts.Verbose {
		p.log.Debug("pipeline: coerced large integers", zap.String("id", f.ID), zap.Int("fields", n))
	}
	return p.resolver.Resolve(f)
}

// flush writes the buffer as one chunk. Every fifth chunk forces a GC pass.
func (p *Processor) flush(st *runState) error {
	if len(st.buf) == 0 {
		return nil
	}
	if err := st.sink.Write(st.buf); err != nil {
		return eris.Wrap(err, "pipeline: write chunk")
	}
	clear(st.buf)
	st.buf = st.buf[:0]
	st.chunks++

	if st.chunks%collectEvery == 0 {
		p.collect()
		if p.opts.Verbose {
			mem := p.sample()
			p.log.Debug("pipeline: periodic gc",
				zap.Int("chunks", st.chunks),
				zap.Float64("rss_mb", mem.RSSMB()),
				zap.Float64("memory_percent", mem.Percent),
			)
		}
	}
	return nil
}

// checkMemory flushes early and collects when memory use is above the limit.
func (p *Processor) checkMemory(st *runState, processed int) error {
	mem := p.sample()
	if mem.Percent <= p.opts.MemoryLimitPercent {
		return nil
	}

	p.log.Warn("pipeline: memory above limit, flushing early",
		zap.Int("processed", processed),
		zap.Int("buffered", len(st.buf)),
		zap.Float64("memory_percent", mem.Percent),
		zap.Float64("limit_percent", p.opts.MemoryLimitPercent),
	)
	if err := p.flush(st); err != nil {
		return err
	}
	p.collect()
	return nil
}

// drain discards the rest of a stream so its producer can exit.
func drain(ch <-chan *feature.Feature) {
	for range ch {
	}
}
