package shm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	internalshm "github.com/srediag/shm-atomics/internal/shm"
	"github.com/srediag/shm-atomics/internal/logging"
	"github.com/srediag/shm-atomics/pkg/atomics"
)

const (
	segmentMagic   uint32 = 0x41544d53 // "SMTA"
	segmentVersion uint32 = 1

	magicOffset    = 0
	versionOffset  = 4
	sizeOffset     = 8
	cursorOffset   = 16
	attachedOffset = 24

	// HeaderSize is reserved at the start of every segment.
	HeaderSize = 64

	cellAlign = 8

	instrumentationName = "github.com/srediag/shm-atomics/pkg/shm"
)

var (
	ErrInvalidSize     = errors.New("shm: segment size must exceed the header")
	ErrSegmentFull     = errors.New("shm: no space left in segment")
	ErrNotInitialized  = errors.New("shm: segment header was not published")
	ErrVersionMismatch = errors.New("shm: segment version mismatch")
	ErrClosed          = errors.New("shm: segment is closed")

	internalLogger = logging.New("shm", nil)
)

// OpenOptions defines options for creating or opening a segment.
type OpenOptions struct {
	// Name is the identifier for the shared memory region.
	Name string
	// Size is the total segment size in bytes, header included. Ignored on open.
	Size int
	// Create indicates whether to create the segment or open an existing one.
	Create bool
	// Dir overrides the directory backing named regions.
	Dir string
	// InitTimeout bounds how long Open waits for the creator's header.
	InitTimeout time.Duration
	Meter       metric.Meter
	Tracer      trace.Tracer
}

// Segment is a mapped shared memory region holding atomic cells.
type Segment struct {
	region *internalshm.MappedRegion
	opts   OpenOptions

	magic    *uint32
	size     *uint64
	cursor   *uint64
	attached *uint32

	tracer trace.Tracer
	allocs metric.Int64Counter

	// mu is held for reading while the mapping is dereferenced and for
	// writing while it is torn down.
	mu     sync.RWMutex
	closed bool
}

// Open creates or opens a segment with the given options.
func Open(ctx context.Context, opts OpenOptions) (*Segment, error) {
	if opts.Create && opts.Size <= HeaderSize {
		return nil, ErrInvalidSize
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = time.Second
	}
	if opts.Meter == nil {
		opts.Meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	if opts.Tracer == nil {
		opts.Tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	ctx, span := opts.Tracer.Start(ctx, "shm.Open", trace.WithAttributes(
		attribute.String("shm.name", opts.Name),
		attribute.Bool("shm.create", opts.Create),
	))
	defer span.End()

	allocs, err := opts.Meter.Int64Counter("shm_atomics.segment.allocations",
		metric.WithDescription("Cells reserved in shared memory segments."))
	if err != nil {
		return nil, fmt.Errorf("shm: counter: %w", err)
	}

	region, err := internalshm.MapRegion(ctx, internalshm.MapOptions{
		Name:   opts.Name,
		Size:   opts.Size,
		Create: opts.Create,
		Dir:    opts.Dir,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s := &Segment{region: region, opts: opts, tracer: opts.Tracer, allocs: allocs}
	if err := s.bind(); err != nil {
		_ = internalshm.UnmapRegion(ctx, region)
		return nil, err
	}
	if opts.Create {
		s.publish()
	} else if err := s.awaitPublished(ctx); err != nil {
		span.RecordError(err)
		_ = internalshm.UnmapRegion(ctx, region)
		return nil, err
	}
	n := atomics.Increment(s.attached, atomics.AcqRel)
	internalLogger.Debugf("segment %s mapped, %d bytes, %d attached", opts.Name, region.Size(), n)
	return s, nil
}

func (s *Segment) bind() error {
	if s.region.Size() <= HeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidSize, s.region.Size())
	}
	var err error
	if s.magic, err = s.region.Uint32At(magicOffset); err != nil {
		return err
	}
	if s.size, err = s.region.Uint64At(sizeOffset); err != nil {
		return err
	}
	if s.cursor, err = s.region.Uint64At(cursorOffset); err != nil {
		return err
	}
	s.attached, err = s.region.Uint32At(attachedOffset)
	return err
}

// publish fills the header and releases it to openers through the magic word.
func (s *Segment) publish() {
	version, _ := s.region.Uint32At(versionOffset)
	atomics.Store(version, segmentVersion, atomics.Relaxed)
	atomics.Store(s.size, uint64(s.region.Size()), atomics.Relaxed)
	atomics.Store(s.cursor, HeaderSize, atomics.Relaxed)
	atomics.Store(s.magic, segmentMagic, atomics.Release)
}

// awaitPublished polls the magic word until the creator has published the
// header, then checks the version.
func (s *Segment) awaitPublished(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	b.MaxElapsedTime = s.opts.InitTimeout
	err := backoff.Retry(func() error {
		if atomics.Load(s.magic, atomics.Acquire) != segmentMagic {
			return ErrNotInitialized
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return fmt.Errorf("open %s: %w", s.opts.Name, err)
	}
	version, _ := s.region.Uint32At(versionOffset)
	if v := atomics.Load(version, atomics.Relaxed); v != segmentVersion {
		return fmt.Errorf("%w: have %d, want %d", ErrVersionMismatch, v, segmentVersion)
	}
	return nil
}

// Alloc reserves size bytes, rounded up to 8, and returns their offset.
func (s *Segment) Alloc(size int) (int, error) {
	if size <= 0 {
		return 0, fmt.Errorf("shm: alloc of %d bytes", size)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	n := uint64(size+cellAlign-1) &^ (cellAlign - 1)
	limit := atomics.Load(s.size, atomics.Relaxed)
	cur := atomics.Load(s.cursor, atomics.Acquire)
	for {
		next := cur + n
		if next > limit {
			return 0, fmt.Errorf("%w: want %d, have %d", ErrSegmentFull, n, limit-cur)
		}
		seen, ok := atomics.CompareExchange(s.cursor, next, cur, atomics.AcqRel, atomics.Acquire)
		if ok {
			s.allocs.Add(context.Background(), 1, metric.WithAttributes(attribute.String("shm.name", s.opts.Name)))
			return int(cur), nil
		}
		cur = seen
	}
}

// Uint32 returns the 32-bit cell at off. The cell is valid until Close.
func (s *Segment) Uint32(off int) (*uint32, error) {
	if off < HeaderSize {
		return nil, fmt.Errorf("%w: offset %d is inside the header", internalshm.ErrOutOfRange, off)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.region.Uint32At(off)
}

// Uint64 returns the 64-bit cell at off. The cell is valid until Close.
func (s *Segment) Uint64(off int) (*uint64, error) {
	if off < HeaderSize {
		return nil, fmt.Errorf("%w: offset %d is inside the header", internalshm.ErrOutOfRange, off)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.region.Uint64At(off)
}

// Used returns the number of bytes reserved, header included, or 0 once closed.
func (s *Segment) Used() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return int(atomics.Load(s.cursor, atomics.Acquire))
}

// Size returns the total size of the segment, or 0 once closed.
func (s *Segment) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.region.Size()
}

// Attached returns how many open Segments refer to the region, across
// processes, or 0 once this one is closed.
func (s *Segment) Attached() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return int(atomics.Load(s.attached, atomics.Acquire))
}

// Name returns the segment name.
func (s *Segment) Name() string {
	return s.opts.Name
}

// Close detaches and unmaps the segment once in-flight calls have returned.
// The last Close by the creator also removes the backing region.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	ctx, span := s.tracer.Start(context.Background(), "shm.Close", trace.WithAttributes(
		attribute.String("shm.name", s.opts.Name),
	))
	defer span.End()

	left := atomics.Decrement(s.attached, atomics.AcqRel)
	created := s.region.Created()
	s.magic, s.size, s.cursor, s.attached = nil, nil, nil, nil
	if err := internalshm.UnmapRegion(ctx, s.region); err != nil {
		span.RecordError(err)
		return err
	}
	internalLogger.Debugf("segment %s unmapped, %d still attached", s.opts.Name, left)
	if created && left == 0 {
		return s.Remove()
	}
	return nil
}

// Remove deletes the backing region. Mappings stay valid until closed.
func (s *Segment) Remove() error {
	return Remove(s.opts.Name, s.opts.Dir)
}

// Remove deletes the named region in dir, or in the default directory when
// dir is empty. Removing a missing region is not an error.
func Remove(name, dir string) error {
	return internalshm.RemoveRegion(internalshm.MapOptions{Name: name, Dir: dir})
}
