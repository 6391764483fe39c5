package shm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	internalshm "github.com/srediag/shm-atomics/internal/shm"
	"github.com/srediag/shm-atomics/pkg/atomics"
)

type SegmentTestSuite struct {
	suite.Suite
	opts OpenOptions
}

func TestSegmentTestSuite(t *testing.T) {
	suite.Run(t, new(SegmentTestSuite))
}

func (s *SegmentTestSuite) SetupTest() {
	s.opts = OpenOptions{
		Name:        fmt.Sprintf("segment-%d", time.Now().UnixNano()),
		Size:        4096,
		Create:      true,
		Dir:         s.T().TempDir(),
		InitTimeout: 50 * time.Millisecond,
	}
}

func (s *SegmentTestSuite) TearDownTest() {
	s.Require().NoError(internalshm.RemoveRegion(internalshm.MapOptions{Name: s.opts.Name, Dir: s.opts.Dir}))
}

func (s *SegmentTestSuite) peerOptions() OpenOptions {
	o := s.opts
	o.Create = false
	o.Size = 0
	return o
}

func (s *SegmentTestSuite) TestCreateAndAttach() {
	ctx := context.Background()
	owner, err := Open(ctx, s.opts)
	s.Require().NoError(err)
	s.Equal(HeaderSize, owner.Used())
	s.Equal(1, owner.Attached())

	peer, err := Open(ctx, s.peerOptions())
	s.Require().NoError(err)
	s.Equal(2, owner.Attached())
	s.Equal(owner.Size(), peer.Size())

	off, err := owner.Alloc(8)
	s.Require().NoError(err)
	s.Equal(HeaderSize, off)

	a, err := owner.Uint64(off)
	s.Require().NoError(err)
	b, err := peer.Uint64(off)
	s.Require().NoError(err)
	atomics.Store(a, 41, atomics.Release)
	s.Equal(uint64(42), atomics.Increment(b, atomics.AcqRel))
	s.Equal(uint64(42), atomics.Load(a, atomics.Acquire))

	s.NoError(peer.Close())
	s.Equal(1, owner.Attached())
	s.ErrorIs(peer.Close(), ErrClosed)
	s.NoError(owner.Close())

	_, err = os.Stat(filepath.Join(s.opts.Dir, s.opts.Name))
	s.True(errors.Is(err, os.ErrNotExist), "backing file left behind: %v", err)
	_, err = Open(ctx, s.peerOptions())
	s.True(errors.Is(err, os.ErrNotExist), "region still opens: %v", err)
}

func (s *SegmentTestSuite) TestCreatorKeepsRegionWhilePeersAttached() {
	ctx := context.Background()
	owner, err := Open(ctx, s.opts)
	s.Require().NoError(err)
	peer, err := Open(ctx, s.peerOptions())
	s.Require().NoError(err)

	s.NoError(owner.Close())
	again, err := Open(ctx, s.peerOptions())
	s.Require().NoError(err)
	s.Equal(2, again.Attached())
	s.NoError(again.Close())
	s.NoError(peer.Close())
}

func (s *SegmentTestSuite) TestAccessAfterClose() {
	seg, err := Open(context.Background(), s.opts)
	s.Require().NoError(err)
	off, err := seg.Alloc(8)
	s.Require().NoError(err)
	s.Require().NoError(seg.Close())

	s.Equal(0, seg.Used())
	s.Equal(0, seg.Attached())
	s.Equal(0, seg.Size())
	_, err = seg.Alloc(8)
	s.ErrorIs(err, ErrClosed)
	_, err = seg.Uint64(off)
	s.ErrorIs(err, ErrClosed)
	_, err = seg.Uint32(off)
	s.ErrorIs(err, ErrClosed)
	s.ErrorIs(seg.Close(), ErrClosed)
}

func (s *SegmentTestSuite) TestCloseWaitsForAllocators() {
	seg, err := Open(context.Background(), s.opts)
	s.Require().NoError(err)

	const workers = 8
	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
	)
	errs := make(chan error, workers)
	started.Add(workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			for {
				_, err := seg.Alloc(1)
				if err != nil {
					errs <- err
					return
				}
				_ = seg.Used()
				_ = seg.Attached()
			}
		}()
	}
	started.Wait()
	s.NoError(seg.Close())
	wg.Wait()
	close(errs)
	for err := range errs {
		s.True(errors.Is(err, ErrClosed) || errors.Is(err, ErrSegmentFull), "unexpected %v", err)
	}
}

func (s *SegmentTestSuite) TestAllocRoundsAndFills() {
	s.opts.Size = HeaderSize + 32
	seg, err := Open(context.Background(), s.opts)
	s.Require().NoError(err)
	defer seg.Close()

	first, err := seg.Alloc(1)
	s.Require().NoError(err)
	second, err := seg.Alloc(4)
	s.Require().NoError(err)
	s.Equal(8, second-first)

	_, err = seg.Alloc(16)
	s.Require().NoError(err)
	_, err = seg.Alloc(8)
	s.ErrorIs(err, ErrSegmentFull)
	s.Equal(HeaderSize+32, seg.Used())

	_, err = seg.Alloc(0)
	s.Error(err)
}

func (s *SegmentTestSuite) TestConcurrentAllocIsDisjoint() {
	seg, err := Open(context.Background(), s.opts)
	s.Require().NoError(err)
	defer seg.Close()

	const workers, each = 8, 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int]bool{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				off, err := seg.Alloc(8)
				if err != nil {
					s.Fail("alloc", err.Error())
					return
				}
				mu.Lock()
				seen[off] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Len(seen, workers*each)
	s.Equal(HeaderSize+workers*each*8, seg.Used())
}

func (s *SegmentTestSuite) TestHeaderCellsAreProtected() {
	seg, err := Open(context.Background(), s.opts)
	s.Require().NoError(err)
	defer seg.Close()

	_, err = seg.Uint32(0)
	s.ErrorIs(err, internalshm.ErrOutOfRange)
	_, err = seg.Uint64(seg.Size())
	s.ErrorIs(err, internalshm.ErrOutOfRange)
	_, err = seg.Uint64(HeaderSize + 4)
	s.ErrorIs(err, internalshm.ErrMisaligned)
}

func (s *SegmentTestSuite) TestOpenWaitsForHeader() {
	ctx := context.Background()
	region, err := internalshm.MapRegion(ctx, internalshm.MapOptions{
		Name: s.opts.Name, Size: s.opts.Size, Create: true, Dir: s.opts.Dir,
	})
	s.Require().NoError(err)
	defer internalshm.UnmapRegion(ctx, region)

	_, err = Open(ctx, s.peerOptions())
	s.ErrorIs(err, ErrNotInitialized)

	magic, err := region.Uint32At(magicOffset)
	s.Require().NoError(err)
	version, err := region.Uint32At(versionOffset)
	s.Require().NoError(err)
	atomics.Store(version, segmentVersion+1, atomics.Relaxed)
	atomics.Store(magic, segmentMagic, atomics.Release)

	_, err = Open(ctx, s.peerOptions())
	s.ErrorIs(err, ErrVersionMismatch)
}

func (s *SegmentTestSuite) TestInvalidSize() {
	s.opts.Size = HeaderSize
	_, err := Open(context.Background(), s.opts)
	s.True(errors.Is(err, ErrInvalidSize))
}
