package probe

import (
	"errors"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"

	mp4 "github.com/tetsuo/mp4probe"
	"github.com/tetsuo/mp4probe/internal/mp4test"
)

func movie(samples uint32) []byte {
	w := mp4test.NewWriter()
	w.WriteMovie(mp4test.Movie{
		Timescale: 1000,
		Tracks:    []mp4test.Track{mp4test.VideoTrack(1, samples, 100, 100, 1000)},
	})
	w.WriteMdat(int(samples) * 100)
	return w.Bytes()
}

func countingParse(n *atomic.Int32) func([]byte) (*mp4.File, error) {
	return func(buf []byte) (*mp4.File, error) {
		n.Add(1)
		return mp4.Parse(buf)
	}
}

func TestCacheHit(t *testing.T) {
	c := newCache(2)
	var parses atomic.Int32
	buf := movie(10)

	f1, err := c.get(buf, countingParse(&parses))
	if err != nil {
		t.Fatal(err)
	}
	// Same content in a different slice.
	f2, err := c.get(append([]byte(nil), buf...), countingParse(&parses))
	if err != nil {
		t.Fatal(err)
	}
	if f1 != f2 {
		t.Error("second lookup returned a different file")
	}
	if parses.Load() != 1 {
		t.Errorf("parsed %d times, want 1", parses.Load())
	}
}

func TestCacheEviction(t *testing.T) {
	c := newCache(2)
	var parses atomic.Int32
	a, b, d := movie(1), movie(2), movie(3)

	for _, buf := range [][]byte{a, b, d} {
		if _, err := c.get(buf, countingParse(&parses)); err != nil {
			t.Fatal(err)
		}
	}
	if c.len() != 2 {
		t.Fatalf("len = %d, want 2", c.len())
	}
	// a was evicted, d is still cached.
	c.get(d, countingParse(&parses))
	if parses.Load() != 3 {
		t.Errorf("parsed %d times, want 3", parses.Load())
	}
	c.get(a, countingParse(&parses))
	if parses.Load() != 4 {
		t.Errorf("parsed %d times, want 4", parses.Load())
	}
}

func TestCacheSkipsFailures(t *testing.T) {
	c := newCache(4)
	var parses atomic.Int32
	buf := []byte{0, 0, 0, 8, 'f', 'r', 'e', 'e'}

	for range 2 {
		if _, err := c.get(buf, countingParse(&parses)); !errors.Is(err, mp4.ErrMissingBox) {
			t.Fatalf("get() error = %v, want ErrMissingBox", err)
		}
	}
	if c.len() != 0 {
		t.Errorf("len = %d, want 0", c.len())
	}
	if parses.Load() != 2 {
		t.Errorf("parsed %d times, want 2", parses.Load())
	}
}

func TestProberConcurrentQueries(t *testing.T) {
	p := New(WithCacheSize(4))
	buf := movie(10)

	var g errgroup.Group
	for range 16 {
		g.Go(func() error {
			samples, err := p.Samples(buf)
			if err != nil {
				return err
			}
			if len(samples) != 1 || len(samples[0].Samples) != 10 {
				return errors.New("unexpected sample count")
			}
			_, err = p.ListTracks(buf)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if p.cache.len() != 1 {
		t.Errorf("cache holds %d files, want 1", p.cache.len())
	}
}
