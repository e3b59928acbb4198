package stbl_test

import (
	"errors"
	"testing"

	mp4 "github.com/tetsuo/mp4probe"
	"github.com/tetsuo/mp4probe/internal/mp4test"
	"github.com/tetsuo/mp4probe/stbl"
)

func buildStbl(t *testing.T, body func(w *mp4test.Writer)) *mp4.Box {
	t.Helper()
	w := mp4test.NewWriter()
	w.StartBox(mp4.TypeStbl)
	w.StartFullBox(mp4.TypeStsd, 0, 0)
	w.U32(0)
	w.EndBox()
	body(w)
	w.EndBox()

	box, err := mp4.Decode(w.Bytes(), 0, w.Len())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return box
}

func uniformTable(t *testing.T) *stbl.Table {
	t.Helper()
	box := buildStbl(t, func(w *mp4test.Writer) {
		w.WriteStts([]mp4.SttsEntry{{Count: 10, Duration: 100}})
		w.WriteStsc([]mp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: 10, SampleDescriptionID: 1}})
		w.WriteStsz(1000, 10, nil)
		w.WriteStco([]uint32{48})
	})
	tbl, err := stbl.New(box)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tbl
}

func TestUniformTable(t *testing.T) {
	tbl := uniformTable(t)

	if tbl.SampleCount() != 10 {
		t.Fatalf("SampleCount() = %d, want 10", tbl.SampleCount())
	}
	if tbl.TotalSize() != 10000 {
		t.Errorf("TotalSize() = %d, want 10000", tbl.TotalSize())
	}
	if tbl.Duration() != 1000 {
		t.Errorf("Duration() = %d, want 1000", tbl.Duration())
	}
	if tbl.HasSyncTable() {
		t.Error("HasSyncTable() = true without stss")
	}

	samples, err := tbl.Samples()
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	for i, s := range samples {
		if s.StartTime != uint64(i*100) {
			t.Errorf("sample %d: StartTime = %d, want %d", i+1, s.StartTime, i*100)
		}
		if s.Duration != 100 || s.Size != 1000 || !s.IsSync || s.RenderingOffset != 0 {
			t.Errorf("sample %d: %+v", i+1, s)
		}
		if s.Offset != uint64(48+i*1000) {
			t.Errorf("sample %d: Offset = %d, want %d", i+1, s.Offset, 48+i*1000)
		}
	}
}

func TestSampleMatchesSamples(t *testing.T) {
	box := buildStbl(t, func(w *mp4test.Writer) {
		w.WriteStts([]mp4.SttsEntry{{Count: 2, Duration: 10}, {Count: 3, Duration: 20}, {Count: 1, Duration: 5}})
		w.WriteCtts([]mp4.CttsEntry{{Count: 1, Offset: 20}, {Count: 2, Offset: -10}, {Count: 3, Offset: 0}})
		w.WriteStss([]uint32{1, 4})
		w.WriteStsc([]mp4.StscEntry{
			{FirstChunk: 1, SamplesPerChunk: 2, SampleDescriptionID: 1},
			{FirstChunk: 3, SamplesPerChunk: 1, SampleDescriptionID: 2},
		})
		w.WriteStsz(0, 0, []uint32{10, 20, 30, 40, 50, 60})
		w.WriteCo64([]uint64{100, 200, 300, 400})
	})
	tbl, err := stbl.New(box)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	want := []stbl.Sample{
		{StartTime: 0, Duration: 10, RenderingOffset: 20, IsSync: true, Size: 10, Offset: 100, DescriptionIndex: 1},
		{StartTime: 10, Duration: 10, RenderingOffset: -10, Size: 20, Offset: 110, DescriptionIndex: 1},
		{StartTime: 20, Duration: 20, RenderingOffset: -10, Size: 30, Offset: 200, DescriptionIndex: 1},
		{StartTime: 40, Duration: 20, IsSync: true, Size: 40, Offset: 230, DescriptionIndex: 1},
		{StartTime: 60, Duration: 20, Size: 50, Offset: 300, DescriptionIndex: 2},
		{StartTime: 80, Duration: 5, Size: 60, Offset: 400, DescriptionIndex: 2},
	}

	all, err := tbl.Samples()
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	if len(all) != len(want) {
		t.Fatalf("got %d samples, want %d", len(all), len(want))
	}
	for i := range want {
		if all[i] != want[i] {
			t.Errorf("Samples()[%d] = %+v, want %+v", i, all[i], want[i])
		}
	}

	// Random access, out of order on purpose.
	for _, n := range []uint32{6, 1, 4, 5, 2, 3} {
		s, err := tbl.Sample(n)
		if err != nil {
			t.Fatalf("Sample(%d): %v", n, err)
		}
		if s != want[n-1] {
			t.Errorf("Sample(%d) = %+v, want %+v", n, s, want[n-1])
		}
	}

	chunk, off, size, desc, err := tbl.Location(4)
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	if chunk != 2 || off != 230 || size != 40 || desc != 1 {
		t.Errorf("Location(4) = chunk %d off %d size %d desc %d", chunk, off, size, desc)
	}
}

func TestStartTimesRoundTrip(t *testing.T) {
	deltas := []mp4.SttsEntry{{Count: 4, Duration: 1001}, {Count: 1, Duration: 2002}, {Count: 5, Duration: 1001}}
	box := buildStbl(t, func(w *mp4test.Writer) {
		w.WriteStts(deltas)
		w.WriteStsc([]mp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: 10, SampleDescriptionID: 1}})
		w.WriteStsz(1, 10, nil)
		w.WriteStco([]uint32{0})
	})
	tbl, err := stbl.New(box)
	if err != nil {
		t.Fatal(err)
	}
	samples, err := tbl.Samples()
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].StartTime <= samples[i-1].StartTime {
			t.Fatalf("start time not increasing at sample %d", i+1)
		}
		if d := samples[i].StartTime - samples[i-1].StartTime; d != uint64(samples[i-1].Duration) {
			t.Errorf("sample %d: start delta %d, duration %d", i, d, samples[i-1].Duration)
		}
	}
	last := samples[len(samples)-1]
	if last.StartTime+uint64(last.Duration) != tbl.Duration() {
		t.Errorf("end %d, Duration() %d", last.StartTime+uint64(last.Duration), tbl.Duration())
	}
}

func TestTableErrors(t *testing.T) {
	tests := []struct {
		name string
		body func(w *mp4test.Writer)
		want error
	}{
		{
			name: "stts shorter than stsz",
			body: func(w *mp4test.Writer) {
				w.WriteStts([]mp4.SttsEntry{{Count: 9, Duration: 100}})
				w.WriteStsc([]mp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: 10, SampleDescriptionID: 1}})
				w.WriteStsz(1000, 10, nil)
				w.WriteStco([]uint32{0})
			},
			want: mp4.ErrInconsistentSampleTable,
		},
		{
			name: "ctts shorter than samples",
			body: func(w *mp4test.Writer) {
				w.WriteStts([]mp4.SttsEntry{{Count: 2, Duration: 100}})
				w.WriteCtts([]mp4.CttsEntry{{Count: 1, Offset: 5}})
				w.WriteStsc([]mp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: 2, SampleDescriptionID: 1}})
				w.WriteStsz(10, 2, nil)
				w.WriteStco([]uint32{0})
			},
			want: mp4.ErrInconsistentSampleTable,
		},
		{
			name: "no chunk offsets",
			body: func(w *mp4test.Writer) {
				w.WriteStts([]mp4.SttsEntry{{Count: 1, Duration: 100}})
				w.WriteStsc([]mp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: 1, SampleDescriptionID: 1}})
				w.WriteStsz(10, 1, nil)
			},
			want: mp4.ErrMissingBox,
		},
		{
			name: "no stts",
			body: func(w *mp4test.Writer) {
				w.WriteStsc([]mp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: 1, SampleDescriptionID: 1}})
				w.WriteStsz(10, 1, nil)
				w.WriteStco([]uint32{0})
			},
			want: mp4.ErrMissingBox,
		},
		{
			name: "stsc chunks out of order",
			body: func(w *mp4test.Writer) {
				w.WriteStts([]mp4.SttsEntry{{Count: 2, Duration: 100}})
				w.WriteStsc([]mp4.StscEntry{
					{FirstChunk: 2, SamplesPerChunk: 1, SampleDescriptionID: 1},
					{FirstChunk: 1, SamplesPerChunk: 1, SampleDescriptionID: 1},
				})
				w.WriteStsz(10, 2, nil)
				w.WriteStco([]uint32{0, 10})
			},
			want: mp4.ErrInconsistentSampleTable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := stbl.New(buildStbl(t, tt.body))
			if !errors.Is(err, tt.want) {
				t.Fatalf("New() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestChunkOverrun(t *testing.T) {
	// stsc claims more chunks than stco lists.
	box := buildStbl(t, func(w *mp4test.Writer) {
		w.WriteStts([]mp4.SttsEntry{{Count: 3, Duration: 1}})
		w.WriteStsc([]mp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: 1, SampleDescriptionID: 1}})
		w.WriteStsz(1, 3, nil)
		w.WriteStco([]uint32{0, 1})
	})
	tbl, err := stbl.New(box)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.Samples(); !errors.Is(err, mp4.ErrInconsistentSampleTable) {
		t.Errorf("Samples() error = %v, want ErrInconsistentSampleTable", err)
	}
	if _, err := tbl.Sample(3); !errors.Is(err, mp4.ErrInconsistentSampleTable) {
		t.Errorf("Sample(3) error = %v, want ErrInconsistentSampleTable", err)
	}
}

func TestCheckBounds(t *testing.T) {
	// Chunks of 2, 1 and 3 samples.
	sized := func(offsets []uint32) func(w *mp4test.Writer) {
		return func(w *mp4test.Writer) {
			w.WriteStts([]mp4.SttsEntry{{Count: 6, Duration: 10}})
			w.WriteStsc([]mp4.StscEntry{
				{FirstChunk: 1, SamplesPerChunk: 2, SampleDescriptionID: 1},
				{FirstChunk: 2, SamplesPerChunk: 1, SampleDescriptionID: 1},
				{FirstChunk: 3, SamplesPerChunk: 3, SampleDescriptionID: 1},
			})
			w.WriteStsz(0, 6, []uint32{10, 20, 30, 40, 50, 60})
			w.WriteStco(offsets)
		}
	}
	tests := []struct {
		name string
		body func(w *mp4test.Writer)
		size uint64
		ok   bool
	}{
		{"exact fit", sized([]uint32{0, 30, 70}), 220, true},
		{"last chunk past end", sized([]uint32{0, 30, 71}), 220, false},
		{"first chunk past end", sized([]uint32{200, 0, 0}), 220, false},
		{"total past end", sized([]uint32{0, 0, 0}), 200, false},
		{"uniform fit", func(w *mp4test.Writer) {
			w.WriteStts([]mp4.SttsEntry{{Count: 10, Duration: 100}})
			w.WriteStsc([]mp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: 10, SampleDescriptionID: 1}})
			w.WriteStsz(1000, 10, nil)
			w.WriteStco([]uint32{48})
		}, 10048, true},
		{"declared count past end", func(w *mp4test.Writer) {
			w.WriteStts([]mp4.SttsEntry{{Count: 1 << 22, Duration: 1}})
			w.WriteStsc([]mp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: 1 << 22, SampleDescriptionID: 1}})
			w.WriteStsz(1, 1<<22, nil)
			w.WriteStco([]uint32{0})
		}, 593, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl, err := stbl.New(buildStbl(t, tt.body))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			err = tbl.CheckBounds(tt.size)
			if tt.ok && err != nil {
				t.Errorf("CheckBounds(%d) = %v", tt.size, err)
			}
			if !tt.ok && !errors.Is(err, mp4.ErrInconsistentSampleTable) {
				t.Errorf("CheckBounds(%d) = %v, want ErrInconsistentSampleTable", tt.size, err)
			}
		})
	}
}

func TestSampleOutOfRange(t *testing.T) {
	tbl := uniformTable(t)
	for _, n := range []uint32{0, 11} {
		if _, err := tbl.Sample(n); !errors.Is(err, mp4.ErrSampleOutOfRange) {
			t.Errorf("Sample(%d) error = %v, want ErrSampleOutOfRange", n, err)
		}
	}
}

func BenchmarkSamples(b *testing.B) {
	w := mp4test.NewWriter()
	w.StartBox(mp4.TypeStbl)
	w.StartFullBox(mp4.TypeStsd, 0, 0)
	w.U32(0)
	w.EndBox()
	const n = 100000
	sizes := make([]uint32, n)
	for i := range sizes {
		sizes[i] = uint32(100 + i%50)
	}
	w.WriteStts([]mp4.SttsEntry{{Count: n, Duration: 1001}})
	w.WriteStsc([]mp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: 10, SampleDescriptionID: 1}})
	w.WriteStsz(0, 0, sizes)
	offsets := make([]uint32, n/10)
	for i := range offsets {
		offsets[i] = uint32(i * 2000)
	}
	w.WriteStco(offsets)
	w.EndBox()

	box, err := mp4.Decode(w.Bytes(), 0, w.Len())
	if err != nil {
		b.Fatal(err)
	}

	for b.Loop() {
		tbl, err := stbl.New(box)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := tbl.Samples(); err != nil {
			b.Fatal(err)
		}
	}
}
