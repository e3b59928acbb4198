package fragment_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Eyevinn/mp4ff/mp4"

	mp4probe "github.com/tetsuo/mp4probe"
	"github.com/tetsuo/mp4probe/fragment"
	"github.com/tetsuo/mp4probe/internal/mp4test"
	"github.com/tetsuo/mp4probe/stbl"
)

const aacLC = 2

// encodeFragmented builds an audio-only fragmented file with mp4ff.
func encodeFragmented(t *testing.T, frags [][]mp4.FullSample) []byte {
	t.Helper()
	var buf bytes.Buffer

	initSeg := mp4.CreateEmptyInit()
	initSeg.Moov.Mvhd.NextTrackID = 2
	trak := mp4.CreateEmptyTrak(1, 48000, "audio", "eng")
	initSeg.Moov.AddChild(trak)
	initSeg.Moov.Mvex.AddChild(mp4.CreateTrex(1))
	if err := trak.SetAACDescriptor(aacLC, 48000); err != nil {
		t.Fatal(err)
	}
	ftyp := mp4.NewFtyp("isom", 0x200, []string{"isom", "iso6", "mp41"})
	if err := ftyp.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	if err := initSeg.Moov.Encode(&buf); err != nil {
		t.Fatal(err)
	}

	for i, samples := range frags {
		frag, err := mp4.CreateFragment(uint32(i+1), 1)
		if err != nil {
			t.Fatal(err)
		}
		for _, s := range samples {
			frag.AddFullSample(s)
		}
		if err := frag.Encode(&buf); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

func fullSample(decodeTime uint64, flags uint32, data []byte) mp4.FullSample {
	return mp4.FullSample{
		Data:       data,
		DecodeTime: decodeTime,
		Sample: mp4.Sample{
			Flags: flags,
			Dur:   1024,
			Size:  uint32(len(data)),
		},
	}
}

func TestRunsFromMp4ff(t *testing.T) {
	payloads := [][]byte{
		bytes.Repeat([]byte{0xa1}, 11),
		bytes.Repeat([]byte{0xa2}, 23),
		bytes.Repeat([]byte{0xa3}, 7),
		bytes.Repeat([]byte{0xa4}, 19),
	}
	buf := encodeFragmented(t, [][]mp4.FullSample{
		{
			fullSample(0, mp4.SyncSampleFlags, payloads[0]),
			fullSample(1024, mp4.NonSyncSampleFlags, payloads[1]),
		},
		{
			fullSample(2048, mp4.SyncSampleFlags, payloads[2]),
			fullSample(3072, mp4.NonSyncSampleFlags, payloads[3]),
		},
	})

	f, err := mp4probe.Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !f.Fragmented() || len(f.Moofs) != 2 {
		t.Fatalf("got %d moofs, want 2", len(f.Moofs))
	}

	samples, err := fragment.Runs(f, 1, 0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(samples) != 4 {
		t.Fatalf("got %d samples, want 4", len(samples))
	}
	for i, s := range samples {
		if s.StartTime != uint64(i*1024) || s.Duration != 1024 {
			t.Errorf("sample %d: start %d duration %d", i+1, s.StartTime, s.Duration)
		}
		if wantSync := i%2 == 0; s.IsSync != wantSync {
			t.Errorf("sample %d: IsSync = %v, want %v", i+1, s.IsSync, wantSync)
		}
		end := s.Offset + uint64(s.Size)
		if end > uint64(len(buf)) {
			t.Fatalf("sample %d: data [%d,%d) past end of file", i+1, s.Offset, end)
		}
		if !bytes.Equal(buf[s.Offset:end], payloads[i]) {
			t.Errorf("sample %d: data at offset %d does not match", i+1, s.Offset)
		}
	}

	if other, err := fragment.Runs(f, 2, 0); err != nil || len(other) != 0 {
		t.Errorf("Runs(track 2) = %d samples, %v", len(other), err)
	}
}

// TestRunsDefaults covers trex and tfhd defaults, first_sample_flags,
// implicit data bases and decode time continuation without tfdt.
func TestRunsDefaults(t *testing.T) {
	w := mp4test.NewWriter()
	w.WriteFtyp("iso6", 0)
	w.StartBox(mp4probe.TypeMoov)
	w.WriteMvhd(1000, 0, 3)
	w.StartBox(mp4probe.TypeMvex)
	w.WriteTrex(1, 1, 40, 100, 0x01010000)
	w.WriteTrex(2, 1, 1024, 8, 0)
	w.EndBox()
	w.EndBox()

	moofStart := uint64(w.Len())
	w.StartBox(mp4probe.TypeMoof)
	w.WriteMfhd(1)

	// Track 2 first: implicit base at the moof, sizes from its trex.
	w.StartBox(mp4probe.TypeTraf)
	w.WriteTfhd(0, mp4probe.Tfhd{TrackID: 2})
	w.WriteTrun(0, mp4probe.Trun{Entries: make([]mp4probe.TrunEntry, 3)})
	w.EndBox()

	// Track 1 follows the data of track 2.
	w.StartBox(mp4probe.TypeTraf)
	w.WriteTfhd(mp4probe.TfhdDefaultSampleSizePresent, mp4probe.Tfhd{TrackID: 1, DefaultSampleSize: 50})
	w.WriteTrun(mp4probe.TrunFirstSampleFlagsPresent, mp4probe.Trun{
		FirstSampleFlags: 0x02000000,
		Entries:          make([]mp4probe.TrunEntry, 2),
	})
	w.WriteTrun(mp4probe.TrunSampleDurationPresent, mp4probe.Trun{
		Entries: []mp4probe.TrunEntry{{Duration: 60}},
	})
	w.EndBox()
	w.EndBox()
	w.WriteMdat(200)

	f, err := mp4probe.Parse(w.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	samples, err := fragment.Runs(f, 1, 500)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}

	base := moofStart + 3*8
	want := []stbl.Sample{
		{StartTime: 500, Duration: 40, IsSync: true, Size: 50, Offset: base, DescriptionIndex: 1},
		{StartTime: 540, Duration: 40, IsSync: false, Size: 50, Offset: base + 50, DescriptionIndex: 1},
		{StartTime: 580, Duration: 60, IsSync: false, Size: 50, Offset: base + 100, DescriptionIndex: 1},
	}
	if len(samples) != len(want) {
		t.Fatalf("got %d samples, want %d", len(samples), len(want))
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("sample %d = %+v, want %+v", i+1, samples[i], want[i])
		}
	}
}

func TestRunsMissingTfhd(t *testing.T) {
	w := mp4test.NewWriter()
	w.WriteFtyp("iso6", 0)
	w.StartBox(mp4probe.TypeMoov)
	w.WriteMvhd(1000, 0, 2)
	w.EndBox()
	w.StartBox(mp4probe.TypeMoof)
	w.WriteMfhd(1)
	w.StartBox(mp4probe.TypeTraf)
	w.EndBox()
	w.EndBox()

	f, err := mp4probe.Parse(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fragment.Runs(f, 1, 0); err == nil {
		t.Fatal("Runs() should fail without tfhd")
	}
}

// defaultsOnlyFile holds one fragment whose trun carries no per-sample
// fields and declares count samples of size bytes each.
func defaultsOnlyFile(count, size uint32, mdat int) []byte {
	w := mp4test.NewWriter()
	w.WriteFtyp("iso6", 0)
	w.StartBox(mp4probe.TypeMoov)
	w.WriteMvhd(1000, 0, 2)
	w.StartBox(mp4probe.TypeMvex)
	w.WriteTrex(1, 1, 1024, size, 0)
	w.EndBox()
	w.EndBox()
	w.StartBox(mp4probe.TypeMoof)
	w.WriteMfhd(1)
	w.StartBox(mp4probe.TypeTraf)
	w.WriteTfhd(mp4probe.TfhdDefaultBaseIsMoof, mp4probe.Tfhd{TrackID: 1})
	w.StartFullBox(mp4probe.TypeTrun, 0, 0)
	w.U32(count)
	w.EndBox()
	w.EndBox()
	w.EndBox()
	if mdat > 0 {
		w.WriteMdat(mdat)
	}
	return w.Bytes()
}

func TestRunsDefaultsOnlyTrun(t *testing.T) {
	buf := defaultsOnlyFile(4, 10, 40)
	f, err := mp4probe.Parse(buf)
	if err != nil {
		t.Fatal(err)
	}
	samples, err := fragment.Runs(f, 1, 0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(samples) != 4 {
		t.Fatalf("got %d samples, want 4", len(samples))
	}
	moofStart := uint64(f.Moofs[0].Offset)
	for i, s := range samples {
		if s.Size != 10 || s.Duration != 1024 || s.Offset != moofStart+uint64(i*10) {
			t.Errorf("sample %d = %+v", i+1, s)
		}
	}
}

func TestRunsHugeSampleCount(t *testing.T) {
	for _, size := range []uint32{0, 1} {
		f, err := mp4probe.Parse(defaultsOnlyFile(1<<25, size, 0))
		if err != nil {
			t.Fatalf("size %d: Parse: %v", size, err)
		}
		if got := f.Moofs[0].Find(mp4probe.TypeTraf, mp4probe.TypeTrun).Trun; got.SampleCount != 1<<25 || got.Entries != nil {
			t.Fatalf("size %d: trun count %d, %d entries", size, got.SampleCount, len(got.Entries))
		}
		if _, err := fragment.Runs(f, 1, 0); !errors.Is(err, mp4probe.ErrTruncated) {
			t.Errorf("size %d: Runs error = %v, want ErrTruncated", size, err)
		}
	}
}

func TestRunsSamplePastEnd(t *testing.T) {
	// Four 100 byte samples cannot fit behind a 50 byte mdat.
	f, err := mp4probe.Parse(defaultsOnlyFile(4, 100, 50))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fragment.Runs(f, 1, 0); !errors.Is(err, mp4probe.ErrTruncated) {
		t.Errorf("Runs error = %v, want ErrTruncated", err)
	}
	// Other tracks share the fragment layout and fail alike.
	if _, err := fragment.Runs(f, 2, 0); !errors.Is(err, mp4probe.ErrTruncated) {
		t.Errorf("Runs(track 2) error = %v, want ErrTruncated", err)
	}
}
