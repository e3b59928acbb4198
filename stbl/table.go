package stbl

import (
	"fmt"
	"slices"

	mp4 "github.com/tetsuo/mp4probe"
)

// Sample describes one sample in decode order. StartTime and Duration are
// in track timescale units.
type Sample struct {
	StartTime        uint64 `json:"start_time" yaml:"start_time"`
	Duration         uint32 `json:"duration" yaml:"duration"`
	RenderingOffset  int32  `json:"rendering_offset" yaml:"rendering_offset"`
	IsSync           bool   `json:"is_sync" yaml:"is_sync"`
	Size             uint32 `json:"size" yaml:"size"`
	Offset           uint64 `json:"offset" yaml:"offset"`
	DescriptionIndex uint32 `json:"description_index" yaml:"description_index"`
}

// chunkRun is an stsc entry expanded to the samples it covers.
type chunkRun struct {
	firstChunk      uint32
	samplesPerChunk uint32
	descIndex       uint32
}

// Table answers sample queries for one stbl box. It keeps cursors between
// calls, so it is not safe for concurrent use.
type Table struct {
	count uint32
	stsz  *mp4.Stsz
	stss  []uint32 // nil when every sample is a sync sample

	stco []uint32
	co64 []uint64

	stts      *RunTable[uint32]
	sttsStart []uint64 // decode time of the first sample of each stts run
	ctts      *RunTable[int32]
	stsc      *RunTable[chunkRun]

	timeCur  *Cursor[uint32]
	cttsCur  *Cursor[int32]
	chunkCur *Cursor[chunkRun]
}

// New builds a Table from an stbl box. stsd, stts, stsc, stsz and one of
// stco or co64 are required.
func New(box *mp4.Box) (*Table, error) {
	for _, t := range []mp4.BoxType{mp4.TypeStsd, mp4.TypeStts, mp4.TypeStsc, mp4.TypeStsz} {
		if box.Child(t) == nil {
			return nil, fmt.Errorf("stbl: %w", mp4.MissingBox(t))
		}
	}
	t := &Table{stsz: box.Child(mp4.TypeStsz).Stsz}
	if t.stsz == nil {
		return nil, fmt.Errorf("stbl: %w", mp4.MissingBox(mp4.TypeStsz))
	}

	switch {
	case box.Child(mp4.TypeStco) != nil && box.Child(mp4.TypeStco).Stco != nil:
		t.stco = box.Child(mp4.TypeStco).Stco.Entries
	case box.Child(mp4.TypeCo64) != nil && box.Child(mp4.TypeCo64).Co64 != nil:
		t.co64 = box.Child(mp4.TypeCo64).Co64.Entries
	default:
		return nil, fmt.Errorf("stbl: %w", mp4.MissingBox(mp4.TypeStco))
	}

	if t.stsz.SampleSize != 0 {
		t.count = t.stsz.SampleCount
	} else {
		t.count = uint32(len(t.stsz.Entries))
	}

	stts := box.Child(mp4.TypeStts).Stts
	if stts == nil {
		return nil, fmt.Errorf("stbl: %w", mp4.MissingBox(mp4.TypeStts))
	}
	runs := make([]Run[uint32], len(stts.Entries))
	t.sttsStart = make([]uint64, len(stts.Entries))
	var elapsed uint64
	for i, e := range stts.Entries {
		runs[i] = Run[uint32]{Count: uint64(e.Count), Value: e.Duration}
		t.sttsStart[i] = elapsed
		elapsed += uint64(e.Count) * uint64(e.Duration)
	}
	t.stts = NewRunTable(runs)
	if t.stts.Total() != uint64(t.count) {
		return nil, fmt.Errorf("stbl: stts covers %d samples, stsz declares %d: %w",
			t.stts.Total(), t.count, mp4.ErrInconsistentSampleTable)
	}

	if c := box.Child(mp4.TypeCtts); c != nil && c.Ctts != nil {
		runs := make([]Run[int32], len(c.Ctts.Entries))
		for i, e := range c.Ctts.Entries {
			runs[i] = Run[int32]{Count: uint64(e.Count), Value: e.Offset}
		}
		t.ctts = NewRunTable(runs)
		if t.ctts.Total() < uint64(t.count) {
			return nil, fmt.Errorf("stbl: ctts covers %d of %d samples: %w",
				t.ctts.Total(), t.count, mp4.ErrInconsistentSampleTable)
		}
		t.cttsCur = t.ctts.Cursor()
	}

	if s := box.Child(mp4.TypeStss); s != nil && s.Stss != nil {
		t.stss = s.Stss.Entries
		if t.stss == nil {
			t.stss = []uint32{}
		}
		if !slices.IsSorted(t.stss) {
			t.stss = slices.Clone(t.stss)
			slices.Sort(t.stss)
		}
	}

	stsc := box.Child(mp4.TypeStsc).Stsc
	if stsc == nil {
		return nil, fmt.Errorf("stbl: %w", mp4.MissingBox(mp4.TypeStsc))
	}
	chunks, err := expandChunks(stsc.Entries, uint32(t.chunkCount()))
	if err != nil {
		return nil, err
	}
	t.stsc = chunks

	t.timeCur = t.stts.Cursor()
	t.chunkCur = t.stsc.Cursor()
	return t, nil
}

// expandChunks turns stsc entries into runs counted in samples.
func expandChunks(entries []mp4.StscEntry, chunkCount uint32) (*RunTable[chunkRun], error) {
	runs := make([]Run[chunkRun], len(entries))
	for i, e := range entries {
		if e.FirstChunk == 0 || (i > 0 && e.FirstChunk <= entries[i-1].FirstChunk) {
			return nil, fmt.Errorf("stbl: stsc entry %d starts at chunk %d: %w",
				i, e.FirstChunk, mp4.ErrInconsistentSampleTable)
		}
		last := chunkCount
		if i+1 < len(entries) {
			last = entries[i+1].FirstChunk - 1
		}
		var chunks uint64
		if last >= e.FirstChunk {
			chunks = uint64(last - e.FirstChunk + 1)
		}
		runs[i] = Run[chunkRun]{
			Count: chunks * uint64(e.SamplesPerChunk),
			Value: chunkRun{e.FirstChunk, e.SamplesPerChunk, e.SampleDescriptionID},
		}
	}
	return NewRunTable(runs), nil
}

func (t *Table) chunkCount() int {
	if t.co64 != nil {
		return len(t.co64)
	}
	return len(t.stco)
}

func (t *Table) chunkOffset(chunk uint32) (uint64, bool) {
	i := int(chunk) - 1
	if i < 0 || i >= t.chunkCount() {
		return 0, false
	}
	if t.co64 != nil {
		return t.co64[i], true
	}
	return uint64(t.stco[i]), true
}

// SampleCount returns the number of samples in the table.
func (t *Table) SampleCount() uint32 { return t.count }

// TotalSize returns the sum of all sample sizes in bytes.
func (t *Table) TotalSize() uint64 {
	if t.stsz.SampleSize != 0 {
		return uint64(t.stsz.SampleSize) * uint64(t.count)
	}
	var n uint64
	for _, s := range t.stsz.Entries {
		n += uint64(s)
	}
	return n
}

// CheckBounds reports whether every sample's data lies within a file of
// size bytes. It fails with mp4.ErrInconsistentSampleTable otherwise.
func (t *Table) CheckBounds(size uint64) error {
	if uint64(t.count) > size {
		return fmt.Errorf("stbl: %d samples in a %d byte file: %w", t.count, size, mp4.ErrInconsistentSampleTable)
	}
	if total := t.TotalSize(); total > size {
		return fmt.Errorf("stbl: samples hold %d bytes, file has %d: %w", total, size, mp4.ErrInconsistentSampleTable)
	}

	var first uint64 // first sample of the current chunk
	for r := 0; r < t.stsc.Len() && first < uint64(t.count); r++ {
		run := t.stsc.Run(r)
		spc := uint64(run.Value.samplesPerChunk)
		if spc == 0 {
			continue
		}
		for c := uint64(0); c < run.Count/spc && first < uint64(t.count); c++ {
			chunk := run.Value.firstChunk + uint32(c)
			base, ok := t.chunkOffset(chunk)
			if !ok {
				return fmt.Errorf("stbl: chunk %d out of %d: %w", chunk, t.chunkCount(), mp4.ErrInconsistentSampleTable)
			}
			n := min(spc, uint64(t.count)-first)
			bytes := t.rangeSize(first, n)
			if base > size || bytes > size-base {
				return fmt.Errorf("stbl: chunk %d at %d holds %d bytes past end of file (%d): %w",
					chunk, base, bytes, size, mp4.ErrInconsistentSampleTable)
			}
			first += n
		}
	}
	return nil
}

// rangeSize returns the bytes held by n samples starting at index first.
func (t *Table) rangeSize(first, n uint64) uint64 {
	if t.stsz.SampleSize != 0 {
		return n * uint64(t.stsz.SampleSize)
	}
	var total uint64
	for _, s := range t.stsz.Entries[first : first+n] {
		total += uint64(s)
	}
	return total
}

// Duration returns the sum of all sample durations in timescale units.
func (t *Table) Duration() uint64 {
	n := t.stts.Len()
	if n == 0 {
		return 0
	}
	last := t.stts.Run(n - 1)
	return t.sttsStart[n-1] + last.Count*uint64(last.Value)
}

// HasSyncTable reports whether the track carries an stss box.
func (t *Table) HasSyncTable() bool { return t.stss != nil }

func (t *Table) checkIndex(n uint32) error {
	if n < 1 || n > t.count {
		return fmt.Errorf("sample %d of %d: %w", n, t.count, mp4.ErrSampleOutOfRange)
	}
	return nil
}

// Sample returns the 1-based sample n.
func (t *Table) Sample(n uint32) (Sample, error) {
	if err := t.checkIndex(n); err != nil {
		return Sample{}, err
	}
	i := uint64(n - 1)

	r, _ := t.timeCur.Seek(i)
	run := t.stts.Run(r)
	s := Sample{
		StartTime: t.sttsStart[r] + (i-t.stts.First(r))*uint64(run.Value),
		Duration:  run.Value,
		IsSync:    t.isSync(n),
		Size:      t.stsz.Size(int(i)),
	}
	if t.cttsCur != nil {
		s.RenderingOffset, _ = t.cttsCur.Value(i)
	}

	_, off, desc, err := t.locate(i)
	if err != nil {
		return Sample{}, err
	}
	s.Offset = off
	s.DescriptionIndex = desc
	return s, nil
}

func (t *Table) isSync(n uint32) bool {
	if t.stss == nil {
		return true
	}
	_, found := slices.BinarySearch(t.stss, n)
	return found
}

// Location returns the chunk number, absolute byte offset, size and sample
// description index of the 1-based sample n.
func (t *Table) Location(n uint32) (chunk uint32, offset uint64, size uint32, desc uint32, err error) {
	if err = t.checkIndex(n); err != nil {
		return
	}
	i := uint64(n - 1)
	chunk, offset, desc, err = t.locate(i)
	size = t.stsz.Size(int(i))
	return
}

func (t *Table) locate(i uint64) (uint32, uint64, uint32, error) {
	r, ok := t.chunkCur.Seek(i)
	if !ok {
		return 0, 0, 0, fmt.Errorf("stbl: sample %d not covered by stsc: %w", i+1, mp4.ErrInconsistentSampleTable)
	}
	run := t.stsc.Run(r).Value
	within := i - t.stsc.First(r)
	chunk := run.firstChunk + uint32(within/uint64(run.samplesPerChunk))
	base, ok := t.chunkOffset(chunk)
	if !ok {
		return 0, 0, 0, fmt.Errorf("stbl: chunk %d out of %d: %w", chunk, t.chunkCount(), mp4.ErrInconsistentSampleTable)
	}

	first := i - within%uint64(run.samplesPerChunk)
	off := base
	if t.stsz.SampleSize != 0 {
		off += (i - first) * uint64(t.stsz.SampleSize)
	} else {
		for j := first; j < i; j++ {
			off += uint64(t.stsz.Entries[j])
		}
	}
	return chunk, off, run.descIndex, nil
}

// Samples returns every sample in decode order using one forward pass over
// all tables.
func (t *Table) Samples() ([]Sample, error) {
	out := make([]Sample, t.count)
	var (
		sttsRun, cttsRun, stscRun int
		sttsLeft, cttsLeft        uint64
		stssIdx                   int
		decodeTime                uint64
		chunk                     uint32
		chunkLeft                 uint64
		stscLeft                  uint64
		offset                    uint64
	)
	if t.stts.Len() > 0 {
		sttsLeft = t.stts.Run(0).Count
	}
	if t.ctts != nil && t.ctts.Len() > 0 {
		cttsLeft = t.ctts.Run(0).Count
	}
	if t.stsc.Len() > 0 {
		stscLeft = t.stsc.Run(0).Count
	}

	for i := range out {
		s := &out[i]
		n := uint32(i + 1)

		for sttsLeft == 0 {
			sttsRun++
			sttsLeft = t.stts.Run(sttsRun).Count
		}
		s.StartTime = decodeTime
		s.Duration = t.stts.Run(sttsRun).Value
		decodeTime += uint64(s.Duration)
		sttsLeft--

		if t.ctts != nil {
			for cttsLeft == 0 {
				cttsRun++
				cttsLeft = t.ctts.Run(cttsRun).Count
			}
			s.RenderingOffset = t.ctts.Run(cttsRun).Value
			cttsLeft--
		}

		if t.stss == nil {
			s.IsSync = true
		} else {
			for stssIdx < len(t.stss) && t.stss[stssIdx] < n {
				stssIdx++
			}
			s.IsSync = stssIdx < len(t.stss) && t.stss[stssIdx] == n
		}

		s.Size = t.stsz.Size(i)

		if chunkLeft == 0 {
			for stscLeft == 0 {
				stscRun++
				if stscRun >= t.stsc.Len() {
					return nil, fmt.Errorf("stbl: sample %d not covered by stsc: %w", n, mp4.ErrInconsistentSampleTable)
				}
				stscLeft = t.stsc.Run(stscRun).Count
			}
			run := t.stsc.Run(stscRun).Value
			within := uint64(i) - t.stsc.First(stscRun)
			chunk = run.firstChunk + uint32(within/uint64(run.samplesPerChunk))
			base, ok := t.chunkOffset(chunk)
			if !ok {
				return nil, fmt.Errorf("stbl: chunk %d out of %d: %w", chunk, t.chunkCount(), mp4.ErrInconsistentSampleTable)
			}
			offset = base
			chunkLeft = uint64(run.samplesPerChunk)
		}
		s.Offset = offset
		s.DescriptionIndex = t.stsc.Run(stscRun).Value.descIndex
		offset += uint64(s.Size)
		chunkLeft--
		stscLeft--
	}
	return out, nil
}
