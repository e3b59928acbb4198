// Package fragment resolves the samples that movie fragments (moof) add to
// a track.
package fragment

import (
	"fmt"

	mp4 "github.com/tetsuo/mp4probe"
	"github.com/tetsuo/mp4probe/stbl"
)

// defaults are the per-sample fallbacks of one traf, already resolved
// against trex.
type defaults struct {
	duration  uint32
	size      uint32
	flags     uint32
	descIndex uint32
}

func resolveDefaults(tfhd *mp4.Box, trex *mp4.Trex) defaults {
	var d defaults
	if trex != nil {
		d = defaults{
			duration:  trex.DefaultSampleDuration,
			size:      trex.DefaultSampleSize,
			flags:     trex.DefaultSampleFlags,
			descIndex: trex.DefaultSampleDescriptionIndex,
		}
	}
	h, f := tfhd.Tfhd, tfhd.Flags
	if f&mp4.TfhdSampleDescriptionIndexPresent != 0 {
		d.descIndex = h.SampleDescriptionIndex
	}
	if f&mp4.TfhdDefaultSampleDurationPresent != 0 {
		d.duration = h.DefaultSampleDuration
	}
	if f&mp4.TfhdDefaultSampleSizePresent != 0 {
		d.size = h.DefaultSampleSize
	}
	if f&mp4.TfhdDefaultSampleFlagsPresent != 0 {
		d.flags = h.DefaultSampleFlags
	}
	return d
}

// Runs returns the fragment samples of trackID in file order. Decode times
// continue from start unless a tfdt box resets them. A sample whose data lies
// outside the file fails with mp4.ErrTruncated.
func Runs(f *mp4.File, trackID uint32, start uint64) ([]stbl.Sample, error) {
	decodeTime := start
	var out []stbl.Sample
	w := &walker{size: uint64(f.Size)}

	for _, moof := range f.Moofs {
		moofStart := uint64(moof.Offset)
		// Without an explicit base, a traf's data follows the previous one.
		prevEnd := moofStart

		for i, traf := range moof.ChildList(mp4.TypeTraf) {
			tfhd := traf.Child(mp4.TypeTfhd)
			if tfhd == nil || tfhd.Tfhd == nil {
				return nil, fmt.Errorf("moof at %d, traf %d: %w", moof.Offset, i, mp4.MissingBox(mp4.TypeTfhd))
			}
			id := tfhd.Tfhd.TrackID
			d := resolveDefaults(tfhd, f.Trex(id))
			base := dataBase(tfhd, moofStart, prevEnd, i == 0)

			var fn func(stbl.Sample)
			if id == trackID {
				if tfdt := traf.Child(mp4.TypeTfdt); tfdt != nil && tfdt.Tfdt != nil {
					decodeTime = tfdt.Tfdt.BaseMediaDecodeTime
				}
				fn = func(s stbl.Sample) {
					decodeTime += uint64(s.Duration)
					out = append(out, s)
				}
			}
			end, err := w.walk(traf, d, base, decodeTime, fn)
			if err != nil {
				return nil, fmt.Errorf("moof at %d, traf %d (track %d): %w", moof.Offset, i, id, err)
			}
			prevEnd = end
		}
	}
	return out, nil
}

// dataBase returns the base data offset for the runs of a traf.
func dataBase(tfhd *mp4.Box, moofStart, prevEnd uint64, first bool) uint64 {
	switch {
	case tfhd.Flags&mp4.TfhdBaseDataOffsetPresent != 0:
		return tfhd.Tfhd.BaseDataOffset
	case tfhd.Flags&mp4.TfhdDefaultBaseIsMoof != 0, first:
		return moofStart
	default:
		return prevEnd
	}
}

// walker resolves trun samples against a file of size bytes. samples counts
// every sample resolved so far, across all tracks.
type walker struct {
	size    uint64
	samples uint64
}

// walk resolves every sample of the trun boxes in traf and returns the
// offset one past the last sample's data. fn may be nil.
func (w *walker) walk(traf *mp4.Box, d defaults, base, decodeTime uint64, fn func(stbl.Sample)) (uint64, error) {
	cursor := base
	for _, tb := range traf.ChildList(mp4.TypeTrun) {
		trun := tb.Trun
		if trun == nil {
			continue
		}
		// No file describes more samples than it has bytes.
		w.samples += uint64(trun.SampleCount)
		if w.samples > w.size {
			return 0, fmt.Errorf("trun declares %d samples in a %d byte file: %w", trun.SampleCount, w.size, mp4.ErrTruncated)
		}
		if tb.Flags&mp4.TrunDataOffsetPresent != 0 {
			cursor = uint64(int64(base) + int64(trun.DataOffset))
		}
		for j := range trun.SampleCount {
			var e mp4.TrunEntry
			if trun.Entries != nil {
				e = trun.Entries[j]
			}
			s := stbl.Sample{
				StartTime:        decodeTime,
				Duration:         d.duration,
				Size:             d.size,
				Offset:           cursor,
				DescriptionIndex: d.descIndex,
			}
			flags := d.flags
			if j == 0 && tb.Flags&mp4.TrunFirstSampleFlagsPresent != 0 {
				flags = trun.FirstSampleFlags
			}
			if tb.Flags&mp4.TrunSampleDurationPresent != 0 {
				s.Duration = e.Duration
			}
			if tb.Flags&mp4.TrunSampleSizePresent != 0 {
				s.Size = e.Size
			}
			if tb.Flags&mp4.TrunSampleFlagsPresent != 0 {
				flags = e.Flags
			}
			if tb.Flags&mp4.TrunSampleCompositionTimeOffsetPresent != 0 {
				s.RenderingOffset = e.CompositionTimeOffset
			}
			s.IsSync = flags&mp4.SampleIsNonSync == 0

			if s.Offset > w.size || uint64(s.Size) > w.size-s.Offset {
				return 0, fmt.Errorf("sample %d: %d bytes at %d past end of file (%d): %w",
					j+1, s.Size, s.Offset, w.size, mp4.ErrTruncated)
			}
			decodeTime += uint64(s.Duration)
			cursor += uint64(s.Size)
			if fn != nil {
				fn(s)
			}
		}
	}
	return cursor, nil
}
