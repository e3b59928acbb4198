// Package track derives per-track attributes (kind, codec details, summary
// string, language) and the merged sample sequence from a parsed file.
package track

import (
	"fmt"

	"golang.org/x/text/language"

	mp4 "github.com/tetsuo/mp4probe"
	"github.com/tetsuo/mp4probe/fragment"
	"github.com/tetsuo/mp4probe/stbl"
)

// Kind distinguishes video, audio and subtitle tracks.
type Kind int

const (
	KindVideo Kind = iota + 1
	KindAudio
	KindSubtitle
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindSubtitle:
		return "subtitle"
	}
	return "unknown"
}

var (
	handlerVide = fourCC("vide")
	handlerSoun = fourCC("soun")
	handlerSbtl = fourCC("sbtl")
	handlerText = fourCC("text")
	handlerSubt = fourCC("subt")
)

func fourCC(s string) mp4.BoxType {
	var t mp4.BoxType
	copy(t[:], s)
	return t
}

// Track is a read-only view of one trak box.
type Track struct {
	ID        uint32
	Kind      Kind
	BoxType   mp4.BoxType // sample entry type, e.g. avc1
	Language  string      // ISO-639-2/T, e.g. "eng"
	Timescale uint32
	Duration  uint64 // media duration in Timescale units
	Edits     []mp4.ElstEntry

	// Info is one of *Video, *Audio or *Subtitle, matching Kind.
	Info Info

	entry   *mp4.Box
	stblBox *mp4.Box
	table   *stbl.Table
	checked int64 // file size the table was last checked against
}

// New builds the view of trak. Errors wrap mp4.ErrMissingBox for absent
// mandatory boxes and mp4.ErrUnknownTrackType for unsupported handlers.
func New(trak *mp4.Box) (*Track, error) {
	tkhd := trak.Child(mp4.TypeTkhd)
	if tkhd == nil || tkhd.Tkhd == nil {
		return nil, fmt.Errorf("trak at %d: %w", trak.Offset, mp4.MissingBox(mp4.TypeTkhd))
	}
	t := &Track{ID: tkhd.Tkhd.TrackID}

	mdia := trak.Child(mp4.TypeMdia)
	mdhd := mdia.Child(mp4.TypeMdhd)
	if mdhd == nil || mdhd.Mdhd == nil {
		return nil, t.errorf("%w", mp4.MissingBox(mp4.TypeMdhd))
	}
	t.Timescale = mdhd.Mdhd.Timescale
	t.Duration = mdhd.Mdhd.Duration
	t.Language = mdhd.Mdhd.LanguageCode()

	if elst := trak.Find(mp4.TypeEdts, mp4.TypeElst); elst != nil && elst.Elst != nil {
		t.Edits = elst.Elst.Entries
	}

	minf := mdia.Child(mp4.TypeMinf)
	if minf == nil {
		return nil, t.errorf("%w", mp4.MissingBox(mp4.TypeMinf))
	}
	t.stblBox = minf.Child(mp4.TypeStbl)
	if t.stblBox == nil {
		return nil, t.errorf("%w", mp4.MissingBox(mp4.TypeStbl))
	}

	var err error
	if t.Kind, err = classify(minf, mdia.Child(mp4.TypeHdlr)); err != nil {
		return nil, t.errorf("%w", err)
	}

	stsd := t.stblBox.Child(mp4.TypeStsd)
	switch t.Kind {
	case KindVideo:
		t.entry = firstEntry(stsd, mp4.TypeAvc1, mp4.TypeAvc3, mp4.TypeHev1, mp4.TypeHvc1, mp4.TypeVp09)
		if t.entry == nil || t.entry.Visual == nil {
			return nil, t.errorf("no video sample entry in stsd: %w", mp4.ErrMissingBox)
		}
		t.Info = newVideo(t)
	case KindAudio:
		t.entry = firstEntry(stsd, mp4.TypeMp4a)
		if t.entry == nil || t.entry.Audio == nil {
			return nil, t.errorf("%w", mp4.MissingBox(mp4.TypeMp4a))
		}
		t.Info = newAudio(t)
	case KindSubtitle:
		t.entry = firstEntry(stsd, mp4.TypeTx3g)
		if t.entry == nil {
			return nil, t.errorf("%w", mp4.MissingBox(mp4.TypeTx3g))
		}
		t.Info = &Subtitle{}
	}
	t.BoxType = t.entry.Type
	return t, nil
}

func (t *Track) errorf(format string, args ...any) error {
	return fmt.Errorf("track %d: "+format, append([]any{t.ID}, args...)...)
}

// classify picks the track kind from the media header, then the handler.
func classify(minf, hdlr *mp4.Box) (Kind, error) {
	switch {
	case minf.Child(mp4.TypeVmhd) != nil:
		return KindVideo, nil
	case minf.Child(mp4.TypeSmhd) != nil:
		return KindAudio, nil
	}
	if hdlr == nil || hdlr.Hdlr == nil {
		return 0, mp4.MissingBox(mp4.TypeHdlr)
	}
	switch hdlr.Hdlr.HandlerType {
	case handlerSbtl, handlerText, handlerSubt:
		return KindSubtitle, nil
	case handlerVide:
		return KindVideo, nil
	case handlerSoun:
		return KindAudio, nil
	}
	return 0, fmt.Errorf("handler %q: %w", hdlr.Hdlr.HandlerType, mp4.ErrUnknownTrackType)
}

func firstEntry(stsd *mp4.Box, types ...mp4.BoxType) *mp4.Box {
	if stsd == nil {
		return nil
	}
	for _, c := range stsd.Children {
		for _, t := range types {
			if c.Type == t {
				return c
			}
		}
	}
	return nil
}

// LanguageTag returns the ISO-639-1 form of Language when one exists,
// otherwise the canonical BCP 47 base. It returns "" for codes x/text
// does not recognize.
func (t *Track) LanguageTag() string {
	base, err := language.ParseBase(t.Language)
	if err != nil {
		return ""
	}
	return base.String()
}

// DurationMicros returns the media duration in microseconds.
func (t *Track) DurationMicros() uint64 {
	return scale(t.Duration, t.Timescale, 1_000_000)
}

// scale converts v ticks at timescale ts into units per second without
// overflowing for large v.
func scale(v uint64, ts uint32, units uint64) uint64 {
	if ts == 0 {
		return 0
	}
	q, r := v/uint64(ts), v%uint64(ts)
	return q*units + r*units/uint64(ts)
}

// SampleCount returns the number of samples declared by stsz, excluding
// fragments.
func (t *Track) SampleCount() uint32 {
	sz := t.stblBox.Child(mp4.TypeStsz)
	if sz == nil || sz.Stsz == nil {
		return 0
	}
	if sz.Stsz.SampleSize != 0 {
		return sz.Stsz.SampleCount
	}
	return uint32(len(sz.Stsz.Entries))
}

// TotalSampleSize returns the byte total of all samples declared by stsz.
func (t *Track) TotalSampleSize() uint64 {
	sz := t.stblBox.Child(mp4.TypeStsz)
	if sz == nil || sz.Stsz == nil {
		return 0
	}
	if sz.Stsz.SampleSize != 0 {
		return uint64(sz.Stsz.SampleSize) * uint64(sz.Stsz.SampleCount)
	}
	var n uint64
	for _, s := range sz.Stsz.Entries {
		n += uint64(s)
	}
	return n
}

// Table returns the decoded sample table, building it on first use.
func (t *Track) Table() (*stbl.Table, error) {
	if t.table != nil {
		return t.table, nil
	}
	tbl, err := stbl.New(t.stblBox)
	if err != nil {
		return nil, t.errorf("%w", err)
	}
	t.table = tbl
	return tbl, nil
}

// boundedTable returns the sample table after checking that its sample data
// fits in f.
func (t *Track) boundedTable(f *mp4.File) (*stbl.Table, error) {
	tbl, err := t.Table()
	if err != nil {
		return nil, err
	}
	if t.checked != f.Size || f.Size == 0 {
		if err := tbl.CheckBounds(uint64(f.Size)); err != nil {
			return nil, t.errorf("%w", err)
		}
		t.checked = f.Size
	}
	return tbl, nil
}

// Samples returns the track's samples in decode order: the stbl samples
// followed by the samples of every fragment of f that targets this track.
// Sample data outside f fails with mp4.ErrInconsistentSampleTable for the
// stbl and mp4.ErrTruncated for fragments.
func (t *Track) Samples(f *mp4.File) ([]stbl.Sample, error) {
	tbl, err := t.boundedTable(f)
	if err != nil {
		return nil, err
	}
	samples, err := tbl.Samples()
	if err != nil {
		return nil, t.errorf("%w", err)
	}
	if !f.Fragmented() {
		return samples, nil
	}
	frag, err := fragment.Runs(f, t.ID, tbl.Duration())
	if err != nil {
		return nil, t.errorf("%w", err)
	}
	return append(samples, frag...), nil
}

// Sample returns the 1-based sample n of the merged sequence.
func (t *Track) Sample(f *mp4.File, n uint32) (stbl.Sample, error) {
	tbl, err := t.boundedTable(f)
	if err != nil {
		return stbl.Sample{}, err
	}
	if n >= 1 && n <= tbl.SampleCount() {
		return tbl.Sample(n)
	}
	if n > tbl.SampleCount() && f.Fragmented() {
		frag, err := fragment.Runs(f, t.ID, tbl.Duration())
		if err != nil {
			return stbl.Sample{}, t.errorf("%w", err)
		}
		if i := uint64(n) - uint64(tbl.SampleCount()) - 1; i < uint64(len(frag)) {
			return frag[i], nil
		}
	}
	return stbl.Sample{}, t.errorf("sample %d: %w", n, mp4.ErrSampleOutOfRange)
}

// Find returns the track with the given ID, or nil.
func Find(tracks []*Track, id uint32) *Track {
	for _, t := range tracks {
		if t.ID == id {
			return t
		}
	}
	return nil
}
