package mp4test

import (
	mp4 "github.com/tetsuo/mp4probe"
)

// Track describes one trak to write. Zero values pick defaults that make a
// valid, minimal track.
type Track struct {
	ID       uint32
	Handler  string // vide, soun, sbtl ...
	Header   string // vmhd, smhd, nmhd or "" for none
	Entry    string // avc1, hev1, mp4a, tx3g or "" for an empty stsd
	Language string

	Timescale uint32
	Duration  uint32

	Width, Height uint16
	AvcC          []byte
	HvcC          []byte

	Channels   uint16
	SampleRate uint32
	// Esds writes an esds box when non-nil.
	Esds *Esds

	Edits []mp4.ElstEntry

	Stts         []mp4.SttsEntry
	Ctts         []mp4.CttsEntry
	Stss         []uint32
	Stsc         []mp4.StscEntry
	SampleSize   uint32 // uniform size; Sizes is used when zero
	SampleCount  uint32
	Sizes        []uint32
	ChunkOffsets []uint32
}

// Esds describes the esds box of an audio entry.
type Esds struct {
	MaxBitrate uint32
	AvgBitrate uint32
	Config     []byte // AudioSpecificConfig
}

// Movie describes an ftyp + moov pair.
type Movie struct {
	MajorBrand       string
	MinorVersion     uint32
	CompatibleBrands []string
	Timescale        uint32
	Duration         uint32
	Tracks           []Track
	// Trex writes an mvex box with one trex per track.
	Trex bool
}

// WriteMovie writes ftyp and moov.
func (w *Writer) WriteMovie(m Movie) {
	major := m.MajorBrand
	if major == "" {
		major = "isom"
	}
	w.WriteFtyp(major, m.MinorVersion, m.CompatibleBrands...)

	w.StartBox(mp4.TypeMoov)
	w.WriteMvhd(m.Timescale, m.Duration, uint32(len(m.Tracks)+1))
	for _, t := range m.Tracks {
		w.WriteTrak(t)
	}
	if m.Trex {
		w.StartBox(mp4.TypeMvex)
		for _, t := range m.Tracks {
			w.WriteTrex(t.ID, 1, 0, 0, 0)
		}
		w.EndBox()
	}
	w.EndBox()
}

// WriteTrak writes a complete trak box.
func (w *Writer) WriteTrak(t Track) {
	w.StartBox(mp4.TypeTrak)
	w.WriteTkhd(3, t.ID, t.Duration, uint32(t.Width)<<16, uint32(t.Height)<<16)
	if len(t.Edits) > 0 {
		w.StartBox(mp4.TypeEdts)
		w.WriteElst(t.Edits)
		w.EndBox()
	}

	w.StartBox(mp4.TypeMdia)
	lang := t.Language
	if lang == "" {
		lang = "und"
	}
	w.WriteMdhd(t.Timescale, t.Duration, PackLanguage(lang))
	w.WriteHdlr(t.Handler, "Handler")

	w.StartBox(mp4.TypeMinf)
	switch t.Header {
	case "vmhd":
		w.WriteVmhd()
	case "smhd":
		w.WriteSmhd()
	case "nmhd":
		w.WriteNmhd()
	}
	w.WriteDinf()

	w.StartBox(mp4.TypeStbl)
	w.StartFullBox(mp4.TypeStsd, 0, 0)
	if t.Entry == "" {
		w.U32(0)
	} else {
		w.U32(1)
		w.writeEntry(t)
	}
	w.EndBox()

	w.WriteStts(t.Stts)
	if t.Ctts != nil {
		w.WriteCtts(t.Ctts)
	}
	if t.Stss != nil {
		w.WriteStss(t.Stss)
	}
	stsc := t.Stsc
	if stsc == nil {
		n := t.SampleCount
		if t.SampleSize == 0 {
			n = uint32(len(t.Sizes))
		}
		stsc = []mp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: n, SampleDescriptionID: 1}}
	}
	w.WriteStsc(stsc)
	w.WriteStsz(t.SampleSize, t.SampleCount, t.Sizes)
	offsets := t.ChunkOffsets
	if offsets == nil {
		offsets = []uint32{0}
	}
	w.WriteStco(offsets)
	w.EndBox() // stbl

	w.EndBox() // minf
	w.EndBox() // mdia
	w.EndBox() // trak
}

func (w *Writer) writeEntry(t Track) {
	typ := Type(t.Entry)
	switch t.Entry {
	case "avc1", "avc3", "hev1", "hvc1", "vp09":
		w.StartVisualEntry(typ, t.Width, t.Height)
		if t.AvcC != nil {
			w.WriteAvcC(t.AvcC)
		}
		if t.HvcC != nil {
			w.WriteHvcC(t.HvcC)
		}
		w.EndBox()
	case "mp4a":
		w.StartAudioEntry(typ, t.Channels, 16, t.SampleRate)
		if t.Esds != nil {
			w.WriteEsds(0x40, t.Esds.MaxBitrate, t.Esds.AvgBitrate, t.Esds.Config)
		}
		w.EndBox()
	case "tx3g":
		w.StartTextEntry()
		w.EndBox()
	default:
		w.StartBox(typ)
		w.Zero(8)
		w.EndBox()
	}
}

// VideoTrack returns a 320x240 avc1 High profile track of n samples of
// size bytes each, delta ticks apart.
func VideoTrack(id uint32, n, size, delta, timescale uint32) Track {
	return Track{
		ID:          id,
		Handler:     "vide",
		Header:      "vmhd",
		Entry:       "avc1",
		Language:    "und",
		Timescale:   timescale,
		Duration:    n * delta,
		Width:       320,
		Height:      240,
		AvcC:        AvcRecord(100, 0, 31),
		Stts:        []mp4.SttsEntry{{Count: n, Duration: delta}},
		SampleSize:  size,
		SampleCount: n,
	}
}

// AudioTrack returns an AAC LC 48 kHz stereo track of n samples.
func AudioTrack(id uint32, n uint32) Track {
	sizes := make([]uint32, n)
	for i := range sizes {
		sizes[i] = 300
	}
	return Track{
		ID:         id,
		Handler:    "soun",
		Header:     "smhd",
		Entry:      "mp4a",
		Language:   "eng",
		Timescale:  48000,
		Duration:   n * 1024,
		Channels:   2,
		SampleRate: 48000,
		Esds:       &Esds{MaxBitrate: 140000, AvgBitrate: 128000, Config: []byte{0x11, 0x90}},
		Stts:       []mp4.SttsEntry{{Count: n, Duration: 1024}},
		Sizes:      sizes,
	}
}

// SubtitleTrack returns a tx3g track of n samples one second apart.
func SubtitleTrack(id uint32, n uint32) Track {
	return Track{
		ID:          id,
		Handler:     "sbtl",
		Entry:       "tx3g",
		Language:    "fra",
		Timescale:   1000,
		Duration:    n * 1000,
		Stts:        []mp4.SttsEntry{{Count: n, Duration: 1000}},
		SampleSize:  20,
		SampleCount: n,
	}
}
