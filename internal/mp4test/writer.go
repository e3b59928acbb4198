// Package mp4test builds MP4 buffers for tests.
package mp4test

import (
	"encoding/binary"

	mp4 "github.com/tetsuo/mp4probe"
)

var be = binary.BigEndian

// Writer appends boxes to a growing buffer. StartBox and EndBox nest; the
// size field of each box is patched when it is closed.
type Writer struct {
	buf   []byte
	stack []int
}

// NewWriter returns an empty writer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 1024)}
}

// Bytes returns the written buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// StartBox opens a plain box.
func (w *Writer) StartBox(t mp4.BoxType) {
	w.stack = append(w.stack, len(w.buf))
	w.U32(0)
	w.Raw(t[:])
}

// StartFullBox opens a box with version and flags.
func (w *Writer) StartFullBox(t mp4.BoxType, version uint8, flags uint32) {
	w.StartBox(t)
	w.U32(uint32(version)<<24 | flags&0x00ffffff)
}

// EndBox closes the innermost open box.
func (w *Writer) EndBox() {
	start := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]
	be.PutUint32(w.buf[start:], uint32(len(w.buf)-start))
}

// PatchU32 overwrites four bytes at off.
func (w *Writer) PatchU32(off int, v uint32) {
	be.PutUint32(w.buf[off:], v)
}

func (w *Writer) U8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) U16(v uint16) { w.buf = be.AppendUint16(w.buf, v) }
func (w *Writer) U32(v uint32) { w.buf = be.AppendUint32(w.buf, v) }
func (w *Writer) U64(v uint64) { w.buf = be.AppendUint64(w.buf, v) }
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }
func (w *Writer) Zero(n int)   { w.buf = append(w.buf, make([]byte, n)...) }

// Type returns the BoxType for a four character code.
func Type(s string) mp4.BoxType {
	var t mp4.BoxType
	copy(t[:], s)
	return t
}

// WriteFtyp writes a complete ftyp box.
func (w *Writer) WriteFtyp(major string, minor uint32, compatible ...string) {
	w.StartBox(mp4.TypeFtyp)
	w.Raw([]byte(major))
	w.U32(minor)
	for _, c := range compatible {
		w.Raw([]byte(c))
	}
	w.EndBox()
}

// WriteMvhd writes a version 0 mvhd box.
func (w *Writer) WriteMvhd(timescale uint32, duration uint32, nextTrackID uint32) {
	w.StartFullBox(mp4.TypeMvhd, 0, 0)
	w.U32(0) // creation_time
	w.U32(0) // modification_time
	w.U32(timescale)
	w.U32(duration)
	w.U32(0x00010000) // rate
	w.U16(0x0100)     // volume
	w.Zero(10)
	w.writeMatrix()
	w.Zero(24)
	w.U32(nextTrackID)
	w.EndBox()
}

// WriteMvhd64 writes a version 1 mvhd box.
func (w *Writer) WriteMvhd64(timescale uint32, duration uint64, nextTrackID uint32) {
	w.StartFullBox(mp4.TypeMvhd, 1, 0)
	w.U64(0)
	w.U64(0)
	w.U32(timescale)
	w.U64(duration)
	w.U32(0x00010000)
	w.U16(0x0100)
	w.Zero(10)
	w.writeMatrix()
	w.Zero(24)
	w.U32(nextTrackID)
	w.EndBox()
}

func (w *Writer) writeMatrix() {
	for _, v := range []uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000} {
		w.U32(v)
	}
}

// WriteTkhd writes a version 0 tkhd box. width and height are 16.16.
func (w *Writer) WriteTkhd(flags uint32, trackID uint32, duration uint32, width, height uint32) {
	w.StartFullBox(mp4.TypeTkhd, 0, flags)
	w.U32(0)
	w.U32(0)
	w.U32(trackID)
	w.U32(0)
	w.U32(duration)
	w.Zero(8)
	w.U16(0) // layer
	w.U16(0) // alternate_group
	w.U16(0) // volume
	w.U16(0)
	w.writeMatrix()
	w.U32(width)
	w.U32(height)
	w.EndBox()
}

// WriteElst writes a version 0 edit list.
func (w *Writer) WriteElst(entries []mp4.ElstEntry) {
	w.StartFullBox(mp4.TypeElst, 0, 0)
	w.U32(uint32(len(entries)))
	for _, e := range entries {
		w.U32(uint32(e.SegmentDuration))
		w.U32(uint32(int32(e.MediaTime)))
		w.U16(uint16(e.MediaRateInteger))
		w.U16(uint16(e.MediaRateFraction))
	}
	w.EndBox()
}

// WriteMdhd writes a version 0 mdhd box with the packed language.
func (w *Writer) WriteMdhd(timescale uint32, duration uint32, language uint16) {
	w.StartFullBox(mp4.TypeMdhd, 0, 0)
	w.U32(0)
	w.U32(0)
	w.U32(timescale)
	w.U32(duration)
	w.U16(language)
	w.U16(0)
	w.EndBox()
}

// PackLanguage packs a three letter ISO-639-2/T code.
func PackLanguage(code string) uint16 {
	if len(code) != 3 {
		return 0
	}
	return uint16(code[0]-0x60)<<10 | uint16(code[1]-0x60)<<5 | uint16(code[2]-0x60)
}

// WriteHdlr writes an hdlr box.
func (w *Writer) WriteHdlr(handler string, name string) {
	w.StartFullBox(mp4.TypeHdlr, 0, 0)
	w.U32(0)
	w.Raw([]byte(handler))
	w.Zero(12)
	w.Raw([]byte(name))
	w.U8(0)
	w.EndBox()
}

// WriteVmhd writes a vmhd box.
func (w *Writer) WriteVmhd() {
	w.StartFullBox(mp4.TypeVmhd, 0, 1)
	w.Zero(8)
	w.EndBox()
}

// WriteSmhd writes an smhd box.
func (w *Writer) WriteSmhd() {
	w.StartFullBox(mp4.TypeSmhd, 0, 0)
	w.Zero(4)
	w.EndBox()
}

// WriteNmhd writes an nmhd box.
func (w *Writer) WriteNmhd() {
	w.StartFullBox(mp4.TypeNmhd, 0, 0)
	w.EndBox()
}

// WriteDinf writes a dinf box with a self-contained url entry.
func (w *Writer) WriteDinf() {
	w.StartBox(mp4.TypeDinf)
	w.StartFullBox(mp4.TypeDref, 0, 0)
	w.U32(1)
	w.StartFullBox(Type("url "), 0, 1)
	w.EndBox()
	w.EndBox()
	w.EndBox()
}

// StartVisualEntry opens a visual sample entry; close it with EndBox.
func (w *Writer) StartVisualEntry(t mp4.BoxType, width, height uint16) {
	w.StartBox(t)
	w.Zero(6)
	w.U16(1) // data_reference_index
	w.Zero(16)
	w.U16(width)
	w.U16(height)
	w.U32(0x00480000)
	w.U32(0x00480000)
	w.U32(0)
	w.U16(1) // frame_count
	w.Zero(32)
	w.U16(0x0018)
	w.U16(0xffff)
}

// WriteAvcC writes an avcC box holding record.
func (w *Writer) WriteAvcC(record []byte) {
	w.StartBox(mp4.TypeAvcC)
	w.Raw(record)
	w.EndBox()
}

// AvcRecord returns a minimal AVC decoder configuration record without
// parameter sets.
func AvcRecord(profile, compat, level uint8) []byte {
	return []byte{1, profile, compat, level, 0xff, 0xe0, 0x00}
}

// WriteHvcC writes an hvcC box holding record.
func (w *Writer) WriteHvcC(record []byte) {
	w.StartBox(mp4.TypeHvcC)
	w.Raw(record)
	w.EndBox()
}

// HvcRecord returns a minimal HEVC decoder configuration record without
// parameter set arrays.
func HvcRecord(profileIDC, levelIDC uint8) []byte {
	b := make([]byte, 23)
	b[0] = 1
	b[1] = profileIDC & 0x1f
	b[2] = 0x60 // general_profile_compatibility_flags
	b[12] = levelIDC
	b[13] = 0xf0
	b[15] = 0xfc
	b[16] = 0xfd
	b[17] = 0xf8
	b[18] = 0xf8
	b[21] = 0x0f // lengthSizeMinusOne = 3
	b[22] = 0    // numOfArrays
	return b
}

// StartAudioEntry opens a version 0 audio sample entry; close it with EndBox.
func (w *Writer) StartAudioEntry(t mp4.BoxType, channels, sampleSize uint16, sampleRate uint32) {
	w.StartBox(t)
	w.Zero(6)
	w.U16(1)
	w.Zero(8)
	w.U16(channels)
	w.U16(sampleSize)
	w.Zero(4)
	w.U32(sampleRate << 16)
}

// WriteEsds writes an esds box with a decoder config and specific info.
func (w *Writer) WriteEsds(oti uint8, maxBitrate, avgBitrate uint32, asc []byte) {
	w.StartFullBox(mp4.TypeEsds, 0, 0)
	dsi := append([]byte{0x05, byte(len(asc))}, asc...)
	dcdLen := 13 + len(dsi)
	esLen := 3 + 2 + dcdLen + 3

	w.U8(0x03)
	w.U8(byte(esLen))
	w.U16(1) // ES_ID
	w.U8(0)  // flags

	w.U8(0x04)
	w.U8(byte(dcdLen))
	w.U8(oti)
	w.U8(0x15) // audio stream
	w.Raw([]byte{0, 0, 0})
	w.U32(maxBitrate)
	w.U32(avgBitrate)
	w.Raw(dsi)

	w.Raw([]byte{0x06, 0x01, 0x02}) // SLConfigDescriptor
	w.EndBox()
}

// StartTextEntry opens a tx3g sample entry; close it with EndBox.
func (w *Writer) StartTextEntry() {
	w.StartBox(mp4.TypeTx3g)
	w.Zero(6)
	w.U16(1)
	w.U32(0) // displayFlags
	w.U8(1)
	w.U8(0xff)
	w.Zero(4) // background color
	w.Zero(8) // box record
	w.Zero(4) // start/end char
	w.U16(1)  // font id
	w.U8(0)   // face style
	w.U8(18)  // font size
	w.Raw([]byte{0xff, 0xff, 0xff, 0xff})
}

// WriteStts writes a time-to-sample box.
func (w *Writer) WriteStts(entries []mp4.SttsEntry) {
	w.StartFullBox(mp4.TypeStts, 0, 0)
	w.U32(uint32(len(entries)))
	for _, e := range entries {
		w.U32(e.Count)
		w.U32(e.Duration)
	}
	w.EndBox()
}

// WriteCtts writes a version 1 composition offset box.
func (w *Writer) WriteCtts(entries []mp4.CttsEntry) {
	w.StartFullBox(mp4.TypeCtts, 1, 0)
	w.U32(uint32(len(entries)))
	for _, e := range entries {
		w.U32(e.Count)
		w.U32(uint32(e.Offset))
	}
	w.EndBox()
}

// WriteStss writes a sync sample box.
func (w *Writer) WriteStss(samples []uint32) {
	w.writeU32Table(mp4.TypeStss, samples)
}

// WriteStsc writes a sample-to-chunk box.
func (w *Writer) WriteStsc(entries []mp4.StscEntry) {
	w.StartFullBox(mp4.TypeStsc, 0, 0)
	w.U32(uint32(len(entries)))
	for _, e := range entries {
		w.U32(e.FirstChunk)
		w.U32(e.SamplesPerChunk)
		w.U32(e.SampleDescriptionID)
	}
	w.EndBox()
}

// WriteStsz writes a sample size box. A non-zero uniform size ignores sizes.
func (w *Writer) WriteStsz(uniform uint32, count uint32, sizes []uint32) {
	w.StartFullBox(mp4.TypeStsz, 0, 0)
	w.U32(uniform)
	if uniform != 0 {
		w.U32(count)
	} else {
		w.U32(uint32(len(sizes)))
		for _, s := range sizes {
			w.U32(s)
		}
	}
	w.EndBox()
}

// WriteStco writes a 32-bit chunk offset box.
func (w *Writer) WriteStco(offsets []uint32) {
	w.writeU32Table(mp4.TypeStco, offsets)
}

// WriteCo64 writes a 64-bit chunk offset box.
func (w *Writer) WriteCo64(offsets []uint64) {
	w.StartFullBox(mp4.TypeCo64, 0, 0)
	w.U32(uint32(len(offsets)))
	for _, o := range offsets {
		w.U64(o)
	}
	w.EndBox()
}

func (w *Writer) writeU32Table(t mp4.BoxType, v []uint32) {
	w.StartFullBox(t, 0, 0)
	w.U32(uint32(len(v)))
	for _, x := range v {
		w.U32(x)
	}
	w.EndBox()
}

// WriteTrex writes a track extends box.
func (w *Writer) WriteTrex(trackID, descIndex, duration, size, flags uint32) {
	w.StartFullBox(mp4.TypeTrex, 0, 0)
	w.U32(trackID)
	w.U32(descIndex)
	w.U32(duration)
	w.U32(size)
	w.U32(flags)
	w.EndBox()
}

// WriteMfhd writes a movie fragment header.
func (w *Writer) WriteMfhd(seq uint32) {
	w.StartFullBox(mp4.TypeMfhd, 0, 0)
	w.U32(seq)
	w.EndBox()
}

// WriteTfhd writes a track fragment header. Optional fields are written
// according to flags.
func (w *Writer) WriteTfhd(flags uint32, h mp4.Tfhd) {
	w.StartFullBox(mp4.TypeTfhd, 0, flags)
	w.U32(h.TrackID)
	if flags&mp4.TfhdBaseDataOffsetPresent != 0 {
		w.U64(h.BaseDataOffset)
	}
	if flags&mp4.TfhdSampleDescriptionIndexPresent != 0 {
		w.U32(h.SampleDescriptionIndex)
	}
	if flags&mp4.TfhdDefaultSampleDurationPresent != 0 {
		w.U32(h.DefaultSampleDuration)
	}
	if flags&mp4.TfhdDefaultSampleSizePresent != 0 {
		w.U32(h.DefaultSampleSize)
	}
	if flags&mp4.TfhdDefaultSampleFlagsPresent != 0 {
		w.U32(h.DefaultSampleFlags)
	}
	w.EndBox()
}

// WriteTfdt writes a version 1 track fragment decode time box.
func (w *Writer) WriteTfdt(baseDecodeTime uint64) {
	w.StartFullBox(mp4.TypeTfdt, 1, 0)
	w.U64(baseDecodeTime)
	w.EndBox()
}

// WriteTrun writes a track run. Per-sample fields are written according to
// flags.
func (w *Writer) WriteTrun(flags uint32, r mp4.Trun) {
	w.StartFullBox(mp4.TypeTrun, 1, flags)
	w.U32(uint32(len(r.Entries)))
	if flags&mp4.TrunDataOffsetPresent != 0 {
		w.U32(uint32(r.DataOffset))
	}
	if flags&mp4.TrunFirstSampleFlagsPresent != 0 {
		w.U32(r.FirstSampleFlags)
	}
	for _, e := range r.Entries {
		if flags&mp4.TrunSampleDurationPresent != 0 {
			w.U32(e.Duration)
		}
		if flags&mp4.TrunSampleSizePresent != 0 {
			w.U32(e.Size)
		}
		if flags&mp4.TrunSampleFlagsPresent != 0 {
			w.U32(e.Flags)
		}
		if flags&mp4.TrunSampleCompositionTimeOffsetPresent != 0 {
			w.U32(uint32(e.CompositionTimeOffset))
		}
	}
	w.EndBox()
}

// WriteMdat writes an mdat box with n zero bytes of payload.
func (w *Writer) WriteMdat(n int) {
	w.StartBox(mp4.TypeMdat)
	w.Zero(n)
	w.EndBox()
}
