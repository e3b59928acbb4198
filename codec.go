package mp4

import (
	"fmt"
)

// Typed payloads for each known box.

// Ftyp represents the file type box.
type Ftyp struct {
	MajorBrand       BoxType
	MinorVersion     uint32
	CompatibleBrands []BoxType
}

// Mvhd represents the movie header box.
type Mvhd struct {
	CreationTime     uint64
	ModificationTime uint64
	Timescale        uint32
	Duration         uint64
	Rate             uint32 // 16.16 fixed point
	Volume           uint16 // 8.8 fixed point
	NextTrackID      uint32
}

// Tkhd represents the track header box.
type Tkhd struct {
	CreationTime     uint64
	ModificationTime uint64
	TrackID          uint32
	Duration         uint64
	Layer            int16
	AlternateGroup   int16
	Volume           uint16 // 8.8 fixed point
	Width            uint32 // 16.16 fixed point
	Height           uint32 // 16.16 fixed point
}

// ElstEntry is an edit list entry.
type ElstEntry struct {
	SegmentDuration   uint64
	MediaTime         int64
	MediaRateInteger  int16
	MediaRateFraction int16
}

// Elst represents the edit list box.
type Elst struct {
	Entries []ElstEntry
}

// Mdhd represents the media header box.
type Mdhd struct {
	CreationTime     uint64
	ModificationTime uint64
	Timescale        uint32
	Duration         uint64
	Language         uint16 // packed ISO-639-2/T code
}

// LanguageCode unpacks the three 5-bit letters of the language field.
// An unset field reads as "und".
func (m *Mdhd) LanguageCode() string {
	if m.Language&0x7fff == 0 {
		return "und"
	}
	var b [3]byte
	b[0] = byte((m.Language>>10)&0x1f) + 0x60
	b[1] = byte((m.Language>>5)&0x1f) + 0x60
	b[2] = byte(m.Language&0x1f) + 0x60
	return string(b[:])
}

// Hdlr represents the handler reference box.
type Hdlr struct {
	HandlerType BoxType
	Name        string
}

// Vmhd represents the video media header box.
type Vmhd struct {
	GraphicsMode uint16
	Opcolor      [3]uint16
}

// Smhd represents the sound media header box.
type Smhd struct {
	Balance int16 // 8.8 fixed point
}

// Stsd represents the sample description box. Entries are the box's children.
type Stsd struct {
	EntryCount uint32
}

// Dref represents the data reference box. Entries are the box's children.
type Dref struct {
	EntryCount uint32
}

// VisualSampleEntry represents a visual sample entry (avc1, hev1, vp09 ...).
type VisualSampleEntry struct {
	DataReferenceIndex uint16
	Width              uint16
	Height             uint16
	HResolution        uint32 // 16.16 fixed point
	VResolution        uint32 // 16.16 fixed point
	FrameCount         uint16
	CompressorName     string
	Depth              uint16
}

// AudioSampleEntry represents an audio sample entry (mp4a).
type AudioSampleEntry struct {
	DataReferenceIndex uint16
	Version            uint16
	ChannelCount       uint16
	SampleSize         uint16
	SampleRate         uint32 // 16.16 fixed point
}

// TextSampleEntry represents a 3GPP timed text sample entry (tx3g).
type TextSampleEntry struct {
	DataReferenceIndex  uint16
	DisplayFlags        uint32
	HorizontalJustify   int8
	VerticalJustify     int8
	BackgroundColor     [4]byte
	BoxTop, BoxLeft     int16
	BoxBottom, BoxRight int16
	StyleStartChar      uint16
	StyleEndChar        uint16
	FontID              uint16
	FaceStyleFlags      uint8
	FontSize            uint8
	TextColor           [4]byte
}

// AvcC represents the AVC decoder configuration box.
type AvcC struct {
	Record               []byte
	ProfileIndication    uint8
	ProfileCompatibility uint8
	LevelIndication      uint8
}

// HvcC represents the HEVC decoder configuration box.
type HvcC struct {
	Record              []byte
	GeneralProfileSpace uint8
	GeneralTierFlag     bool
	GeneralProfileIDC   uint8
	GeneralLevelIDC     uint8
	Arrays              []HvcArray
}

// HvcArray is one parameter set array of an hvcC record.
type HvcArray struct {
	NALUnitType uint8
	NALUs       [][]byte
}

// NALUs returns the parameter sets of the given NAL unit type
// (32 VPS, 33 SPS, 34 PPS).
func (h *HvcC) NALUs(typ uint8) [][]byte {
	for _, a := range h.Arrays {
		if a.NALUnitType == typ {
			return a.NALUs
		}
	}
	return nil
}

// SttsEntry is a time-to-sample entry.
type SttsEntry struct {
	Count    uint32
	Duration uint32
}

// Stts represents the time-to-sample box.
type Stts struct {
	Entries []SttsEntry
}

// CttsEntry is a composition offset entry.
type CttsEntry struct {
	Count  uint32
	Offset int32
}

// Ctts represents the composition offset box.
type Ctts struct {
	Entries []CttsEntry
}

// Stss represents the sync sample box. Entries are 1-based sample numbers.
type Stss struct {
	Entries []uint32
}

// StscEntry is a sample-to-chunk entry.
type StscEntry struct {
	FirstChunk          uint32
	SamplesPerChunk     uint32
	SampleDescriptionID uint32
}

// Stsc represents the sample-to-chunk box.
type Stsc struct {
	Entries []StscEntry
}

// Stsz represents the sample size box. Entries is nil when every sample
// has the same SampleSize.
type Stsz struct {
	SampleSize  uint32
	SampleCount uint32
	Entries     []uint32
}

// Size returns the size of the i-th sample (0-based).
func (s *Stsz) Size(i int) uint32 {
	if s.SampleSize != 0 {
		return s.SampleSize
	}
	return s.Entries[i]
}

// Stco represents the 32-bit chunk offset box.
type Stco struct {
	Entries []uint32
}

// Co64 represents the 64-bit chunk offset box.
type Co64 struct {
	Entries []uint64
}

// Mehd represents the movie extends header box.
type Mehd struct {
	FragmentDuration uint64
}

// Trex represents the track extends box.
type Trex struct {
	TrackID                       uint32
	DefaultSampleDescriptionIndex uint32
	DefaultSampleDuration         uint32
	DefaultSampleSize             uint32
	DefaultSampleFlags            uint32
}

// Mfhd represents the movie fragment header box.
type Mfhd struct {
	SequenceNumber uint32
}

// Tfhd flags.
const (
	TfhdBaseDataOffsetPresent         = 0x000001
	TfhdSampleDescriptionIndexPresent = 0x000002
	TfhdDefaultSampleDurationPresent  = 0x000008
	TfhdDefaultSampleSizePresent      = 0x000010
	TfhdDefaultSampleFlagsPresent     = 0x000020
	TfhdDurationIsEmpty               = 0x010000
	TfhdDefaultBaseIsMoof             = 0x020000
)

// Tfhd represents the track fragment header box. Optional fields are only
// meaningful when the matching flag is set on the box.
type Tfhd struct {
	TrackID                uint32
	BaseDataOffset         uint64
	SampleDescriptionIndex uint32
	DefaultSampleDuration  uint32
	DefaultSampleSize      uint32
	DefaultSampleFlags     uint32
}

// Tfdt represents the track fragment decode time box.
type Tfdt struct {
	BaseMediaDecodeTime uint64
}

// Trun flags.
const (
	TrunDataOffsetPresent                  = 0x000001
	TrunFirstSampleFlagsPresent            = 0x000004
	TrunSampleDurationPresent              = 0x000100
	TrunSampleSizePresent                  = 0x000200
	TrunSampleFlagsPresent                 = 0x000400
	TrunSampleCompositionTimeOffsetPresent = 0x000800
)

// SampleIsNonSync is the sample_is_non_sync_sample bit of sample flags.
const SampleIsNonSync = 0x00010000

// TrunEntry is a track run sample entry. Fields absent from the run are zero.
type TrunEntry struct {
	Duration              uint32
	Size                  uint32
	Flags                 uint32
	CompositionTimeOffset int32
}

// Trun represents the track run box. Entries is nil when the run carries no
// per-sample fields.
type Trun struct {
	SampleCount      uint32
	DataOffset       int32
	FirstSampleFlags uint32
	Entries          []TrunEntry
}

type payloadDecoder func(box *Box, b []byte) error

var codecs = map[BoxType]payloadDecoder{}

// sampleEntries maps sample entry types to their layout.
var sampleEntries = map[BoxType]entryKind{}

type entryKind uint8

const (
	entryVisual entryKind = iota + 1
	entryAudio
	entryText
)

func init() {
	codecs[TypeFtyp] = decodeFtyp
	codecs[TypeMvhd] = decodeMvhd
	codecs[TypeTkhd] = decodeTkhd
	codecs[TypeElst] = decodeElst
	codecs[TypeMdhd] = decodeMdhd
	codecs[TypeHdlr] = decodeHdlr
	codecs[TypeVmhd] = decodeVmhd
	codecs[TypeSmhd] = decodeSmhd
	codecs[TypeAvcC] = decodeAvcC
	codecs[TypeHvcC] = decodeHvcC
	codecs[TypeEsds] = decodeEsds
	codecs[TypeStts] = decodeStts
	codecs[TypeCtts] = decodeCtts
	codecs[TypeStss] = decodeStss
	codecs[TypeStsc] = decodeStsc
	codecs[TypeStsz] = decodeStsz
	codecs[TypeStco] = decodeStco
	codecs[TypeCo64] = decodeCo64
	codecs[TypeMehd] = decodeMehd
	codecs[TypeTrex] = decodeTrex
	codecs[TypeMfhd] = decodeMfhd
	codecs[TypeTfhd] = decodeTfhd
	codecs[TypeTfdt] = decodeTfdt
	codecs[TypeTrun] = decodeTrun

	for _, t := range []BoxType{TypeAvc1, TypeAvc3, TypeHev1, TypeHvc1, TypeVp09} {
		sampleEntries[t] = entryVisual
	}
	sampleEntries[TypeMp4a] = entryAudio
	sampleEntries[TypeTx3g] = entryText
}

func need(b []byte, n int, what string) error {
	if len(b) < n {
		return fmt.Errorf("%s: need %d bytes, have %d: %w", what, n, len(b), ErrTruncated)
	}
	return nil
}

// needTable checks that count entries of stride bytes fit after off.
func needTable(b []byte, off int, count uint32, stride int, what string) error {
	if uint64(count)*uint64(stride) > uint64(len(b)-off) {
		return fmt.Errorf("%s: %d entries do not fit in %d bytes: %w", what, count, len(b)-off, ErrTruncated)
	}
	return nil
}

// --- ftyp ---

func decodeFtyp(box *Box, b []byte) error {
	if err := need(b, 8, "ftyp"); err != nil {
		return err
	}
	f := &Ftyp{MinorVersion: be.Uint32(b[4:8])}
	copy(f.MajorBrand[:], b[0:4])
	for i := 8; i+4 <= len(b); i += 4 {
		var brand BoxType
		copy(brand[:], b[i:i+4])
		f.CompatibleBrands = append(f.CompatibleBrands, brand)
	}
	box.Ftyp = f
	return nil
}

// --- mvhd ---

func decodeMvhd(box *Box, b []byte) error {
	m := &Mvhd{}
	var p int
	if box.Version == 1 {
		if err := need(b, 108, "mvhd"); err != nil {
			return err
		}
		m.CreationTime = be.Uint64(b[0:8])
		m.ModificationTime = be.Uint64(b[8:16])
		m.Timescale = be.Uint32(b[16:20])
		m.Duration = be.Uint64(b[20:28])
		p = 28
	} else {
		if err := need(b, 96, "mvhd"); err != nil {
			return err
		}
		m.CreationTime = uint64(be.Uint32(b[0:4]))
		m.ModificationTime = uint64(be.Uint32(b[4:8]))
		m.Timescale = be.Uint32(b[8:12])
		m.Duration = uint64(be.Uint32(b[12:16]))
		p = 16
	}
	// rate(4) volume(2) reserved(10) matrix(36) pre_defined(24) next_track_ID(4)
	m.Rate = be.Uint32(b[p:])
	m.Volume = be.Uint16(b[p+4:])
	m.NextTrackID = be.Uint32(b[p+76:])
	box.Mvhd = m
	return nil
}

// --- tkhd ---

func decodeTkhd(box *Box, b []byte) error {
	t := &Tkhd{}
	var p int
	if box.Version == 1 {
		if err := need(b, 92, "tkhd"); err != nil {
			return err
		}
		t.CreationTime = be.Uint64(b[0:8])
		t.ModificationTime = be.Uint64(b[8:16])
		t.TrackID = be.Uint32(b[16:20])
		t.Duration = be.Uint64(b[24:32])
		p = 32
	} else {
		if err := need(b, 80, "tkhd"); err != nil {
			return err
		}
		t.CreationTime = uint64(be.Uint32(b[0:4]))
		t.ModificationTime = uint64(be.Uint32(b[4:8]))
		t.TrackID = be.Uint32(b[8:12])
		t.Duration = uint64(be.Uint32(b[16:20]))
		p = 20
	}
	// reserved(8) layer(2) alternate_group(2) volume(2) reserved(2) matrix(36) width(4) height(4)
	t.Layer = int16(be.Uint16(b[p+8:]))
	t.AlternateGroup = int16(be.Uint16(b[p+10:]))
	t.Volume = be.Uint16(b[p+12:])
	t.Width = be.Uint32(b[p+52:])
	t.Height = be.Uint32(b[p+56:])
	box.Tkhd = t
	return nil
}

// --- elst ---

func decodeElst(box *Box, b []byte) error {
	if err := need(b, 4, "elst"); err != nil {
		return err
	}
	num := be.Uint32(b[0:4])
	stride := 12
	if box.Version == 1 {
		stride = 20
	}
	if err := needTable(b, 4, num, stride, "elst"); err != nil {
		return err
	}
	entries := make([]ElstEntry, num)
	for i := range entries {
		p := 4 + i*stride
		if box.Version == 1 {
			entries[i].SegmentDuration = be.Uint64(b[p:])
			entries[i].MediaTime = int64(be.Uint64(b[p+8:]))
			p += 16
		} else {
			entries[i].SegmentDuration = uint64(be.Uint32(b[p:]))
			entries[i].MediaTime = int64(int32(be.Uint32(b[p+4:])))
			p += 8
		}
		entries[i].MediaRateInteger = int16(be.Uint16(b[p:]))
		entries[i].MediaRateFraction = int16(be.Uint16(b[p+2:]))
	}
	box.Elst = &Elst{Entries: entries}
	return nil
}

// --- mdhd ---

func decodeMdhd(box *Box, b []byte) error {
	m := &Mdhd{}
	if box.Version == 1 {
		if err := need(b, 32, "mdhd"); err != nil {
			return err
		}
		m.CreationTime = be.Uint64(b[0:8])
		m.ModificationTime = be.Uint64(b[8:16])
		m.Timescale = be.Uint32(b[16:20])
		m.Duration = be.Uint64(b[20:28])
		m.Language = be.Uint16(b[28:30])
	} else {
		if err := need(b, 20, "mdhd"); err != nil {
			return err
		}
		m.CreationTime = uint64(be.Uint32(b[0:4]))
		m.ModificationTime = uint64(be.Uint32(b[4:8]))
		m.Timescale = be.Uint32(b[8:12])
		m.Duration = uint64(be.Uint32(b[12:16]))
		m.Language = be.Uint16(b[16:18])
	}
	box.Mdhd = m
	return nil
}

// --- hdlr ---

func decodeHdlr(box *Box, b []byte) error {
	if err := need(b, 20, "hdlr"); err != nil {
		return err
	}
	h := &Hdlr{Name: readString(b[20:])}
	copy(h.HandlerType[:], b[4:8])
	box.Hdlr = h
	return nil
}

// --- vmhd / smhd ---

func decodeVmhd(box *Box, b []byte) error {
	if err := need(b, 8, "vmhd"); err != nil {
		return err
	}
	box.Vmhd = &Vmhd{
		GraphicsMode: be.Uint16(b[0:2]),
		Opcolor:      [3]uint16{be.Uint16(b[2:4]), be.Uint16(b[4:6]), be.Uint16(b[6:8])},
	}
	return nil
}

func decodeSmhd(box *Box, b []byte) error {
	if err := need(b, 4, "smhd"); err != nil {
		return err
	}
	box.Smhd = &Smhd{Balance: int16(be.Uint16(b[0:2]))}
	return nil
}

// --- sample entries ---

// decodeSampleEntry decodes the fixed fields of a sample entry and returns
// the offset where its child boxes begin.
func decodeSampleEntry(box *Box, b []byte) (int, error) {
	switch sampleEntries[box.Type] {
	case entryVisual:
		if err := need(b, 78, box.Type.String()); err != nil {
			return 0, err
		}
		nameLen := min(int(b[42]), 31)
		box.Visual = &VisualSampleEntry{
			DataReferenceIndex: be.Uint16(b[6:8]),
			Width:              be.Uint16(b[24:26]),
			Height:             be.Uint16(b[26:28]),
			HResolution:        be.Uint32(b[28:32]),
			VResolution:        be.Uint32(b[32:36]),
			FrameCount:         be.Uint16(b[40:42]),
			CompressorName:     string(b[43 : 43+nameLen]),
			Depth:              be.Uint16(b[74:76]),
		}
		return 78, nil

	case entryAudio:
		if err := need(b, 28, box.Type.String()); err != nil {
			return 0, err
		}
		a := &AudioSampleEntry{
			DataReferenceIndex: be.Uint16(b[6:8]),
			Version:            be.Uint16(b[8:10]),
			ChannelCount:       be.Uint16(b[16:18]),
			SampleSize:         be.Uint16(b[18:20]),
			SampleRate:         be.Uint32(b[24:28]),
		}
		box.Audio = a
		// QuickTime sound description v1 and v2 carry extra fields.
		n := 28
		switch a.Version {
		case 1:
			n += 16
		case 2:
			n += 36
		}
		if err := need(b, n, box.Type.String()); err != nil {
			return 0, err
		}
		return n, nil

	case entryText:
		if err := need(b, 38, box.Type.String()); err != nil {
			return 0, err
		}
		t := &TextSampleEntry{
			DataReferenceIndex: be.Uint16(b[6:8]),
			DisplayFlags:       be.Uint32(b[8:12]),
			HorizontalJustify:  int8(b[12]),
			VerticalJustify:    int8(b[13]),
			BoxTop:             int16(be.Uint16(b[18:20])),
			BoxLeft:            int16(be.Uint16(b[20:22])),
			BoxBottom:          int16(be.Uint16(b[22:24])),
			BoxRight:           int16(be.Uint16(b[24:26])),
			StyleStartChar:     be.Uint16(b[26:28]),
			StyleEndChar:       be.Uint16(b[28:30]),
			FontID:             be.Uint16(b[30:32]),
			FaceStyleFlags:     b[32],
			FontSize:           b[33],
		}
		copy(t.BackgroundColor[:], b[14:18])
		copy(t.TextColor[:], b[34:38])
		box.Text = t
		return 38, nil
	}
	return 0, nil
}

// --- avcC / hvcC ---

func decodeAvcC(box *Box, b []byte) error {
	if err := need(b, 4, "avcC"); err != nil {
		return err
	}
	box.AvcC = &AvcC{
		Record:               append([]byte(nil), b...),
		ProfileIndication:    b[1],
		ProfileCompatibility: b[2],
		LevelIndication:      b[3],
	}
	return nil
}

func decodeHvcC(box *Box, b []byte) error {
	if err := need(b, 13, "hvcC"); err != nil {
		return err
	}
	h := &HvcC{
		Record:              append([]byte(nil), b...),
		GeneralProfileSpace: b[1] >> 6,
		GeneralTierFlag:     b[1]&0x20 != 0,
		GeneralProfileIDC:   b[1] & 0x1f,
		GeneralLevelIDC:     b[12],
	}
	box.HvcC = h
	if len(h.Record) < 23 {
		return nil
	}
	// Parameter set arrays follow the 23-byte fixed part.
	rec := h.Record
	num := int(rec[22])
	p := 23
	for range num {
		if p+3 > len(rec) {
			return fmt.Errorf("hvcC: array header: %w", ErrTruncated)
		}
		a := HvcArray{NALUnitType: rec[p] & 0x3f}
		n := int(be.Uint16(rec[p+1:]))
		p += 3
		for range n {
			if p+2 > len(rec) {
				return fmt.Errorf("hvcC: NAL unit length: %w", ErrTruncated)
			}
			l := int(be.Uint16(rec[p:]))
			p += 2
			if p+l > len(rec) {
				return fmt.Errorf("hvcC: NAL unit: %w", ErrTruncated)
			}
			a.NALUs = append(a.NALUs, rec[p:p+l])
			p += l
		}
		h.Arrays = append(h.Arrays, a)
	}
	return nil
}

// --- stts / ctts ---

func decodeStts(box *Box, b []byte) error {
	if err := need(b, 4, "stts"); err != nil {
		return err
	}
	num := be.Uint32(b[0:4])
	if err := needTable(b, 4, num, 8, "stts"); err != nil {
		return err
	}
	entries := make([]SttsEntry, num)
	for i := range entries {
		p := 4 + i*8
		entries[i] = SttsEntry{
			Count:    be.Uint32(b[p:]),
			Duration: be.Uint32(b[p+4:]),
		}
	}
	box.Stts = &Stts{Entries: entries}
	return nil
}

func decodeCtts(box *Box, b []byte) error {
	if err := need(b, 4, "ctts"); err != nil {
		return err
	}
	num := be.Uint32(b[0:4])
	if err := needTable(b, 4, num, 8, "ctts"); err != nil {
		return err
	}
	entries := make([]CttsEntry, num)
	for i := range entries {
		p := 4 + i*8
		// Version 0 stores unsigned offsets; in practice they are read as
		// signed the same way version 1 does.
		entries[i] = CttsEntry{
			Count:  be.Uint32(b[p:]),
			Offset: int32(be.Uint32(b[p+4:])),
		}
	}
	box.Ctts = &Ctts{Entries: entries}
	return nil
}

// --- stss ---

func decodeStss(box *Box, b []byte) error {
	entries, err := decodeUint32Table(b, "stss")
	if err != nil {
		return err
	}
	box.Stss = &Stss{Entries: entries}
	return nil
}

// --- stsc ---

func decodeStsc(box *Box, b []byte) error {
	if err := need(b, 4, "stsc"); err != nil {
		return err
	}
	num := be.Uint32(b[0:4])
	if err := needTable(b, 4, num, 12, "stsc"); err != nil {
		return err
	}
	entries := make([]StscEntry, num)
	for i := range entries {
		p := 4 + i*12
		entries[i] = StscEntry{
			FirstChunk:          be.Uint32(b[p:]),
			SamplesPerChunk:     be.Uint32(b[p+4:]),
			SampleDescriptionID: be.Uint32(b[p+8:]),
		}
	}
	box.Stsc = &Stsc{Entries: entries}
	return nil
}

// --- stsz ---

func decodeStsz(box *Box, b []byte) error {
	if err := need(b, 8, "stsz"); err != nil {
		return err
	}
	s := &Stsz{
		SampleSize:  be.Uint32(b[0:4]),
		SampleCount: be.Uint32(b[4:8]),
	}
	if s.SampleSize == 0 {
		if err := needTable(b, 8, s.SampleCount, 4, "stsz"); err != nil {
			return err
		}
		s.Entries = make([]uint32, s.SampleCount)
		for i := range s.Entries {
			s.Entries[i] = be.Uint32(b[8+i*4:])
		}
	}
	box.Stsz = s
	return nil
}

// --- stco / co64 ---

func decodeStco(box *Box, b []byte) error {
	entries, err := decodeUint32Table(b, "stco")
	if err != nil {
		return err
	}
	box.Stco = &Stco{Entries: entries}
	return nil
}

func decodeCo64(box *Box, b []byte) error {
	if err := need(b, 4, "co64"); err != nil {
		return err
	}
	num := be.Uint32(b[0:4])
	if err := needTable(b, 4, num, 8, "co64"); err != nil {
		return err
	}
	entries := make([]uint64, num)
	for i := range entries {
		entries[i] = be.Uint64(b[4+i*8:])
	}
	box.Co64 = &Co64{Entries: entries}
	return nil
}

func decodeUint32Table(b []byte, what string) ([]uint32, error) {
	if err := need(b, 4, what); err != nil {
		return nil, err
	}
	num := be.Uint32(b[0:4])
	if err := needTable(b, 4, num, 4, what); err != nil {
		return nil, err
	}
	entries := make([]uint32, num)
	for i := range entries {
		entries[i] = be.Uint32(b[4+i*4:])
	}
	return entries, nil
}

// --- mehd / trex ---

func decodeMehd(box *Box, b []byte) error {
	if box.Version == 1 {
		if err := need(b, 8, "mehd"); err != nil {
			return err
		}
		box.Mehd = &Mehd{FragmentDuration: be.Uint64(b[0:8])}
		return nil
	}
	if err := need(b, 4, "mehd"); err != nil {
		return err
	}
	box.Mehd = &Mehd{FragmentDuration: uint64(be.Uint32(b[0:4]))}
	return nil
}

func decodeTrex(box *Box, b []byte) error {
	if err := need(b, 20, "trex"); err != nil {
		return err
	}
	box.Trex = &Trex{
		TrackID:                       be.Uint32(b[0:4]),
		DefaultSampleDescriptionIndex: be.Uint32(b[4:8]),
		DefaultSampleDuration:         be.Uint32(b[8:12]),
		DefaultSampleSize:             be.Uint32(b[12:16]),
		DefaultSampleFlags:            be.Uint32(b[16:20]),
	}
	return nil
}

// --- mfhd / tfhd / tfdt ---

func decodeMfhd(box *Box, b []byte) error {
	if err := need(b, 4, "mfhd"); err != nil {
		return err
	}
	box.Mfhd = &Mfhd{SequenceNumber: be.Uint32(b[0:4])}
	return nil
}

func decodeTfhd(box *Box, b []byte) error {
	f := box.Flags
	n := 4
	if f&TfhdBaseDataOffsetPresent != 0 {
		n += 8
	}
	for _, flag := range []uint32{TfhdSampleDescriptionIndexPresent, TfhdDefaultSampleDurationPresent,
		TfhdDefaultSampleSizePresent, TfhdDefaultSampleFlagsPresent} {
		if f&flag != 0 {
			n += 4
		}
	}
	if err := need(b, n, "tfhd"); err != nil {
		return err
	}

	t := &Tfhd{TrackID: be.Uint32(b[0:4])}
	p := 4
	if f&TfhdBaseDataOffsetPresent != 0 {
		t.BaseDataOffset = be.Uint64(b[p:])
		p += 8
	}
	if f&TfhdSampleDescriptionIndexPresent != 0 {
		t.SampleDescriptionIndex = be.Uint32(b[p:])
		p += 4
	}
	if f&TfhdDefaultSampleDurationPresent != 0 {
		t.DefaultSampleDuration = be.Uint32(b[p:])
		p += 4
	}
	if f&TfhdDefaultSampleSizePresent != 0 {
		t.DefaultSampleSize = be.Uint32(b[p:])
		p += 4
	}
	if f&TfhdDefaultSampleFlagsPresent != 0 {
		t.DefaultSampleFlags = be.Uint32(b[p:])
	}
	box.Tfhd = t
	return nil
}

func decodeTfdt(box *Box, b []byte) error {
	if box.Version == 1 {
		if err := need(b, 8, "tfdt"); err != nil {
			return err
		}
		box.Tfdt = &Tfdt{BaseMediaDecodeTime: be.Uint64(b[0:8])}
		return nil
	}
	if err := need(b, 4, "tfdt"); err != nil {
		return err
	}
	box.Tfdt = &Tfdt{BaseMediaDecodeTime: uint64(be.Uint32(b[0:4]))}
	return nil
}

// --- trun ---

func decodeTrun(box *Box, b []byte) error {
	if err := need(b, 4, "trun"); err != nil {
		return err
	}
	f := box.Flags
	t := &Trun{SampleCount: be.Uint32(b[0:4])}
	p := 4
	if f&TrunDataOffsetPresent != 0 {
		if err := need(b, p+4, "trun"); err != nil {
			return err
		}
		t.DataOffset = int32(be.Uint32(b[p:]))
		p += 4
	}
	if f&TrunFirstSampleFlagsPresent != 0 {
		if err := need(b, p+4, "trun"); err != nil {
			return err
		}
		t.FirstSampleFlags = be.Uint32(b[p:])
		p += 4
	}

	stride := 0
	for _, flag := range []uint32{TrunSampleDurationPresent, TrunSampleSizePresent,
		TrunSampleFlagsPresent, TrunSampleCompositionTimeOffsetPresent} {
		if f&flag != 0 {
			stride += 4
		}
	}
	if err := needTable(b, p, t.SampleCount, stride, "trun"); err != nil {
		return err
	}

	if stride == 0 {
		// Every sample takes the defaults; SampleCount alone describes the run.
		box.Trun = t
		return nil
	}
	t.Entries = make([]TrunEntry, t.SampleCount)
	for i := range t.Entries {
		e := &t.Entries[i]
		if f&TrunSampleDurationPresent != 0 {
			e.Duration = be.Uint32(b[p:])
			p += 4
		}
		if f&TrunSampleSizePresent != 0 {
			e.Size = be.Uint32(b[p:])
			p += 4
		}
		if f&TrunSampleFlagsPresent != 0 {
			e.Flags = be.Uint32(b[p:])
			p += 4
		}
		if f&TrunSampleCompositionTimeOffsetPresent != 0 {
			e.CompositionTimeOffset = int32(be.Uint32(b[p:]))
			p += 4
		}
	}
	box.Trun = t
	return nil
}
