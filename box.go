// Package mp4 decodes ISO Base Media File Format (MP4) boxes into an owned
// box tree.
package mp4

import (
	"encoding/binary"
	"fmt"
)

var be = binary.BigEndian

// maxDepth limits box nesting.
const maxDepth = 32

// BoxType is a 4-byte box type identifier.
type BoxType [4]byte

func (t BoxType) String() string {
	return string(t[:])
}

// Describe returns the type followed by its numeric code,
// e.g. "avc1 / 0x61766331".
func (t BoxType) Describe() string {
	return fmt.Sprintf("%s / 0x%08X", t.String(), be.Uint32(t[:]))
}

// newBoxType creates a BoxType from a 4-character string.
func newBoxType(s string) BoxType {
	var t BoxType
	copy(t[:], s)
	return t
}

// Known box types.
var (
	TypeFtyp = newBoxType("ftyp")
	TypeMoov = newBoxType("moov")
	TypeMvhd = newBoxType("mvhd")
	TypeTrak = newBoxType("trak")
	TypeTkhd = newBoxType("tkhd")
	TypeEdts = newBoxType("edts")
	TypeElst = newBoxType("elst")
	TypeMdia = newBoxType("mdia")
	TypeMdhd = newBoxType("mdhd")
	TypeHdlr = newBoxType("hdlr")
	TypeMinf = newBoxType("minf")
	TypeVmhd = newBoxType("vmhd")
	TypeSmhd = newBoxType("smhd")
	TypeNmhd = newBoxType("nmhd")
	TypeDinf = newBoxType("dinf")
	TypeDref = newBoxType("dref")
	TypeStbl = newBoxType("stbl")
	TypeStsd = newBoxType("stsd")
	TypeStts = newBoxType("stts")
	TypeCtts = newBoxType("ctts")
	TypeStsc = newBoxType("stsc")
	TypeStsz = newBoxType("stsz")
	TypeStco = newBoxType("stco")
	TypeCo64 = newBoxType("co64")
	TypeStss = newBoxType("stss")
	TypeMvex = newBoxType("mvex")
	TypeMehd = newBoxType("mehd")
	TypeTrex = newBoxType("trex")
	TypeMoof = newBoxType("moof")
	TypeMfhd = newBoxType("mfhd")
	TypeTraf = newBoxType("traf")
	TypeTfhd = newBoxType("tfhd")
	TypeTfdt = newBoxType("tfdt")
	TypeTrun = newBoxType("trun")
	TypeUdta = newBoxType("udta")
	TypeMdat = newBoxType("mdat")
	TypeFree = newBoxType("free")
	TypeUUID = newBoxType("uuid")
	TypeAvc1 = newBoxType("avc1")
	TypeAvc3 = newBoxType("avc3")
	TypeAvcC = newBoxType("avcC")
	TypeHev1 = newBoxType("hev1")
	TypeHvc1 = newBoxType("hvc1")
	TypeHvcC = newBoxType("hvcC")
	TypeVp09 = newBoxType("vp09")
	TypeMp4a = newBoxType("mp4a")
	TypeEsds = newBoxType("esds")
	TypeTx3g = newBoxType("tx3g")
)

// containers holds the box types whose payload is a plain sequence of boxes.
var containers = map[BoxType]bool{
	TypeMoov: true, TypeTrak: true, TypeEdts: true, TypeMdia: true,
	TypeMinf: true, TypeDinf: true, TypeStbl: true, TypeMvex: true,
	TypeMoof: true, TypeTraf: true, TypeUdta: true,
}

// countedContainers start with a 4-byte entry count followed by boxes.
var countedContainers = map[BoxType]bool{
	TypeStsd: true,
	TypeDref: true,
}

// fullBoxes is the set of box types that have version+flags in their header.
var fullBoxes = map[BoxType]bool{
	TypeMvhd: true, TypeTkhd: true, TypeMdhd: true, TypeVmhd: true, TypeSmhd: true,
	TypeNmhd: true, TypeStsd: true, TypeEsds: true, TypeStsz: true, TypeStco: true,
	TypeCo64: true, TypeStss: true, TypeStts: true, TypeCtts: true, TypeStsc: true,
	TypeDref: true, TypeElst: true, TypeHdlr: true, TypeMehd: true, TypeTrex: true,
	TypeMfhd: true, TypeTfhd: true, TypeTfdt: true, TypeTrun: true,
}

// IsContainerBox reports whether boxes of type t hold child boxes.
func IsContainerBox(t BoxType) bool {
	return containers[t] || countedContainers[t] || sampleEntries[t] != 0
}

// IsFullBox reports whether boxes of type t carry version and flags.
func IsFullBox(t BoxType) bool {
	return fullBoxes[t]
}

// Box is one node of the parsed box tree. A box exclusively owns its
// children; there are no parent pointers.
type Box struct {
	Type       BoxType
	Size       uint64 // total size including header
	Offset     int64  // absolute position of the header in the buffer
	HeaderSize int
	Version    uint8
	Flags      uint32
	UserType   [16]byte // only for uuid boxes

	// Children in file order.
	Children []*Box

	// Typed payload: at most one of these is non-nil.
	Ftyp   *Ftyp
	Mvhd   *Mvhd
	Tkhd   *Tkhd
	Elst   *Elst
	Mdhd   *Mdhd
	Hdlr   *Hdlr
	Vmhd   *Vmhd
	Smhd   *Smhd
	Stsd   *Stsd
	Dref   *Dref
	Visual *VisualSampleEntry
	Audio  *AudioSampleEntry
	Text   *TextSampleEntry
	AvcC   *AvcC
	HvcC   *HvcC
	Esds   *Esds
	Stts   *Stts
	Ctts   *Ctts
	Stss   *Stss
	Stsc   *Stsc
	Stsz   *Stsz
	Stco   *Stco
	Co64   *Co64
	Mehd   *Mehd
	Trex   *Trex
	Mfhd   *Mfhd
	Tfhd   *Tfhd
	Tfdt   *Tfdt
	Trun   *Trun
}

// Child returns the first child box of the given type, or nil.
func (b *Box) Child(t BoxType) *Box {
	if b == nil {
		return nil
	}
	for _, c := range b.Children {
		if c.Type == t {
			return c
		}
	}
	return nil
}

// ChildList returns all child boxes of the given type in file order.
func (b *Box) ChildList(t BoxType) []*Box {
	if b == nil {
		return nil
	}
	var out []*Box
	for _, c := range b.Children {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

// Find follows a path of child types starting at b, taking the first match
// at each level. It returns nil when any step is missing.
func (b *Box) Find(path ...BoxType) *Box {
	cur := b
	for _, t := range path {
		cur = cur.Child(t)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Walk visits b and its descendants in pre-order. Returning false from fn
// skips the children of the visited box.
func (b *Box) Walk(fn func(box *Box, depth int) bool) {
	b.walk(fn, 0)
}

func (b *Box) walk(fn func(*Box, int) bool, depth int) {
	if !fn(b, depth) {
		return
	}
	for _, c := range b.Children {
		c.walk(fn, depth+1)
	}
}

// Header holds parsed box header information.
type Header struct {
	Size       uint64
	HeaderSize int
	Type       BoxType
	Version    uint8
	Flags      uint32
	UserType   [16]byte
}

// ContentLen returns the number of payload bytes after the header.
func (h Header) ContentLen() int {
	return int(h.Size) - h.HeaderSize
}

// ReadHeader parses the box header at buf[start:end]. A size of zero extends
// the box to end; a size of one reads the 64-bit largesize that follows.
func ReadHeader(buf []byte, start, end int) (Header, error) {
	avail := end - start
	if avail < 8 {
		return Header{}, fmt.Errorf("need 8 header bytes, have %d: %w", avail, ErrTruncated)
	}

	var h Header
	size := uint64(be.Uint32(buf[start:]))
	copy(h.Type[:], buf[start+4:start+8])
	ptr := start + 8

	switch size {
	case 1:
		if avail < 16 {
			return Header{}, fmt.Errorf("box %s: need 16 bytes for extended size: %w", h.Type, ErrTruncated)
		}
		size = be.Uint64(buf[ptr:])
		ptr += 8
	case 0:
		size = uint64(avail)
	}

	if h.Type == TypeUUID {
		if end-ptr < 16 {
			return Header{}, fmt.Errorf("box uuid: need 16 bytes for user type: %w", ErrTruncated)
		}
		copy(h.UserType[:], buf[ptr:ptr+16])
		ptr += 16
	}

	if size < uint64(ptr-start) {
		return Header{}, fmt.Errorf("box %s: size %d smaller than header: %w", h.Type, size, ErrInvalidBoxSize)
	}
	if size > uint64(avail) {
		return Header{}, fmt.Errorf("box %s: size %d exceeds remaining %d bytes: %w", h.Type, size, avail, ErrTruncated)
	}

	if fullBoxes[h.Type] {
		if uint64(ptr-start+4) > size {
			return Header{}, fmt.Errorf("box %s: no room for version and flags: %w", h.Type, ErrInvalidBoxSize)
		}
		vf := be.Uint32(buf[ptr:])
		h.Version = uint8(vf >> 24)
		h.Flags = vf & 0x00ffffff
		ptr += 4
	}

	h.Size = size
	h.HeaderSize = ptr - start
	return h, nil
}

// Decode decodes the box starting at buf[start] and bounded by end,
// including all of its descendants.
func Decode(buf []byte, start, end int) (*Box, error) {
	return decode(buf, start, end, 0)
}

func decode(buf []byte, start, end, depth int) (*Box, error) {
	h, err := ReadHeader(buf, start, end)
	if err != nil {
		return nil, &BoxError{Type: peekType(buf, start, end), Offset: int64(start), Err: err}
	}
	box := &Box{
		Type:       h.Type,
		Size:       h.Size,
		Offset:     int64(start),
		HeaderSize: h.HeaderSize,
		Version:    h.Version,
		Flags:      h.Flags,
		UserType:   h.UserType,
	}
	if err := decodeBody(box, buf, start+h.HeaderSize, start+int(h.Size), depth); err != nil {
		return nil, err
	}
	return box, nil
}

func decodeBody(box *Box, buf []byte, start, end, depth int) error {
	switch {
	case containers[box.Type]:
		return box.decodeChildren(buf, start, end, depth)

	case countedContainers[box.Type]:
		if end-start < 4 {
			return box.fail(fmt.Errorf("missing entry count: %w", ErrTruncated))
		}
		count := be.Uint32(buf[start:])
		if box.Type == TypeStsd {
			box.Stsd = &Stsd{EntryCount: count}
		} else {
			box.Dref = &Dref{EntryCount: count}
		}
		return box.decodeChildren(buf, start+4, end, depth)

	case sampleEntries[box.Type] != 0:
		n, err := decodeSampleEntry(box, buf[start:end])
		if err != nil {
			return box.fail(err)
		}
		return box.decodeChildren(buf, start+n, end, depth)
	}

	if dec := codecs[box.Type]; dec != nil {
		if err := dec(box, buf[start:end]); err != nil {
			return box.fail(err)
		}
	}
	// Anything else is skipped by size.
	return nil
}

// decodeChildren reads boxes back-to-back until end. Trailing bytes too
// short to hold a box header are ignored.
func (b *Box) decodeChildren(buf []byte, start, end, depth int) error {
	if depth+1 >= maxDepth {
		return b.fail(fmt.Errorf("nesting deeper than %d: %w", maxDepth, ErrInvalidBoxSize))
	}
	ptr := start
	for end-ptr >= 8 {
		child, err := decode(buf, ptr, end, depth+1)
		if err != nil {
			return fmt.Errorf("in %s: %w", b.Type, err)
		}
		ptr += int(child.Size)
		b.Children = append(b.Children, child)
	}
	return nil
}

func (b *Box) fail(err error) error {
	return &BoxError{Type: b.Type, Offset: b.Offset, Err: err}
}

func peekType(buf []byte, start, end int) BoxType {
	var t BoxType
	if end-start >= 8 {
		copy(t[:], buf[start+4:start+8])
	}
	return t
}

func readString(b []byte) string {
	end := 0
	for end < len(b) && b[end] != 0 {
		end++
	}
	return string(b[:end])
}
