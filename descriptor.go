package mp4

import "fmt"

// MPEG-4 descriptor tags found inside esds.
const (
	tagESDescriptor            = 0x03
	tagDecoderConfigDescriptor = 0x04
	tagDecoderSpecificInfo     = 0x05
	tagSLConfigDescriptor      = 0x06
)

// Esds is the flattened content of an elementary stream descriptor box.
type Esds struct {
	ESID                 uint16
	ObjectTypeIndication uint8
	StreamType           uint8
	BufferSize           uint32
	MaxBitrate           uint32
	AvgBitrate           uint32
	// DecoderSpecificInfo holds the AudioSpecificConfig for AAC streams.
	DecoderSpecificInfo []byte
}

type descriptor struct {
	tag   byte
	start int // first payload byte
	end   int // one past the last payload byte
}

// readDescriptor reads the tag and expandable length at buf[start:end].
// The payload is clamped to end.
func readDescriptor(buf []byte, start, end int) (descriptor, bool) {
	if end-start < 2 {
		return descriptor{}, false
	}
	d := descriptor{tag: buf[start]}
	ptr := start + 1
	length := 0
	for i := 0; i < 4 && ptr < end; i++ {
		c := buf[ptr]
		ptr++
		length = length<<7 | int(c&0x7f)
		if c&0x80 == 0 {
			break
		}
	}
	d.start = ptr
	d.end = min(ptr+length, end)
	return d, true
}

func decodeEsds(box *Box, b []byte) error {
	d, ok := readDescriptor(b, 0, len(b))
	if !ok || d.tag != tagESDescriptor {
		return fmt.Errorf("esds: missing ES descriptor: %w", ErrTruncated)
	}
	e := &Esds{}
	if err := e.decodeES(b, d.start, d.end); err != nil {
		return err
	}
	box.Esds = e
	return nil
}

func (e *Esds) decodeES(b []byte, start, end int) error {
	if end-start < 3 {
		return fmt.Errorf("esds: short ES descriptor: %w", ErrTruncated)
	}
	e.ESID = be.Uint16(b[start:])
	flags := b[start+2]
	ptr := start + 3
	if flags&0x80 != 0 { // streamDependenceFlag
		ptr += 2
	}
	if flags&0x40 != 0 { // URL_Flag
		if ptr >= end {
			return fmt.Errorf("esds: short URL: %w", ErrTruncated)
		}
		ptr += int(b[ptr]) + 1
	}
	if flags&0x20 != 0 { // OCRstreamFlag
		ptr += 2
	}
	for ptr < end {
		d, ok := readDescriptor(b, ptr, end)
		if !ok {
			break
		}
		if d.tag == tagDecoderConfigDescriptor {
			if err := e.decodeDecoderConfig(b, d.start, d.end); err != nil {
				return err
			}
		}
		ptr = d.end
	}
	return nil
}

func (e *Esds) decodeDecoderConfig(b []byte, start, end int) error {
	// objectTypeIndication(1) streamType(1) bufferSizeDB(3) maxBitrate(4) avgBitrate(4)
	if end-start < 13 {
		return fmt.Errorf("esds: short decoder config: %w", ErrTruncated)
	}
	e.ObjectTypeIndication = b[start]
	e.StreamType = b[start+1] >> 2
	e.BufferSize = uint32(b[start+2])<<16 | uint32(b[start+3])<<8 | uint32(b[start+4])
	e.MaxBitrate = be.Uint32(b[start+5:])
	e.AvgBitrate = be.Uint32(b[start+9:])

	ptr := start + 13
	for ptr < end {
		d, ok := readDescriptor(b, ptr, end)
		if !ok {
			break
		}
		if d.tag == tagDecoderSpecificInfo {
			e.DecoderSpecificInfo = append([]byte(nil), b[d.start:d.end]...)
		}
		ptr = d.end
	}
	return nil
}
