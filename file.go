package mp4

import "fmt"

// File is a fully decoded MP4 buffer.
type File struct {
	Size  int64
	Ftyp  *Box
	Moov  *Box
	Moofs []*Box
	// Boxes holds every top-level box in file order, including mdat and
	// unknown boxes, which keep only their header.
	Boxes []*Box
}

// Parse decodes every top-level box in buf. It fails if ftyp or moov is
// missing or if any box is malformed; no partial tree is returned.
func Parse(buf []byte) (*File, error) {
	f := &File{Size: int64(len(buf))}
	ptr := 0
	for len(buf)-ptr >= 8 {
		box, err := decode(buf, ptr, len(buf), 0)
		if err != nil {
			return nil, err
		}
		ptr += int(box.Size)
		f.Boxes = append(f.Boxes, box)

		switch box.Type {
		case TypeFtyp:
			if f.Ftyp == nil {
				f.Ftyp = box
			}
		case TypeMoov:
			if f.Moov == nil {
				f.Moov = box
			}
		case TypeMoof:
			f.Moofs = append(f.Moofs, box)
		}
	}

	if f.Ftyp == nil {
		return nil, MissingBox(TypeFtyp)
	}
	if f.Moov == nil {
		return nil, MissingBox(TypeMoov)
	}
	if f.Moov.Child(TypeMvhd) == nil {
		return nil, fmt.Errorf("moov: %w", MissingBox(TypeMvhd))
	}
	return f, nil
}

// Fragmented reports whether the file carries at least one movie fragment.
func (f *File) Fragmented() bool {
	return len(f.Moofs) > 0
}

// Tracks returns the trak boxes of the movie in declaration order.
func (f *File) Tracks() []*Box {
	return f.Moov.ChildList(TypeTrak)
}

// Trex returns the track extends defaults for trackID, or nil.
func (f *File) Trex(trackID uint32) *Trex {
	for _, b := range f.Moov.Child(TypeMvex).ChildList(TypeTrex) {
		if b.Trex != nil && b.Trex.TrackID == trackID {
			return b.Trex
		}
	}
	return nil
}
