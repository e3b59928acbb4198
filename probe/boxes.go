package probe

import (
	"encoding/json"

	mp4 "github.com/tetsuo/mp4probe"
)

// BoxInfo is one entry of ListBoxes.
type BoxInfo struct {
	Name   string `json:"name" yaml:"name"`
	Size   uint64 `json:"size" yaml:"size"`
	Offset int64  `json:"offset" yaml:"offset"`
	Depth  int    `json:"depth" yaml:"depth"`
	// JSON encodes the box's own fields; empty for boxes without any.
	JSON string `json:"json,omitempty" yaml:"json,omitempty"`
}

// ListBoxes flattens the box tree of buf in pre-order. Top-level boxes
// appear in file order; boxes that are not decoded (mdat, free ...) are
// listed with their header only.
func (p *Prober) ListBoxes(buf []byte) ([]BoxInfo, error) {
	f, err := p.parse(buf)
	if err != nil {
		return nil, err
	}
	var out []BoxInfo
	for _, top := range f.Boxes {
		var werr error
		top.Walk(func(b *mp4.Box, depth int) bool {
			info := BoxInfo{
				Name:   b.Type.String(),
				Size:   b.Size,
				Offset: b.Offset,
				Depth:  depth,
			}
			if fields := boxFields(b); len(fields) > 0 {
				js, err := json.Marshal(fields)
				if err != nil {
					werr = err
					return false
				}
				info.JSON = string(js)
			}
			out = append(out, info)
			return true
		})
		if werr != nil {
			return nil, werr
		}
	}
	return out, nil
}

// boxFields collects the decoded fields worth showing for b.
func boxFields(b *mp4.Box) map[string]any {
	info := make(map[string]any)
	if mp4.IsFullBox(b.Type) {
		info["version"] = b.Version
		info["flags"] = b.Flags
	}

	switch {
	case b.Ftyp != nil:
		info["brand"] = b.Ftyp.MajorBrand.String()
		info["version"] = b.Ftyp.MinorVersion
		if len(b.Ftyp.CompatibleBrands) > 0 {
			compat := make([]string, len(b.Ftyp.CompatibleBrands))
			for i, c := range b.Ftyp.CompatibleBrands {
				compat[i] = c.String()
			}
			info["compatible"] = compat
		}

	case b.Mvhd != nil:
		info["timescale"] = b.Mvhd.Timescale
		info["duration"] = b.Mvhd.Duration
		info["nextTrackId"] = b.Mvhd.NextTrackID

	case b.Tkhd != nil:
		info["trackId"] = b.Tkhd.TrackID
		info["duration"] = b.Tkhd.Duration
		info["width"] = b.Tkhd.Width >> 16
		info["height"] = b.Tkhd.Height >> 16

	case b.Mdhd != nil:
		info["timescale"] = b.Mdhd.Timescale
		info["duration"] = b.Mdhd.Duration
		info["language"] = b.Mdhd.LanguageCode()

	case b.Hdlr != nil:
		info["handlerType"] = b.Hdlr.HandlerType.String()
		info["name"] = b.Hdlr.Name

	case b.Elst != nil:
		info["entries"] = len(b.Elst.Entries)

	case b.Stsd != nil:
		info["entries"] = b.Stsd.EntryCount

	case b.Dref != nil:
		info["entries"] = b.Dref.EntryCount

	case b.Visual != nil:
		info["width"] = b.Visual.Width
		info["height"] = b.Visual.Height
		info["compressor"] = b.Visual.CompressorName

	case b.Audio != nil:
		info["channelCount"] = b.Audio.ChannelCount
		info["sampleSize"] = b.Audio.SampleSize
		info["sampleRate"] = b.Audio.SampleRate >> 16

	case b.AvcC != nil:
		info["profile"] = b.AvcC.ProfileIndication
		info["compatibility"] = b.AvcC.ProfileCompatibility
		info["level"] = b.AvcC.LevelIndication

	case b.HvcC != nil:
		info["profile"] = b.HvcC.GeneralProfileIDC
		info["tier"] = b.HvcC.GeneralTierFlag
		info["level"] = b.HvcC.GeneralLevelIDC

	case b.Esds != nil:
		info["objectType"] = b.Esds.ObjectTypeIndication
		info["maxBitrate"] = b.Esds.MaxBitrate
		info["avgBitrate"] = b.Esds.AvgBitrate

	case b.Stts != nil:
		info["entries"] = len(b.Stts.Entries)

	case b.Ctts != nil:
		info["entries"] = len(b.Ctts.Entries)

	case b.Stss != nil:
		info["entries"] = len(b.Stss.Entries)

	case b.Stsc != nil:
		info["entries"] = len(b.Stsc.Entries)

	case b.Stsz != nil:
		info["sampleSize"] = b.Stsz.SampleSize
		info["sampleCount"] = b.Stsz.SampleCount

	case b.Stco != nil:
		info["entries"] = len(b.Stco.Entries)

	case b.Co64 != nil:
		info["entries"] = len(b.Co64.Entries)

	case b.Mehd != nil:
		info["fragmentDuration"] = b.Mehd.FragmentDuration

	case b.Trex != nil:
		info["trackId"] = b.Trex.TrackID

	case b.Mfhd != nil:
		info["sequence"] = b.Mfhd.SequenceNumber

	case b.Tfhd != nil:
		info["trackId"] = b.Tfhd.TrackID

	case b.Tfdt != nil:
		info["baseMediaDecodeTime"] = b.Tfdt.BaseMediaDecodeTime

	case b.Trun != nil:
		info["entries"] = b.Trun.SampleCount
		if b.Flags&mp4.TrunDataOffsetPresent != 0 {
			info["dataOffset"] = b.Trun.DataOffset
		}

	case b.Type == mp4.TypeMdat:
		info["dataLength"] = b.Size - uint64(b.HeaderSize)
	}
	return info
}
