package track

import (
	"fmt"

	"github.com/deepch/vdk/codec/aacparser"
	"github.com/deepch/vdk/codec/h264parser"
	"github.com/deepch/vdk/codec/h265parser"

	mp4 "github.com/tetsuo/mp4probe"
)

// Info is the kind-specific part of a track: *Video, *Audio or *Subtitle.
type Info interface {
	summary(t *Track) string
}

// Video holds the attributes of a video track.
type Video struct {
	MediaType string // h264, h265 or vp9
	Profile   string // empty without a decoder configuration record
	Level     uint8
	Width     uint16
	Height    uint16
	// Coded size from the first SPS, zero when the record carries none.
	CodedWidth  uint
	CodedHeight uint
	Bitrate     uint64 // bits per second
	FrameRate   float64
}

// Audio holds the attributes of an audio track.
type Audio struct {
	MediaType     string // aac
	HasEsds       bool
	ObjectType    uint   // audio object type, 0 when unknown
	Profile       string // e.g. "LC", empty when unknown
	SampleRate    uint32 // Hz
	ChannelCount  uint16 // from the sample entry
	ChannelConfig uint
	Channels      string // e.g. "stereo", empty when unknown
	Bitrate       uint64 // bits per second
}

// Subtitle holds the attributes of a timed text track.
type Subtitle struct{}

// MediaType returns the short codec label of the track.
func (t *Track) MediaType() string {
	switch info := t.Info.(type) {
	case *Video:
		return info.MediaType
	case *Audio:
		return info.MediaType
	case *Subtitle:
		return "ttxt"
	}
	return ""
}

// Summary returns a one-line human readable description, e.g.
// "h264 (High) (avc1 / 0x61766331), 320x240, 80 kb/s, 23.98 fps".
func (t *Track) Summary() string {
	return t.Info.summary(t)
}

// bitrate derives bits per second from the stsz byte total over the whole
// seconds of media duration.
func (t *Track) bitrate() uint64 {
	secs := t.DurationMicros() / 1_000_000
	if secs == 0 {
		return 0
	}
	return t.TotalSampleSize() * 8 / secs
}

func (t *Track) frameRate() float64 {
	ms := t.DurationMicros() / 1000
	if ms == 0 {
		return 0
	}
	return float64(uint64(t.SampleCount())*1000) / float64(ms)
}

func newVideo(t *Track) *Video {
	e := t.entry
	v := &Video{
		Width:     e.Visual.Width,
		Height:    e.Visual.Height,
		Bitrate:   t.bitrate(),
		FrameRate: t.frameRate(),
	}
	switch e.Type {
	case mp4.TypeAvc1, mp4.TypeAvc3:
		v.MediaType = "h264"
		if c := e.Child(mp4.TypeAvcC); c != nil && c.AvcC != nil {
			v.Profile = avcProfileName(c.AvcC.ProfileIndication, c.AvcC.ProfileCompatibility)
			v.Level = c.AvcC.LevelIndication
			v.CodedWidth, v.CodedHeight = codedSize(func() (uint, uint, error) {
				var rec h264parser.AVCDecoderConfRecord
				if _, err := rec.Unmarshal(c.AvcC.Record); err != nil || len(rec.SPS) == 0 {
					return 0, 0, err
				}
				sps, err := h264parser.ParseSPS(rec.SPS[0])
				return sps.Width, sps.Height, err
			})
		}
	case mp4.TypeHev1, mp4.TypeHvc1:
		v.MediaType = "h265"
		if c := e.Child(mp4.TypeHvcC); c != nil && c.HvcC != nil {
			v.Profile = hevcProfileName(c.HvcC.GeneralProfileIDC)
			v.Level = c.HvcC.GeneralLevelIDC
			if sps := c.HvcC.NALUs(nalHEVCSPS); len(sps) > 0 {
				v.CodedWidth, v.CodedHeight = codedSize(func() (uint, uint, error) {
					info, err := h265parser.ParseSPS(sps[0])
					return info.Width, info.Height, err
				})
			}
		}
	case mp4.TypeVp09:
		v.MediaType = "vp9"
	}
	return v
}

const nalHEVCSPS = 33

// codedSize runs an SPS parser and reports zero on failure. The parsers
// index the bitstream directly, so a malformed record may panic.
func codedSize(parse func() (uint, uint, error)) (w, h uint) {
	defer func() {
		if recover() != nil {
			w, h = 0, 0
		}
	}()
	w, h, err := parse()
	if err != nil {
		return 0, 0
	}
	return w, h
}

func (v *Video) summary(t *Track) string {
	if v.MediaType == "h264" && v.Profile != "" {
		return fmt.Sprintf("%s (%s) (%s), %dx%d, %d kb/s, %.2f fps",
			v.MediaType, v.Profile, t.BoxType.Describe(), v.Width, v.Height, v.Bitrate/1000, v.FrameRate)
	}
	return fmt.Sprintf("%s (%s), %dx%d, %d kb/s, %.2f fps",
		v.MediaType, t.BoxType.Describe(), v.Width, v.Height, v.Bitrate/1000, v.FrameRate)
}

func newAudio(t *Track) *Audio {
	e := t.entry
	a := &Audio{
		MediaType:    "aac",
		SampleRate:   e.Audio.SampleRate >> 16,
		ChannelCount: e.Audio.ChannelCount,
	}
	esds := e.Child(mp4.TypeEsds)
	if esds == nil || esds.Esds == nil {
		a.Bitrate = t.bitrate()
		return a
	}
	a.HasEsds = true
	a.Bitrate = uint64(esds.Esds.AvgBitrate)
	if len(esds.Esds.DecoderSpecificInfo) == 0 {
		return a
	}
	cfg, err := aacparser.ParseMPEG4AudioConfigBytes(esds.Esds.DecoderSpecificInfo)
	if err != nil {
		return a
	}
	a.ObjectType = cfg.ObjectType
	a.Profile = audioObjectNames[cfg.ObjectType]
	if cfg.SampleRate > 0 {
		a.SampleRate = uint32(cfg.SampleRate)
	}
	a.ChannelConfig = cfg.ChannelConfig
	a.Channels = channelConfigNames[cfg.ChannelConfig]
	return a
}

func (a *Audio) summary(t *Track) string {
	if !a.HasEsds {
		return fmt.Sprintf("%s (%s), %d kb/s", a.MediaType, t.BoxType.Describe(), a.Bitrate/1000)
	}
	return fmt.Sprintf("%s (%s) (%s), %d Hz, %s, %d kb/s",
		a.MediaType, orDash(a.Profile), t.BoxType.Describe(), a.SampleRate, orDash(a.Channels), a.Bitrate/1000)
}

func (s *Subtitle) summary(t *Track) string {
	return fmt.Sprintf("ttxt (%s)", t.BoxType.Describe())
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Codec returns the RFC 6381 codec string, e.g. "avc1.64001f" or
// "mp4a.40.2".
func (t *Track) Codec() string {
	e := t.entry
	switch info := t.Info.(type) {
	case *Video:
		if c := e.Child(mp4.TypeAvcC); c != nil && c.AvcC != nil {
			return fmt.Sprintf("%s.%02x%02x%02x", e.Type,
				c.AvcC.ProfileIndication, c.AvcC.ProfileCompatibility, c.AvcC.LevelIndication)
		}
		if c := e.Child(mp4.TypeHvcC); c != nil && c.HvcC != nil {
			tier := 'L'
			if c.HvcC.GeneralTierFlag {
				tier = 'H'
			}
			return fmt.Sprintf("%s.%d.%c%d", e.Type, c.HvcC.GeneralProfileIDC, tier, c.HvcC.GeneralLevelIDC)
		}
	case *Audio:
		if esds := e.Child(mp4.TypeEsds); esds != nil && esds.Esds != nil && esds.Esds.ObjectTypeIndication != 0 {
			if info.ObjectType > 0 {
				return fmt.Sprintf("%s.%x.%d", e.Type, esds.Esds.ObjectTypeIndication, info.ObjectType)
			}
			return fmt.Sprintf("%s.%x", e.Type, esds.Esds.ObjectTypeIndication)
		}
	}
	return e.Type.String()
}

func avcProfileName(profile, compat uint8) string {
	constraintSet1 := (compat >> 6) & 1
	switch profile {
	case 66:
		if constraintSet1 == 1 {
			return "Constrained Baseline"
		}
		return "Baseline"
	case 77:
		return "Main"
	case 88:
		return "Extended"
	case 100:
		return "High"
	case 110:
		return "High 10"
	case 122:
		return "High 4:2:2"
	case 244:
		return "High 4:4:4 Predictive"
	case 44:
		return "CAVLC 4:4:4 Intra"
	}
	return "-"
}

func hevcProfileName(idc uint8) string {
	switch idc {
	case 1:
		return "Main"
	case 2:
		return "Main 10"
	case 3:
		return "Main Still Picture"
	case 4:
		return "Rext"
	}
	return "-"
}

var audioObjectNames = map[uint]string{
	1:  "Main",
	2:  "LC",
	3:  "SSR",
	4:  "LTP",
	5:  "SBR",
	6:  "Scalable",
	7:  "TwinVQ",
	8:  "CELP",
	9:  "HVXC",
	12: "TTSI",
	13: "Main Synthetic",
	14: "Wavetable Synthesis",
	15: "General MIDI",
	16: "Algorithmic Synthesis",
	17: "ER AAC LC",
	19: "ER AAC LTP",
	20: "ER AAC Scalable",
	21: "ER TwinVQ",
	22: "ER BSAC",
	23: "ER AAC LD",
	24: "ER CELP",
	25: "ER HVXC",
	26: "ER HILN",
	27: "ER Parametric",
	28: "SSC",
	29: "PS",
	30: "MPEG Surround",
	32: "Layer-1",
	33: "Layer-2",
	34: "Layer-3",
	35: "DST",
	36: "ALS",
	37: "SLS",
	38: "SLS Non-Core",
	39: "ER AAC ELD",
	40: "SMR Simple",
	41: "SMR Main",
	42: "USAC SAOC",
	43: "SAOC",
	44: "LD MPEG Surround",
	45: "USAC",
}

var channelConfigNames = map[uint]string{
	1: "mono",
	2: "stereo",
	3: "three",
	4: "four",
	5: "five",
	6: "five-one",
	7: "seven-one",
}
