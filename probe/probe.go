// Package probe answers the four queries over a complete MP4 buffer: its
// boxes, its tracks, its global media information and the per-track sample
// tables.
//
// Every query parses buf from scratch unless the Prober was created with a
// cache. A malformed buffer fails the whole query. A track that cannot be
// modeled aborts ListTracks and Samples unless WithSkipInvalid is set, in
// which case the track is logged and left out.
package probe

import (
	"fmt"
	"io"
	"log/slog"

	mp4 "github.com/tetsuo/mp4probe"
	"github.com/tetsuo/mp4probe/stbl"
	"github.com/tetsuo/mp4probe/track"
)

// TrackInfo is one entry of ListTracks.
type TrackInfo struct {
	ID          uint32 `json:"id" yaml:"id"`
	Language    string `json:"language" yaml:"language"`
	LanguageTag string `json:"language_tag,omitempty" yaml:"language_tag,omitempty"`
	TrackType   string `json:"track_type" yaml:"track_type"`
	BoxType     string `json:"box_type" yaml:"box_type"`
	Codec       string `json:"codec" yaml:"codec"`
	MediaInfo   string `json:"media_info" yaml:"media_info"`
}

// MediaInfo is the container-level summary.
type MediaInfo struct {
	Size             int64  `json:"size" yaml:"size"`
	MajorBrand       string `json:"major_brand" yaml:"major_brand"`
	MinorVersion     uint32 `json:"minor_version" yaml:"minor_version"`
	CompatibleBrands string `json:"compatible_brands" yaml:"compatible_brands"`
	Duration         uint64 `json:"duration" yaml:"duration"` // milliseconds
	Timescale        uint32 `json:"timescale" yaml:"timescale"`
	Fragmented       bool   `json:"fragmented" yaml:"fragmented"`
}

// TrackSamples groups the samples of one track.
type TrackSamples struct {
	TrackID   uint32        `json:"track_id" yaml:"track_id"`
	TrackType string        `json:"track_type" yaml:"track_type"`
	BoxType   string        `json:"box_type" yaml:"box_type"`
	Samples   []stbl.Sample `json:"samples" yaml:"samples"`
}

// Option configures a Prober.
type Option func(*Prober)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(p *Prober) { p.log = l }
}

// WithSkipInvalid makes ListTracks and Samples leave out tracks that fail
// instead of aborting the query.
func WithSkipInvalid(skip bool) Option {
	return func(p *Prober) { p.skipInvalid = skip }
}

// WithCacheSize keeps up to n parsed files, keyed by buffer content. Zero
// disables the cache.
func WithCacheSize(n int) Option {
	return func(p *Prober) { p.cacheSize = n }
}

// Prober runs queries. It is safe for concurrent use.
type Prober struct {
	log         *slog.Logger
	skipInvalid bool
	cacheSize   int
	cache       *cache
}

// New returns a Prober configured by opts.
func New(opts ...Option) *Prober {
	p := &Prober{
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(p)
	}
	if p.cacheSize > 0 {
		p.cache = newCache(p.cacheSize)
	}
	return p
}

var std = New()

// ListBoxes runs Prober.ListBoxes with default options.
func ListBoxes(buf []byte) ([]BoxInfo, error) { return std.ListBoxes(buf) }

// ListTracks runs Prober.ListTracks with default options.
func ListTracks(buf []byte) ([]TrackInfo, error) { return std.ListTracks(buf) }

// GetMediaInfo runs Prober.MediaInfo with default options.
func GetMediaInfo(buf []byte) (MediaInfo, error) { return std.MediaInfo(buf) }

// Samples runs Prober.Samples with default options.
func Samples(buf []byte) ([]TrackSamples, error) { return std.Samples(buf) }

func (p *Prober) parse(buf []byte) (*mp4.File, error) {
	if p.cache != nil {
		return p.cache.get(buf, p.parseUncached)
	}
	return p.parseUncached(buf)
}

func (p *Prober) parseUncached(buf []byte) (*mp4.File, error) {
	f, err := mp4.Parse(buf)
	if err != nil {
		p.log.Debug("parse failed", "size", len(buf), "err", err)
		return nil, err
	}
	p.log.Debug("parsed", "size", len(buf), "boxes", len(f.Boxes), "tracks", len(f.Tracks()), "fragments", len(f.Moofs))
	return f, nil
}

// tracks models every trak of f in declaration order.
func (p *Prober) tracks(f *mp4.File) ([]*track.Track, error) {
	var out []*track.Track
	for i, trak := range f.Tracks() {
		t, err := track.New(trak)
		if err != nil {
			if !p.skipInvalid {
				return nil, err
			}
			p.log.Warn("skipping track", "index", i, "err", err)
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// ListTracks describes every track of buf.
func (p *Prober) ListTracks(buf []byte) ([]TrackInfo, error) {
	f, err := p.parse(buf)
	if err != nil {
		return nil, err
	}
	tracks, err := p.tracks(f)
	if err != nil {
		return nil, err
	}
	out := make([]TrackInfo, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, TrackInfo{
			ID:          t.ID,
			Language:    t.Language,
			LanguageTag: t.LanguageTag(),
			TrackType:   t.Kind.String(),
			BoxType:     t.BoxType.String(),
			Codec:       t.Codec(),
			MediaInfo:   t.Summary(),
		})
	}
	return out, nil
}

// MediaInfo summarizes the container of buf.
func (p *Prober) MediaInfo(buf []byte) (MediaInfo, error) {
	f, err := p.parse(buf)
	if err != nil {
		return MediaInfo{}, err
	}
	return mediaInfo(f), nil
}

func mediaInfo(f *mp4.File) MediaInfo {
	ftyp := f.Ftyp.Ftyp
	mvhd := f.Moov.Child(mp4.TypeMvhd).Mvhd
	info := MediaInfo{
		Size:         f.Size,
		MajorBrand:   ftyp.MajorBrand.String(),
		MinorVersion: ftyp.MinorVersion,
		Timescale:    mvhd.Timescale,
		Fragmented:   f.Fragmented(),
	}
	for _, b := range ftyp.CompatibleBrands {
		info.CompatibleBrands += b.String() + " "
	}
	if mvhd.Timescale != 0 {
		ts := uint64(mvhd.Timescale)
		info.Duration = mvhd.Duration/ts*1000 + mvhd.Duration%ts*1000/ts
	}
	return info
}

// Samples returns the samples of every track. Tracks are visited by
// position and position i is looked up as track ID i+1.
func (p *Prober) Samples(buf []byte) ([]TrackSamples, error) {
	f, err := p.parse(buf)
	if err != nil {
		return nil, err
	}
	tracks, err := p.tracks(f)
	if err != nil {
		return nil, err
	}

	var out []TrackSamples
	for i := range f.Tracks() {
		id := uint32(i + 1)
		ts, err := p.trackSamples(f, tracks, id)
		if err != nil {
			if !p.skipInvalid {
				return nil, err
			}
			p.log.Warn("skipping track samples", "track", id, "err", err)
			continue
		}
		out = append(out, ts)
	}
	return out, nil
}

func (p *Prober) trackSamples(f *mp4.File, tracks []*track.Track, id uint32) (TrackSamples, error) {
	t := track.Find(tracks, id)
	if t == nil {
		return TrackSamples{}, fmt.Errorf("track %d: %w", id, mp4.MissingBox(mp4.TypeTrak))
	}
	samples, err := t.Samples(f)
	if err != nil {
		return TrackSamples{}, err
	}
	return TrackSamples{
		TrackID:   id,
		TrackType: t.Kind.String(),
		BoxType:   t.BoxType.String(),
		Samples:   samples,
	}, nil
}
