// Command mp4info prints the boxes, tracks, media information and sample
// tables of MP4 files.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/phsym/console-slog"
	"gopkg.in/yaml.v3"

	"github.com/tetsuo/mp4probe/probe"
)

// Report is the output for one file.
type Report struct {
	File    string               `json:"file" yaml:"file"`
	Info    *probe.MediaInfo     `json:"info,omitempty" yaml:"info,omitempty"`
	Tracks  []probe.TrackInfo    `json:"tracks,omitempty" yaml:"tracks,omitempty"`
	Boxes   []probe.BoxInfo      `json:"boxes,omitempty" yaml:"boxes,omitempty"`
	Samples []probe.TrackSamples `json:"samples,omitempty" yaml:"samples,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, files, err := parseFlags(args, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "mp4info: %v\n", err)
		return 2
	}

	log := slog.New(console.NewHandler(stderr, &console.HandlerOptions{
		NoColor:    cfg.NoColor,
		Level:      cfg.level(),
		TimeFormat: "15:04:05.000",
	}))
	p := probe.New(
		probe.WithLogger(log),
		probe.WithSkipInvalid(cfg.SkipInvalid),
		probe.WithCacheSize(cfg.CacheSize),
	)

	status := 0
	var reports []Report
	for _, name := range files {
		r, err := inspect(p, &cfg, name)
		if err != nil {
			log.Error("inspect failed", "file", name, "err", err)
			status = 1
			continue
		}
		reports = append(reports, r)
	}

	if err := write(stdout, cfg.Format, reports); err != nil {
		log.Error("write output", "err", err)
		return 1
	}
	return status
}

func inspect(p *probe.Prober, cfg *Config, name string) (Report, error) {
	buf, err := os.ReadFile(name)
	if err != nil {
		return Report{}, err
	}
	r := Report{File: name}
	for _, q := range allQueries {
		if !cfg.wants(q) {
			continue
		}
		switch q {
		case "info":
			info, err := p.MediaInfo(buf)
			if err != nil {
				return Report{}, err
			}
			r.Info = &info
		case "tracks":
			if r.Tracks, err = p.ListTracks(buf); err != nil {
				return Report{}, err
			}
		case "boxes":
			if r.Boxes, err = p.ListBoxes(buf); err != nil {
				return Report{}, err
			}
		case "samples":
			if r.Samples, err = p.Samples(buf); err != nil {
				return Report{}, err
			}
		}
	}
	return r, nil
}

func write(w io.Writer, format string, reports []Report) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(reports); err != nil {
			return err
		}
		return enc.Close()
	}
	for i, r := range reports {
		if i > 0 {
			fmt.Fprintln(w)
		}
		writeText(w, r)
	}
	return nil
}

// writeText prints a report in a human readable form.
func writeText(w io.Writer, r Report) {
	fmt.Fprintf(w, "%s\n", r.File)

	if r.Info != nil {
		fmt.Fprintf(w, "  size=%d brand=%s ver=%d compatible=[%s] duration=%dms timescale=%d fragmented=%t\n",
			r.Info.Size, r.Info.MajorBrand, r.Info.MinorVersion, strings.TrimSpace(r.Info.CompatibleBrands),
			r.Info.Duration, r.Info.Timescale, r.Info.Fragmented)
	}

	for _, t := range r.Tracks {
		fmt.Fprintf(w, "  #%d %s [%s] %s: %s\n", t.ID, t.TrackType, t.Language, t.Codec, t.MediaInfo)
	}

	for _, b := range r.Boxes {
		indent := strings.Repeat("  ", b.Depth+1)
		fmt.Fprintf(w, "%s[%s] size=%d", indent, b.Name, b.Size)
		if b.JSON != "" {
			fmt.Fprintf(w, " %s", b.JSON)
		}
		fmt.Fprintln(w)
	}

	for _, ts := range r.Samples {
		fmt.Fprintf(w, "  track %d (%s, %s): %d samples\n", ts.TrackID, ts.TrackType, ts.BoxType, len(ts.Samples))
		for i, s := range ts.Samples {
			sync := ""
			if s.IsSync {
				sync = " sync"
			}
			fmt.Fprintf(w, "    %6d dts=%d dur=%d cto=%d size=%d offset=%d%s\n",
				i+1, s.StartTime, s.Duration, s.RenderingOffset, s.Size, s.Offset, sync)
		}
	}
}
