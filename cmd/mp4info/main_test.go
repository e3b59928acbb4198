package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/tetsuo/mp4probe/internal/mp4test"
)

func writeSample(t *testing.T) string {
	t.Helper()
	w := mp4test.NewWriter()
	w.WriteMovie(mp4test.Movie{
		Timescale: 1000,
		Duration:  1000,
		Tracks:    []mp4test.Track{mp4test.VideoTrack(1, 10, 1000, 100, 1000)},
	})
	w.WriteMdat(10000)
	path := filepath.Join(t.TempDir(), "sample.mp4")
	if err := os.WriteFile(path, w.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunText(t *testing.T) {
	path := writeSample(t)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-no-color", path}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{
		"fragmented=false",
		"#1 video [und] avc1.64001f: h264 (High) (avc1 / 0x61766331), 320x240, 80 kb/s, 10.00 fps",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestRunJSON(t *testing.T) {
	path := writeSample(t)
	var stdout, stderr bytes.Buffer
	code := run([]string{"-format=json", "-query=samples,boxes", path}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	var reports []Report
	if err := json.Unmarshal(stdout.Bytes(), &reports); err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 || len(reports[0].Samples) != 1 || len(reports[0].Samples[0].Samples) != 10 {
		t.Fatalf("unexpected report: %+v", reports)
	}
	if reports[0].Info != nil || reports[0].Boxes[0].Name != "ftyp" {
		t.Errorf("unexpected report: %+v", reports[0])
	}
}

func TestConfigFile(t *testing.T) {
	path := writeSample(t)
	conf := filepath.Join(t.TempDir(), "mp4info.yaml")
	if err := os.WriteFile(conf, []byte("format: yaml\nqueries: [info]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-config", conf, path}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	var reports []Report
	if err := yaml.Unmarshal(stdout.Bytes(), &reports); err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 || reports[0].Info == nil || reports[0].Info.Timescale != 1000 {
		t.Errorf("unexpected report: %+v", reports)
	}
	if reports[0].Tracks != nil {
		t.Error("config limited queries to info")
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	conf := filepath.Join(t.TempDir(), "mp4info.yaml")
	if err := os.WriteFile(conf, []byte("format: yaml\nskip_invalid: true\ncache_size: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, files, err := parseFlags([]string{"-config", conf, "-format", "JSON", "a.mp4"}, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Format != "json" || !cfg.SkipInvalid || cfg.CacheSize != 3 {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(files) != 1 || files[0] != "a.mp4" {
		t.Errorf("files = %v", files)
	}
}

func TestBadInput(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.mp4")
	if err := os.WriteFile(bad, []byte{0, 0, 0, 8, 'f', 'r', 'e', 'e'}, 0o644); err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-no-color", bad}, &stdout, &stderr); code != 1 {
		t.Errorf("exit %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "ftyp box not found") {
		t.Errorf("stderr = %s", stderr.String())
	}

	if code := run([]string{"-format=xml", bad}, &stdout, &stderr); code != 2 {
		t.Errorf("exit %d, want 2", code)
	}
}

func TestBadLogLevel(t *testing.T) {
	if _, _, err := parseFlags([]string{"-log-level=verbose", "a.mp4"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected an error for an unknown log level")
	}
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-log-level=verbose", "a.mp4"}, &stdout, &stderr); code != 2 {
		t.Errorf("exit %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "unknown log level: verbose") {
		t.Errorf("stderr = %s", stderr.String())
	}

	cfg, _, err := parseFlags([]string{"-log-level=DEBUG", "a.mp4"}, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.level() != slog.LevelDebug {
		t.Errorf("level = %v", cfg.level())
	}
}

func TestOnlyRequestedQueries(t *testing.T) {
	path := writeSample(t)
	var stdout, stderr bytes.Buffer
	code := run([]string{"-format=json", "-query=boxes,boxes,info", path}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	var reports []Report
	if err := json.Unmarshal(stdout.Bytes(), &reports); err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 || reports[0].Info == nil || len(reports[0].Boxes) == 0 {
		t.Fatalf("unexpected report: %+v", reports)
	}
	if reports[0].Tracks != nil || reports[0].Samples != nil {
		t.Errorf("unrequested queries ran: %+v", reports[0])
	}
}
