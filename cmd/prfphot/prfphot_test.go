package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/abworrall/prfphot/pkg/calib"
	"github.com/abworrall/prfphot/pkg/phot"
	"github.com/abworrall/prfphot/pkg/prf"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := NewCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("prfphot %v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestSynthThenFit(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "fits.sqlite")
	dump := filepath.Join(dir, "dump")

	run(t, "synth", "--out", dir, "--channel", "7", "--column", "300", "--row", "400", "--cadences", "3", "-l", "warn")
	if _, err := os.Stat(filepath.Join(dir, "channel-07.yaml")); err != nil {
		t.Fatalf("calibration not written: %v", err)
	}

	out := run(t, "fit", "--calib", dir, "--channel", "7", "--column", "300", "--row", "400",
		"--db", db, "--label", "demo", "--dump", dump, "-l", "warn", filepath.Join(dir, "stamps"))
	if !strings.Contains(out, "flux") || !strings.Contains(out, "background") {
		t.Errorf("no table in output:\n%s", out)
	}

	for _, name := range []string{"model-00000.hdr", "residual-00002.png"} {
		if _, err := os.Stat(filepath.Join(dump, name)); err != nil {
			t.Errorf("dump %s: %v", name, err)
		}
	}

	out = run(t, "runs", "--db", db)
	if !strings.Contains(out, "demo") || !strings.Contains(out, "3 cadences") {
		t.Errorf("runs:\n%s", out)
	}
	if out = run(t, "runs", "--db", db, "1"); !strings.Contains(out, "flux") {
		t.Errorf("runs 1:\n%s", out)
	}
}

func TestConfigCommand(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "fit.yaml")
	if err := os.WriteFile(filename, []byte("interpolation: bilinear\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if out := run(t, "config", "--config", filename); !strings.Contains(out, "interpolation: bilinear") {
		t.Errorf("config:\n%s", out)
	}
}

func TestFitNeedsStamps(t *testing.T) {
	cmd := NewCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"fit", "--calib", t.TempDir(), t.TempDir()})
	if err := cmd.Execute(); err == nil {
		t.Errorf("expected error for a dir with no stamps")
	}
}

func TestConfigVerbosityRaisesLogLevel(t *testing.T) {
	defer logrus.SetLevel(logrus.GetLevel())

	filename := filepath.Join(t.TempDir(), "fit.yaml")
	if err := os.WriteFile(filename, []byte("verbosity: 2\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	run(t, "config", "--config", filename, "-l", "warn")
	if logrus.GetLevel() != logrus.TraceLevel {
		t.Errorf("verbosity 2: level is %s", logrus.GetLevel())
	}

	logrus.SetLevel(logrus.InfoLevel)
	applyVerbosity(0)
	if logrus.GetLevel() != logrus.InfoLevel {
		t.Errorf("verbosity 0 changed level to %s", logrus.GetLevel())
	}
	applyVerbosity(1)
	if logrus.GetLevel() != logrus.DebugLevel {
		t.Errorf("verbosity 1: level is %s", logrus.GetLevel())
	}
}

func TestBuildSceneReusesEvaluators(t *testing.T) {
	dir := t.TempDir()
	run(t, "synth", "--out", dir, "--channel", "3", "--column", "100", "--row", "200", "--cadences", "1", "-l", "warn")

	p, err := newProvider(dir)
	if err != nil {
		t.Fatalf("newProvider: %v", err)
	}
	cache := prf.NewCache(p, phot.NewConfig().CacheTolerance)

	neighbours, err := parseNeighbours([]string{"104.5,203", " 102 , 209.25 "})
	if err != nil {
		t.Fatalf("parseNeighbours: %v", err)
	}
	s, err := buildScene(cache, 3, 100, 200, prf.Shape{Rows: 12, Cols: 12}, 1+len(neighbours))
	if err != nil {
		t.Fatalf("buildScene: %v", err)
	}

	if s.NumSources() != 3 {
		t.Errorf("got %d sources, expected 3", s.NumSources())
	}
	if cache.Misses != 1 || cache.Hits != 2 {
		t.Errorf("PRF cache: %d hits, %d misses", cache.Hits, cache.Misses)
	}
	if cp, ok := p.(*calib.CachingProvider); !ok || cp.Misses != 1 {
		t.Errorf("calibration provider: %#v", p)
	}

	srcs := initialSources(phot.Guess{Flux: 900, Col: 105, Row: 205}, neighbours)
	if len(srcs) != 3 || srcs[0].Flux != 300 || srcs[2].CenterCol != 102 || srcs[2].CenterRow != 209.25 {
		t.Errorf("initial sources: %v", srcs)
	}

	for _, bad := range []string{"104", "a,2", "1,b"} {
		if _, err := parseNeighbours([]string{bad}); err == nil {
			t.Errorf("parseNeighbours(%q): expected error", bad)
		}
	}
}
