package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vearutop/rgb9e5ktx"
)

func TestListFlag(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var l listFlag
	fs.Var(&l, "i", "")
	if err := fs.Parse([]string{"-i", "a.exr, b.hdr,", "-i", "c.tif"}); err != nil {
		t.Fatal(err)
	}
	if got := l.String(); got != "a.exr,b.hdr,c.tif" {
		t.Fatalf("got %q", got)
	}
}

func TestExitCode(t *testing.T) {
	for _, tc := range []struct {
		err  error
		code int
	}{
		{nil, 0},
		{fmt.Errorf("%w: %w", errUsage, flag.ErrHelp), 0},
		{fmt.Errorf("%w: missing -in", errUsage), 2},
		{rgb9e5ktx.ErrNoSources, 1},
		{rgb9e5ktx.ErrBatchFailed, 1},
	} {
		if got := exitCode(tc.err); got != tc.code {
			t.Fatalf("%v: got %d want %d", tc.err, got, tc.code)
		}
	}
}

func TestParseFlagsUsage(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.String("in", "", "")
	if err := parseFlags(fs, []string{"-in", "a", "extra"}); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestFinish(t *testing.T) {
	res := &rgb9e5ktx.BatchResult{
		Jobs: []rgb9e5ktx.JobReport{
			{Source: "a.exr", Destination: "a.ktx2", State: rgb9e5ktx.JobConverted},
			{Source: "b.exr", Destination: "b.ktx2", State: rgb9e5ktx.JobFailed, Stage: rgb9e5ktx.StageDecode, Err: errors.New("corrupt")},
		},
		Converted: 1,
		Failed:    1,
	}

	var buf bytes.Buffer
	err := finish(&buf, res, nil)
	if !errors.Is(err, rgb9e5ktx.ErrBatchFailed) {
		t.Fatalf("expected ErrBatchFailed, got %v", err)
	}

	out := buf.String()
	for _, want := range []string{"converted  a.exr -> a.ktx2", "failed     b.exr -> b.ktx2 (decode): corrupt", "1 converted, 1 failed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q lacks %q", out, want)
		}
	}
}

func TestRunWatchExitStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	if err := os.WriteFile(path, []byte("jobs: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		first error
		want  error
	}{
		{first: fmt.Errorf("%w: 1 of 2 jobs", rgb9e5ktx.ErrBatchFailed), want: rgb9e5ktx.ErrBatchFailed},
		{first: nil, want: nil},
	} {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		err := runWatch(ctx, path, tc.first, &bytes.Buffer{})
		cancel()

		if tc.want == nil {
			if err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			continue
		}
		if !errors.Is(err, tc.want) || exitCode(err) != 1 {
			t.Fatalf("expected %v with exit code 1, got %v", tc.want, err)
		}
	}
}

func TestDescribe(t *testing.T) {
	tex := rgb9e5ktx.Encode(&rgb9e5ktx.DecodedImage{Width: 2, Height: 1, Levels: [][]float32{make([]float32, 8), make([]float32, 4)}})
	data, err := rgb9e5ktx.MarshalKTX2(tex)
	if err != nil {
		t.Fatal(err)
	}
	f, err := rgb9e5ktx.ReadKTX2(data)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := describe(&buf, f); err != nil {
		t.Fatal(err)
	}
	if out := buf.String(); !strings.Contains(out, "vkFormat 123") || !strings.Contains(out, "level  1: 1x1") {
		t.Fatalf("unexpected output %q", out)
	}
}
