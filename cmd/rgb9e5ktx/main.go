package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bool64/dev/version"
	"github.com/vearutop/rgb9e5ktx"
)

var errUsage = errors.New("usage")

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "convert":
		err = runConvert(ctx, os.Args[2:])
	case "batch":
		err = runBatch(ctx, os.Args[2:])
	case "inspect":
		err = runInspect(os.Args[2:])
	case "version", "-version", "--version":
		fmt.Fprintln(os.Stdout, version.Info().String())
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		stop()
		fail(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: rgb9e5ktx <command> [args]")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  convert -i a.exr,b.hdr -o a.ktx2,b.ktx2 [-tick 10ms] [-workers N] [-v]")
	fmt.Fprintln(os.Stderr, "  batch   -manifest jobs.yaml [-watch] [-v]")
	fmt.Fprintln(os.Stderr, "  inspect -in texture.ktx2")
	fmt.Fprintln(os.Stderr, "  version")
}

// listFlag collects comma-separated values, the flag may also be repeated.
type listFlag []string

func (l *listFlag) String() string {
	return strings.Join(*l, ",")
}

func (l *listFlag) Set(v string) error {
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			*l = append(*l, p)
		}
	}
	return nil
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected arguments %v", errUsage, fs.Args())
	}
	return nil
}

func setupLogger(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	rgb9e5ktx.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func runConvert(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	var sources, destinations listFlag
	fs.Var(&sources, "i", "comma-separated source images (.exr, .hdr, .tif, .ktx2)")
	fs.Var(&destinations, "o", "comma-separated destination KTX2 files, one per source")
	tick := fs.Duration("tick", 10*time.Millisecond, "scheduler tick interval")
	workers := fs.Int("workers", 0, "concurrent decodes, 0 uses GOMAXPROCS")
	verbose := fs.Bool("v", false, "debug logging")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	setupLogger(*verbose)

	pairs, err := rgb9e5ktx.Pairs(sources, destinations)
	if err != nil {
		return err
	}

	src := rgb9e5ktx.NewFileSource(func(o *rgb9e5ktx.FileSourceOptions) {
		if *workers > 0 {
			o.Workers = *workers
		}
	})
	defer src.Close()

	res, err := rgb9e5ktx.Run(ctx, src, pairs, func(o *rgb9e5ktx.RunOptions) {
		o.TickInterval = *tick
	})
	return finish(os.Stdout, res, err)
}

func runBatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	manifestPath := fs.String("manifest", "", "YAML batch manifest")
	watch := fs.Bool("watch", false, "re-run the batch whenever the manifest changes")
	verbose := fs.Bool("v", false, "debug logging")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *manifestPath == "" {
		return fmt.Errorf("%w: missing -manifest", errUsage)
	}
	setupLogger(*verbose)

	m, err := rgb9e5ktx.LoadManifest(*manifestPath)
	if err != nil {
		return err
	}
	res, err := m.Run(ctx)
	if !*watch {
		return finish(os.Stdout, res, err)
	}

	return runWatch(ctx, *manifestPath, finish(os.Stdout, res, err), os.Stdout)
}

// runWatch re-runs the manifest batch on every change until ctx is done.
// It returns the error of the most recent batch, first being the initial one.
func runWatch(ctx context.Context, path string, first error, w io.Writer) error {
	last := first
	if last != nil {
		rgb9e5ktx.Logger().Error("batch failed", "error", last)
	}

	err := rgb9e5ktx.WatchManifest(ctx, path, func(m *rgb9e5ktx.Manifest) {
		res, err := m.Run(ctx)
		last = finish(w, res, err)
		if last != nil {
			rgb9e5ktx.Logger().Error("batch failed", "error", last)
		}
	})
	if err != nil {
		return err
	}

	return last
}

// finish prints the per-job outcome and returns the batch error, if any.
func finish(w io.Writer, res *rgb9e5ktx.BatchResult, err error) error {
	if res != nil {
		for _, j := range res.Jobs {
			switch j.State {
			case rgb9e5ktx.JobFailed:
				fmt.Fprintf(w, "failed     %s -> %s (%s): %v\n", j.Source, j.Destination, j.Stage, j.Err)
			default:
				fmt.Fprintf(w, "%-10s %s -> %s\n", j.State, j.Source, j.Destination)
			}
		}
		fmt.Fprintf(w, "%d converted, %d failed\n", res.Converted, res.Failed)
	}
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	return res.Err()
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	inPath := fs.String("in", "", "input KTX2 file")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *inPath == "" {
		return fmt.Errorf("%w: missing -in", errUsage)
	}

	data, err := os.ReadFile(filepath.Clean(*inPath))
	if err != nil {
		return err
	}
	f, err := rgb9e5ktx.ReadKTX2(data)
	if err != nil {
		return err
	}
	return describe(os.Stdout, f)
}

func describe(w io.Writer, f *rgb9e5ktx.KTX2File) error {
	h := f.Header
	fmt.Fprintf(w, "format:   %s (vkFormat %d, typeSize %d)\n", f.Format(), h.VkFormat, h.TypeSize)
	fmt.Fprintf(w, "size:     %dx%d depth %d layers %d faces %d\n", h.PixelWidth, h.PixelHeight, h.PixelDepth, h.LayerCount, h.FaceCount)
	fmt.Fprintf(w, "levels:   %d\n", h.LevelCount)
	fmt.Fprintf(w, "dfd:      offset %d length %d\n", f.Index.DFDByteOffset, f.Index.DFDByteLength)
	for i, l := range f.Levels {
		lw, lh := rgb9e5ktx.LevelSize(int(h.PixelWidth), int(h.PixelHeight), i)
		fmt.Fprintf(w, "level %2d: %dx%d offset %d length %d\n", i, lw, lh, l.ByteOffset, l.ByteLength)
	}
	return nil
}

func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		return 2
	default:
		return 1
	}
}

func fail(err error) {
	code := exitCode(err)
	if code != 0 {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	os.Exit(code)
}
