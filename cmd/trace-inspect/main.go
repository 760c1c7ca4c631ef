package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/skobkin/regsampler/internal/host"
	"github.com/skobkin/regsampler/internal/sites"
)

type options struct {
	tracePath  string
	disasm     bool
	limit      int
	jsonOutput bool
}

type report struct {
	Path     string `json:"path"`
	Events   uint64 `json:"events"`
	Sites    int    `json:"sites"`
	Decoded  uint64 `json:"decoded"`
	Bad      uint64 `json:"bad_instructions"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.tracePath, "trace", "", "Path to a JSONL trace (- for stdin)")
	flag.BoolVar(&opts.disasm, "disasm", false, "Print every event with its decoded instruction")
	flag.IntVar(&opts.limit, "limit", 0, "Stop after this many events (0 = all)")
	flag.BoolVar(&opts.jsonOutput, "json", false, "Emit the summary as JSON")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if opts.tracePath == "" {
		logger.Error("missing -trace")
		flag.Usage()
		os.Exit(2)
	}

	src, closeSrc, err := openTrace(opts.tracePath)
	if err != nil {
		logger.Error("open trace failed", "err", err)
		os.Exit(1)
	}
	defer closeSrc()

	table, err := sites.NewTable(sites.DefaultCapacity, logger)
	if err != nil {
		logger.Error("site table init failed", "err", err)
		os.Exit(1)
	}

	rep, err := inspect(src, table, opts, os.Stdout)
	if err != nil {
		logger.Error("trace invalid", "err", err)
		os.Exit(1)
	}
	rep.Path = opts.tracePath

	if opts.jsonOutput {
		enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			logger.Error("encode report", "err", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("Trace: %s\n", rep.Path)
	fmt.Printf("- events: %d\n", rep.Events)
	fmt.Printf("- distinct sites: %d (decoded %d, bad %d)\n", rep.Sites, rep.Decoded, rep.Bad)
	if rep.ExitCode != nil {
		fmt.Printf("- exit code: %d\n", *rep.ExitCode)
	} else {
		fmt.Println("- exit code: none recorded")
	}
}

func openTrace(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func inspect(src io.Reader, table *sites.Table, opts options, out io.Writer) (report, error) {
	var rep report
	reader := host.NewTraceReader(src)

	for opts.limit <= 0 || rep.Events < uint64(opts.limit) {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rep, err
		}
		if ev.Exit != nil {
			code := *ev.Exit
			rep.ExitCode = &code
			break
		}
		if _, err := ev.Snapshot(); err != nil {
			return rep, fmt.Errorf("trace line %d: %w", reader.Line(), err)
		}
		if ev.Code != "" {
			if _, err := ev.CodeBytes(); err != nil {
				return rep, fmt.Errorf("trace line %d: code: %w", reader.Line(), err)
			}
		}

		text := ev.Disassembly
		if text == "" {
			text = table.Text(ev.Address, ev.CodeBytes)
		} else {
			table.Remember(ev.Address, text)
		}
		if text == sites.BadInstruction {
			rep.Bad++
		}
		rep.Events++

		if opts.disasm {
			fmt.Fprintf(out, "%8d  %#016x  %s\n", rep.Events, ev.Address, text)
		}
	}

	rep.Sites = table.Len()
	rep.Decoded = table.Misses()
	return rep, nil
}
