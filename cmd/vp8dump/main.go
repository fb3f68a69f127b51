// Command vp8dump decodes the frame headers of an IVF file or RTP packet
// dump and writes one JSON record per frame.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rcarmo/go-vp8/internal/config"
	"github.com/rcarmo/go-vp8/internal/dump"
	"github.com/rcarmo/go-vp8/internal/framing"
	"github.com/rcarmo/go-vp8/internal/logging"
	"github.com/rcarmo/go-vp8/internal/session"
	"github.com/rcarmo/go-vp8/internal/vp8"
)

const usage = `USAGE: vp8dump [options] <input>

Reads an IVF file (.ivf) or a length-prefixed RTP packet dump (.rtp) and
writes one JSON line per frame. Use "-" to read standard input.

OPTIONS:
`

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "vp8dump: %v\n", err)
		}
		os.Exit(1)
	}
}

// createOutput opens the -out file.
var createOutput = func(name string) (io.WriteCloser, error) { return os.Create(name) }

type dumpArgs struct {
	framing    string
	out        string
	compress   string
	headerSize string
	logLevel   string
	accel      bool
	lockSize   bool
	input      string
}

func parseArgs(argv []string, stderr io.Writer) (dumpArgs, error) {
	var a dumpArgs
	fs := flag.NewFlagSet("vp8dump", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&a.framing, "framing", "", "input framing (ivf, rtp); inferred from the file extension when empty")
	fs.StringVar(&a.out, "out", "-", "output file, - for standard output")
	fs.StringVar(&a.compress, "compress", "", "output compression (none, zstd)")
	fs.StringVar(&a.headerSize, "header-size", "", "header size formula (standard, legacy)")
	fs.StringVar(&a.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	fs.BoolVar(&a.accel, "accel", false, "include accelerator parameter records")
	fs.BoolVar(&a.lockSize, "lock-size", false, "reject key frames that change the size of the first one")

	if err := fs.Parse(argv); err != nil {
		return a, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return a, fmt.Errorf("expected one input, got %d", fs.NArg())
	}
	a.input = fs.Arg(0)

	if a.framing == "" {
		switch strings.ToLower(filepath.Ext(a.input)) {
		case ".ivf":
			a.framing = string(framing.KindIVF)
		case ".rtp", ".rtpdump":
			a.framing = string(framing.KindRTP)
		}
	}
	return a, nil
}

func run(argv []string, stdin io.Reader, stdout, stderr io.Writer) (err error) {
	a, err := parseArgs(argv, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.LoadWithOverrides(config.LoadOptions{
		LogLevel:   a.logLevel,
		HeaderSize: a.headerSize,
		Framing:    a.framing,
		Compress:   a.compress,
	})
	if err != nil {
		return err
	}

	log := logging.New(stderr, logging.ParseLevel(cfg.Logging.Level))
	log.SetFormatFromString(cfg.Logging.Format)
	log = log.WithPrefix("vp8dump")

	kind, err := framing.ParseKind(cfg.Framing.Format)
	if err != nil {
		return err
	}
	compress, err := dump.ParseCompression(cfg.Dump.Compress)
	if err != nil {
		return err
	}

	in := stdin
	if a.input != "-" {
		f, err := os.Open(a.input)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	out := stdout
	if a.out != "-" {
		f, cerr := createOutput(a.out)
		if cerr != nil {
			return cerr
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close %s: %w", a.out, cerr)
			}
		}()
		out = f
	}

	rtpOpts := cfg.RTPOptions()
	rtpOpts.Logger = log
	src, err := framing.NewSource(kind, in, rtpOpts)
	if err != nil {
		return err
	}

	opts := cfg.SessionOptions()
	opts.Accel = a.accel
	opts.LockSize = a.lockSize
	opts.Logger = log
	sess := session.New(opts)
	defer sess.Close()

	w, err := dump.NewWriter(out, compress)
	if err != nil {
		return err
	}

	if err := decodeAll(src, sess, w, log); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	st := sess.Stats()
	log.Info("%d frames: %d decoded, %d shown, %d dropped, %d failed",
		w.Count(), st.Decoded, st.Shown, st.Dropped, st.Failed)
	if rs, ok := src.(*framing.RTPSource); ok {
		asm := rs.Assembler()
		log.Info("rtp: %d packets assembled into %d frames", asm.Packets(), asm.Frames())
	}
	return nil
}

// decodeAll writes a record for every frame of src. Decode failures are
// recorded and do not stop the dump; read failures do.
func decodeAll(src framing.Source, sess *session.Session, w *dump.Writer, log *logging.Logger) error {
	for i := 0; ; i++ {
		f, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}

		res, err := sess.Decode(f.Data)
		if err != nil && !vp8.IsRecoverable(err) {
			log.Warn("frame %d: %v", i, err)
		}
		if err := w.Write(dump.NewRecord(i, f, res, err)); err != nil {
			return err
		}
	}
}
