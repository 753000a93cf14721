// wharf is a command-line front end for the wharf diff and patch engine.
//
// Commands:
//
//	wharf sign <dir> <signature>          hash a tree into a signature file
//	wharf verify <signature> <dir>        check a tree against a signature
//	wharf diff <old-dir> <new-dir> <patch> produce a patch between two trees
//	wharf apply <patch> <old-dir> <new-dir> rebuild a tree from a patch
//	wharf info <file>                     describe a patch or signature file
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"github.com/quayside/wharf"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		printUsage()
		return errors.New("missing command")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	command, rest := args[0], args[1:]
	switch command {
	case "sign":
		return runSign(ctx, rest)
	case "verify":
		return runVerify(ctx, rest)
	case "diff":
		return runDiff(ctx, rest)
	case "apply":
		return runApply(ctx, rest)
	case "info":
		return runInfo(rest)
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `usage: wharf <command> [flags] <args>

commands:
  sign <dir> <signature>            hash a tree into a signature file
  verify <signature> <dir>          check a tree against a signature
  diff <old-dir> <new-dir> <patch>  produce a patch between two trees
  apply <patch> <old-dir> <new-dir> rebuild a tree from a patch
  info <file>                       describe a patch or signature file
`)
}

// commonFlags holds the flags every subcommand shares.
type commonFlags struct {
	verbose bool
}

func (c *commonFlags) register(fs *pflag.FlagSet) {
	fs.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
}

// codecFlags holds the flags of the stream-producing subcommands.
type codecFlags struct {
	compression string
	quality     int32
}

func (c *codecFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&c.compression, "compression", "zstd", "body codec: none, brotli, gzip or zstd")
	fs.Int32Var(&c.quality, "quality", wharf.DefaultCompression.Quality, "codec quality level")
}

func (c *commonFlags) logger() *slog.Logger {
	level := slog.LevelInfo
	if c.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (c *codecFlags) settings() (wharf.CompressionSettings, error) {
	s := wharf.CompressionSettings{Quality: c.quality}
	switch c.compression {
	case "none":
		s.Algorithm = wharf.CompressionNone
	case "brotli":
		s.Algorithm = wharf.CompressionBrotli
	case "gzip":
		s.Algorithm = wharf.CompressionGzip
	case "zstd":
		s.Algorithm = wharf.CompressionZstd
	default:
		return s, fmt.Errorf("unknown compression %q", c.compression)
	}
	return s, nil
}

func runSign(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("sign", pflag.ContinueOnError)
	var common commonFlags
	var codec codecFlags
	common.register(fs)
	codec.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("sign needs <dir> and <signature>")
	}
	dir, out := fs.Arg(0), fs.Arg(1)
	settings, err := codec.settings()
	if err != nil {
		return err
	}
	log := common.logger()

	container, err := wharf.ScanContainer(dir)
	if err != nil {
		return err
	}
	src := wharf.NewDirSource(container, dir)
	defer src.Close()
	sig, err := wharf.ComputeSignature(ctx, container, src, wharf.SignWithLogger(log))
	if err != nil {
		return err
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := wharf.WriteSignature(ctx, f, sig,
		wharf.SignWithCompression(settings), wharf.SignWithLogger(log)); err != nil {
		return err
	}
	return f.Close()
}

func runVerify(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("verify needs <signature> and <dir>")
	}
	sigPath, dir := fs.Arg(0), fs.Arg(1)

	f, err := os.Open(sigPath)
	if err != nil {
		return err
	}
	defer f.Close()
	sig, err := wharf.ReadSignature(f)
	if err != nil {
		return err
	}
	findings, err := wharf.VerifySignature(ctx, sig, dir,
		wharf.VerifyWithLogger(common.logger()))
	if err != nil {
		return err
	}
	for _, finding := range findings {
		fmt.Println(finding)
	}
	if len(findings) > 0 {
		return fmt.Errorf("%d defects found", len(findings))
	}
	fmt.Println("ok")
	return nil
}

func runDiff(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("diff", pflag.ContinueOnError)
	var common commonFlags
	var codec codecFlags
	common.register(fs)
	codec.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 3 {
		return errors.New("diff needs <old-dir>, <new-dir> and <patch>")
	}
	oldDir, newDir, out := fs.Arg(0), fs.Arg(1), fs.Arg(2)
	settings, err := codec.settings()
	if err != nil {
		return err
	}
	log := common.logger()

	oldContainer, err := wharf.ScanContainer(oldDir)
	if err != nil {
		return err
	}
	oldSrc := wharf.NewDirSource(oldContainer, oldDir)
	defer oldSrc.Close()
	oldSig, err := wharf.ComputeSignature(ctx, oldContainer, oldSrc, wharf.SignWithLogger(log))
	if err != nil {
		return err
	}

	newContainer, err := wharf.ScanContainer(newDir)
	if err != nil {
		return err
	}
	newSrc := wharf.NewDirSource(newContainer, newDir)
	defer newSrc.Close()

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := wharf.WritePatch(ctx, f, oldSig, newContainer, newSrc,
		wharf.DiffWithCompression(settings), wharf.DiffWithLogger(log)); err != nil {
		return err
	}
	return f.Close()
}

func runApply(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("apply", pflag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	workers := fs.Int("workers", 0, "parallel file reconstructions (0 = all CPUs)")
	zeroPad := fs.Bool("zero-pad", false, "treat bsdiff reads past the old end as zeros")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 3 {
		return errors.New("apply needs <patch>, <old-dir> and <new-dir>")
	}
	patchPath, oldDir, newDir := fs.Arg(0), fs.Arg(1), fs.Arg(2)

	f, err := os.Open(patchPath)
	if err != nil {
		return err
	}
	defer f.Close()

	opts := []wharf.ApplyOption{wharf.ApplyWithLogger(common.logger())}
	if *workers > 0 {
		opts = append(opts, wharf.ApplyWithWorkers(*workers))
	}
	if *zeroPad {
		opts = append(opts, wharf.ApplyWithAddPastEOF(wharf.AddPastEOFZeroPad))
	}
	return wharf.ApplyPatch(ctx, f, oldDir, newDir, opts...)
}

func runInfo(args []string) error {
	fs := pflag.NewFlagSet("info", pflag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("info needs <file>")
	}
	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := wharf.Identify(f)
	if err != nil {
		return err
	}
	fmt.Printf("kind:        %s\n", info.Kind)
	fmt.Printf("compression: %s (quality %d)\n", info.Compression.Algorithm, info.Compression.Quality)
	if info.Old != nil {
		fmt.Printf("old:         %s\n", info.Old.Stats())
	}
	fmt.Printf("new:         %s\n", info.New.Stats())
	return nil
}
