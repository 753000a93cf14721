package wharf

import (
	"io"
	"log/slog"
	"runtime"
)

// BlockSize is the chunk size files are partitioned into for hashing and
// BlockRange addressing, the upstream wharf constant. It is never carried
// in the wire format: producer and consumer must agree out of band, which
// is why every operation defaults to this value and only tests override it.
const BlockSize int64 = 64 * 1024

// ProgressFunc receives the number of bytes processed since the previous
// call. Callbacks run on the worker goroutines and must be cheap.
type ProgressFunc func(bytes int64)

// SignOption configures ComputeSignature and WriteSignature.
type SignOption func(*signConfig)

type signConfig struct {
	blockSize   int64
	compression CompressionSettings
	logger      *slog.Logger
	progress    ProgressFunc
}

func newSignConfig(opts []SignOption) signConfig {
	cfg := signConfig{blockSize: BlockSize, compression: DefaultCompression}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// SignWithBlockSize overrides the hashing block size.
func SignWithBlockSize(n int64) SignOption {
	return func(c *signConfig) { c.blockSize = n }
}

// SignWithCompression sets the codec for the signature body.
func SignWithCompression(s CompressionSettings) SignOption {
	return func(c *signConfig) { c.compression = s }
}

// SignWithLogger attaches a logger.
func SignWithLogger(l *slog.Logger) SignOption {
	return func(c *signConfig) { c.logger = l }
}

// SignWithProgress reports hashed bytes.
func SignWithProgress(fn ProgressFunc) SignOption {
	return func(c *signConfig) { c.progress = fn }
}

// VerifyOption configures VerifySignature.
type VerifyOption func(*verifyConfig)

type verifyConfig struct {
	logger   *slog.Logger
	progress ProgressFunc
}

func newVerifyConfig(opts []VerifyOption) verifyConfig {
	var cfg verifyConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// VerifyWithLogger attaches a logger.
func VerifyWithLogger(l *slog.Logger) VerifyOption {
	return func(c *verifyConfig) { c.logger = l }
}

// VerifyWithProgress reports scanned bytes.
func VerifyWithProgress(fn ProgressFunc) VerifyOption {
	return func(c *verifyConfig) { c.progress = fn }
}

// DiffOption configures WritePatch.
type DiffOption func(*diffConfig)

type diffConfig struct {
	compression CompressionSettings
	logger      *slog.Logger
	progress    ProgressFunc
}

func newDiffConfig(opts []DiffOption) diffConfig {
	cfg := diffConfig{compression: DefaultCompression}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// DiffWithCompression sets the codec for the patch body.
func DiffWithCompression(s CompressionSettings) DiffOption {
	return func(c *diffConfig) { c.compression = s }
}

// DiffWithLogger attaches a logger.
func DiffWithLogger(l *slog.Logger) DiffOption {
	return func(c *diffConfig) { c.logger = l }
}

// DiffWithProgress reports scanned bytes of the new tree.
func DiffWithProgress(fn ProgressFunc) DiffOption {
	return func(c *diffConfig) { c.progress = fn }
}

// AddPastEOFPolicy decides what a bsdiff add that reads past the old
// file's end does. Upstream documentation leaves this unspecified, so it
// is an explicit choice here rather than an accident of the reader used.
type AddPastEOFPolicy uint8

const (
	// AddPastEOFFail rejects the patch with ErrRange. Default.
	AddPastEOFFail AddPastEOFPolicy = iota
	// AddPastEOFZeroPad treats missing old bytes as zero.
	AddPastEOFZeroPad
)

// ApplyOption configures ApplyPatch.
type ApplyOption func(*applyConfig)

type applyConfig struct {
	blockSize  int64
	workers    int
	logger     *slog.Logger
	progress   ProgressFunc
	addPastEOF AddPastEOFPolicy
	stagingDir string
}

func newApplyConfig(opts []ApplyOption) applyConfig {
	cfg := applyConfig{blockSize: BlockSize, workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers < 1 {
		cfg.workers = 1
	}
	return cfg
}

// ApplyWithBlockSize overrides the BlockRange addressing block size. It
// must match the size the patch was produced with.
func ApplyWithBlockSize(n int64) ApplyOption {
	return func(c *applyConfig) { c.blockSize = n }
}

// ApplyWithWorkers bounds the per-file reconstruction fan-out. Values
// below 1 force serial application.
func ApplyWithWorkers(n int) ApplyOption {
	return func(c *applyConfig) { c.workers = n }
}

// ApplyWithLogger attaches a logger.
func ApplyWithLogger(l *slog.Logger) ApplyOption {
	return func(c *applyConfig) { c.logger = l }
}

// ApplyWithProgress reports reconstructed bytes.
func ApplyWithProgress(fn ProgressFunc) ApplyOption {
	return func(c *applyConfig) { c.progress = fn }
}

// ApplyWithAddPastEOF sets the bsdiff add-past-EOF policy.
func ApplyWithAddPastEOF(p AddPastEOFPolicy) ApplyOption {
	return func(c *applyConfig) { c.addPastEOF = p }
}

// ApplyWithStagingDir overrides where reconstructed files are staged
// before being committed. It must be on the same filesystem as the target
// directory for the final rename to stay atomic. Defaults to a temporary
// directory under the target.
func ApplyWithStagingDir(dir string) ApplyOption {
	return func(c *applyConfig) { c.stagingDir = dir }
}

// logOrDiscard returns l, or a discard logger when nil.
func logOrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l
}
