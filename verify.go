package wharf

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// FindingKind classifies a verification result.
type FindingKind uint8

const (
	// FindingMissing reports a file that is absent or shorter than the
	// container declares.
	FindingMissing FindingKind = iota
	// FindingCorrupted reports one block whose hash does not match.
	FindingCorrupted
)

func (k FindingKind) String() string {
	switch k {
	case FindingMissing:
		return "missing"
	case FindingCorrupted:
		return "corrupted"
	default:
		return "unknown"
	}
}

// Finding is one verification defect. Findings are data, not errors:
// verification always scans the whole container and reports everything it
// saw.
type Finding struct {
	Kind       FindingKind
	FileIndex  int64
	BlockIndex int64 // meaningful for FindingCorrupted only
	Path       string
}

func (f Finding) String() string {
	if f.Kind == FindingCorrupted {
		return fmt.Sprintf("%s: %q block %d", f.Kind, f.Path, f.BlockIndex)
	}
	return fmt.Sprintf("%s: %q", f.Kind, f.Path)
}

// VerifySignature recomputes block hashes over the files under dir and
// compares them positionally against sig. A missing or short file yields
// one Missing finding; every mismatched block yields a Corrupted finding.
// One bad block never stops the scan: the result is exhaustive.
//
// The returned error reports only environmental failures (I/O); a non-nil
// findings slice with a nil error is a completed, failed verification.
func VerifySignature(ctx context.Context, sig *Signature, dir string, opts ...VerifyOption) ([]Finding, error) {
	cfg := newVerifyConfig(opts)
	log := logOrDiscard(cfg.logger)

	var findings []Finding
	buf := make([]byte, sig.BlockSize)
	hashPos := int64(0)
	for index := range sig.Container.Files {
		if err := ctx.Err(); err != nil {
			return findings, err
		}
		f := sig.Container.Files[index]
		blocks := f.BlockCount(sig.BlockSize)
		fileFindings, err := verifyFile(ctx, sig, f, int64(index), hashPos, dir, buf, cfg.progress)
		if err != nil {
			return findings, err
		}
		findings = append(findings, fileFindings...)
		hashPos += blocks
	}
	if len(findings) > 0 {
		log.Warn("verification found defects", "count", len(findings))
	}
	return findings, nil
}

func verifyFile(ctx context.Context, sig *Signature, f File, index, hashPos int64, dir string, buf []byte, progress ProgressFunc) ([]Finding, error) {
	p, err := safeJoin(dir, f.Path)
	if err != nil {
		return nil, err
	}
	missing := []Finding{{Kind: FindingMissing, FileIndex: index, Path: f.Path}}

	info, err := os.Lstat(p)
	switch {
	case errorsIsNotExist(err):
		return missing, nil
	case err != nil:
		return nil, err
	case !info.Mode().IsRegular(), info.Size() != f.Size:
		return missing, nil
	}

	file, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var findings []Finding
	remaining := f.Size
	for block := int64(0); block < f.BlockCount(sig.BlockSize); block++ {
		if err := ctx.Err(); err != nil {
			return findings, err
		}
		n := sig.BlockSize
		if remaining < n {
			n = remaining
		}
		chunk := buf[:n]
		if _, err := io.ReadFull(file, chunk); err != nil {
			// The file shrank between Lstat and the read.
			return missing, nil
		}
		remaining -= n
		if progress != nil {
			progress(n)
		}

		want := sig.Hashes[hashPos+block]
		strong := md5.Sum(chunk)
		if !bytes.Equal(strong[:], want.Strong) {
			findings = append(findings, Finding{
				Kind:       FindingCorrupted,
				FileIndex:  index,
				BlockIndex: block,
				Path:       f.Path,
			})
		}
	}
	return findings, nil
}

func errorsIsNotExist(err error) bool {
	return err != nil && errors.Is(err, fs.ErrNotExist)
}
