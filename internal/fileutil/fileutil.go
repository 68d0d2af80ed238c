package fileutil

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// maxUniqueAttempts bounds the name_N suffix search in ReserveUnique.
const maxUniqueAttempts = 10000

// HashFile streams path through SHA-256 using a buffer of chunkSize bytes
// and returns the lowercase hex digest and the number of bytes read.
func HashFile(path string, chunkSize int) (string, int64, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer in.Close()

	if chunkSize <= 0 {
		chunkSize = 64 << 10
	}
	hasher := sha256.New()
	n, err := io.CopyBuffer(hasher, in, make([]byte, chunkSize))
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}

// HashString returns the hex SHA-256 digest of value.
func HashString(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// CopyFileVerified streams src to dst with SHA256 + size integrity verification.
// Removes dst on mismatch. The returned digest is the hex SHA-256 of the
// copied bytes.
func CopyFileVerified(src, dst string) (string, error) {
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	return copyVerified(context.Background(), src, dst, out)
}

func copyVerified(ctx context.Context, src, dst string, out *os.File) (string, error) {
	defer func() {
		_ = out.Close()
	}()

	srcInfo, err := os.Stat(src)
	if err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("stat source: %w", err)
	}
	srcSize := srcInfo.Size()

	in, err := os.Open(src)
	if err != nil {
		_ = os.Remove(dst)
		return "", err
	}
	defer in.Close()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	tee := io.TeeReader(contextReader{ctx: ctx, r: in}, srcHasher)
	multi := io.MultiWriter(out, dstHasher)

	written, err := io.Copy(multi, tee)
	if err != nil {
		_ = os.Remove(dst)
		return "", err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return "", err
	}

	if written != srcSize {
		_ = os.Remove(dst)
		return "", fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcSize, written)
	}

	srcSum := srcHasher.Sum(nil)
	if !bytes.Equal(srcSum, dstHasher.Sum(nil)) {
		_ = os.Remove(dst)
		return "", fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}
	if err := ctx.Err(); err != nil {
		_ = os.Remove(dst)
		return "", err
	}

	return hex.EncodeToString(srcSum), nil
}

// ReserveUnique creates a new empty file for name inside dir without
// overwriting anything. When name is taken the stem gets a numeric suffix
// (report.pdf, report_1.pdf, report_2.pdf). The caller owns the returned file.
func ReserveUnique(dir, name string) (string, *os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create destination directory: %w", err)
	}
	stem, ext := SplitExt(name)
	for i := 0; i < maxUniqueAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = stem + "_" + strconv.Itoa(i) + ext
		}
		path := filepath.Join(dir, candidate)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return path, file, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", nil, err
		}
	}
	return "", nil, fmt.Errorf("no free name for %q in %s", name, dir)
}

// CopyIntoUnique copies src into dir under name, picking a suffixed name
// when name is already taken. It returns the final path and the digest of
// the copied content. A copy interrupted by ctx leaves nothing behind.
func CopyIntoUnique(ctx context.Context, src, dir, name string) (string, string, error) {
	path, file, err := ReserveUnique(dir, name)
	if err != nil {
		return "", "", err
	}
	digest, err := copyVerified(ctx, src, path, file)
	if err != nil {
		return "", "", err
	}
	return path, digest, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// ReserveUniqueDir creates a new directory for name inside parent, using the
// same suffix scheme as ReserveUnique.
func ReserveUniqueDir(parent, name string) (string, error) {
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("create parent directory: %w", err)
	}
	for i := 0; i < maxUniqueAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = name + "_" + strconv.Itoa(i)
		}
		path := filepath.Join(parent, candidate)
		err := os.Mkdir(path, 0o755)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("no free directory name for %q in %s", name, parent)
}

// WriteFileAtomic writes data to a temporary sibling of path and renames it
// into place so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// compoundExts are multi-part extensions kept together by SplitExt.
var compoundExts = []string{".tar.gz", ".tar.bz2", ".tar.xz", ".tar.zst"}

// SplitExt splits name into stem and extension, keeping compound archive
// extensions such as .tar.gz together.
func SplitExt(name string) (string, string) {
	lower := strings.ToLower(name)
	for _, ext := range compoundExts {
		if strings.HasSuffix(lower, ext) && len(name) > len(ext) {
			return name[:len(name)-len(ext)], name[len(name)-len(ext):]
		}
	}
	ext := filepath.Ext(name)
	if ext == name {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}

// SanitizeSegment turns an arbitrary string into a single safe path segment.
// Input is NFC-normalized; separators and control characters become
// underscores and leading dots are stripped.
func SanitizeSegment(value string) string {
	value = norm.NFC.String(strings.TrimSpace(value))
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		switch {
		case r == '/' || r == '\\' || r == 0:
			b.WriteByte('_')
		case unicode.IsControl(r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	out = strings.TrimSpace(out)
	if out == "" {
		return "_"
	}
	return out
}
