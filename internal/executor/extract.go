package executor

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"hopper/internal/fileutil"
	"hopper/internal/planner"
	"hopper/internal/services"
)

// extractLimits bound one archive.
type extractLimits struct {
	maxMembers int
	maxBytes   int64
	members    int
	bytes      int64
}

// admit counts one member and rejects it when its declared size alone
// would exceed the byte budget.
func (l *extractLimits) admit(declared int64) error {
	l.members++
	if l.members > l.maxMembers {
		return services.Wrap(services.ErrExecutionFailure, "extract", "limit", fmt.Sprintf("more than %d members", l.maxMembers), nil)
	}
	if declared > 0 && l.bytes+declared > l.maxBytes {
		return l.overBudget()
	}
	return nil
}

func (l *extractLimits) overBudget() error {
	return services.Wrap(services.ErrExecutionFailure, "extract", "limit", fmt.Sprintf("more than %d bytes", l.maxBytes), nil)
}

// extract unpacks into a fresh directory under the library and returns the
// regular files it produced so they can be scanned as new candidates.
func (e *Executor) extract(ctx context.Context, req Request, action planner.Action) (output, error) {
	parent, err := e.libraryPath(action.Target)
	if err != nil {
		return output{}, err
	}
	release, err := e.locks.Acquire(ctx, parent)
	if err != nil {
		return output{}, err
	}
	stem, _ := fileutil.SplitExt(filepath.Base(req.Path))
	dest, err := fileutil.ReserveUniqueDir(parent, fileutil.SanitizeSegment(stem)+"_"+shortHash(req.Hash))
	release()
	if err != nil {
		return output{}, services.Wrap(services.ErrIO, "extract", "create destination", parent, err)
	}

	limits := &extractLimits{maxMembers: e.cfg.Extract.MaxMembers, maxBytes: e.cfg.Extract.MaxTotalBytes}
	format := action.Params["format"]
	switch format {
	case "zip":
		err = extractZip(ctx, req.Path, dest, limits)
	case "tar":
		err = extractTarFile(ctx, req.Path, dest, false, limits)
	case "tar.gz", "tgz":
		err = extractTarFile(ctx, req.Path, dest, true, limits)
	case "gz":
		err = extractGzip(ctx, req.Path, dest, limits)
	case "rar", "7z":
		err = e.extractExternal(ctx, req.Path, dest, limits)
	default:
		err = services.Wrap(services.ErrUnsupportedFormat, "extract", "format", fmt.Sprintf("unknown archive format %q", format), nil)
	}
	if err != nil {
		_ = os.RemoveAll(dest)
		return output{}, err
	}

	members, err := listMembers(dest, req.Depth+1, req.Hash)
	if err != nil {
		return output{}, services.Wrap(services.ErrIO, "extract", "list members", dest, err)
	}
	return output{
		placements: []placement{{action: planner.ActionExtract, path: dest}},
		members:    members,
	}, nil
}

// memberPath joins an archive member name onto dest, refusing absolute names
// and anything that climbs out of dest.
func memberPath(dest, name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	if name == "" || strings.HasPrefix(name, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", services.Wrap(services.ErrUnsafeActionBlocked, "extract", "member", fmt.Sprintf("absolute member path %q", name), nil)
	}
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", services.Wrap(services.ErrUnsafeActionBlocked, "extract", "member", fmt.Sprintf("member %q escapes the destination", name), nil)
	}
	return target, nil
}

func extractZip(ctx context.Context, src, dest string, limits *extractLimits) error {
	reader, err := zip.OpenReader(src)
	if errors.Is(err, zip.ErrInsecurePath) {
		if reader != nil {
			_ = reader.Close()
		}
		return services.Wrap(services.ErrUnsafeActionBlocked, "extract", "open zip", src, err)
	}
	if err != nil {
		return services.Wrap(services.ErrUnsupportedFormat, "extract", "open zip", src, err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := memberPath(dest, file.Name)
		if err != nil {
			return err
		}
		mode := file.Mode()
		if mode.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return services.Wrap(services.ErrIO, "extract", "mkdir", target, err)
			}
			continue
		}
		if !mode.IsRegular() {
			continue
		}
		if err := limits.admit(int64(file.UncompressedSize64)); err != nil {
			return err
		}
		rc, err := file.Open()
		if err != nil {
			return services.Wrap(services.ErrIO, "extract", "open member", file.Name, err)
		}
		err = writeMember(target, rc, limits)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractTarFile(ctx context.Context, src, dest string, gzipped bool, limits *extractLimits) error {
	f, err := os.Open(src)
	if err != nil {
		return services.Wrap(services.ErrIO, "extract", "open tar", src, err)
	}
	defer f.Close()

	var r io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return services.Wrap(services.ErrUnsupportedFormat, "extract", "open gzip", src, err)
		}
		defer gz.Close()
		r = gz
	}
	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return services.Wrap(services.ErrUnsafeActionBlocked, "extract", "read tar", src, err)
		}
		if err != nil {
			return services.Wrap(services.ErrUnsupportedFormat, "extract", "read tar", src, err)
		}
		target, err := memberPath(dest, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return services.Wrap(services.ErrIO, "extract", "mkdir", target, err)
			}
		case tar.TypeReg:
			if err := limits.admit(hdr.Size); err != nil {
				return err
			}
			if err := writeMember(target, tr, limits); err != nil {
				return err
			}
		default:
			// Links and devices are not materialized.
		}
	}
}

// extractGzip decompresses a single-stream .gz into dest/<stem>.
func extractGzip(ctx context.Context, src, dest string, limits *extractLimits) error {
	f, err := os.Open(src)
	if err != nil {
		return services.Wrap(services.ErrIO, "extract", "open gzip", src, err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return services.Wrap(services.ErrUnsupportedFormat, "extract", "open gzip", src, err)
	}
	defer gz.Close()
	if err := ctx.Err(); err != nil {
		return err
	}

	name := gz.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	}
	target, err := memberPath(dest, fileutil.SanitizeSegment(filepath.Base(name)))
	if err != nil {
		return err
	}
	if err := limits.admit(0); err != nil {
		return err
	}
	return writeMember(target, gz, limits)
}

func (e *Executor) extractExternal(ctx context.Context, src, dest string, limits *extractLimits) error {
	tool, err := exec.LookPath(e.cfg.Extract.SevenZipPath)
	if err != nil {
		return services.Wrap(services.ErrUnsupportedFormat, "extract", "lookup 7z", e.cfg.Extract.SevenZipPath, err)
	}
	cmd := exec.CommandContext(ctx, tool, "x", "-y", "-bd", "-o"+dest, src)
	if out, err := cmd.CombinedOutput(); err != nil {
		return services.Wrap(services.ErrExecutionFailure, "extract", "7z", outputTail(out), err)
	}
	// The external tool is not bound by the in-process guards, so enforce
	// them on what it wrote.
	return filepath.WalkDir(dest, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return os.Remove(path)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if err := limits.admit(info.Size()); err != nil {
			return err
		}
		limits.bytes += info.Size()
		return nil
	})
}

// writeMember copies at most the remaining byte budget so a lying header
// cannot inflate past the limit.
func writeMember(target string, r io.Reader, limits *extractLimits) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return services.Wrap(services.ErrIO, "extract", "mkdir", target, err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return services.Wrap(services.ErrIO, "extract", "create member", target, err)
	}
	remaining := limits.maxBytes - limits.bytes
	n, err := io.Copy(out, io.LimitReader(r, remaining+1))
	closeErr := out.Close()
	if err != nil {
		return services.Wrap(services.ErrIO, "extract", "write member", target, err)
	}
	if closeErr != nil {
		return services.Wrap(services.ErrIO, "extract", "close member", target, closeErr)
	}
	limits.bytes += n
	if n > remaining {
		return limits.overBudget()
	}
	return nil
}

func listMembers(dest string, depth int, origin string) ([]Member, error) {
	var members []Member
	err := filepath.WalkDir(dest, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			members = append(members, Member{Path: path, Depth: depth, OriginHash: origin})
		}
		return nil
	})
	return members, err
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
