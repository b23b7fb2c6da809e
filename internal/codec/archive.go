package codec

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// TarMediaType is the OCI media type produced by Archive and consumed by
// Extract.
const TarMediaType = "application/vnd.oci.image.layer.v1.tar+gzip"

// ExtractOptions controls extraction behavior and security constraints.
type ExtractOptions struct {
	// MaxFiles is the maximum number of entries allowed in the archive. 0
	// disables the check.
	MaxFiles int

	// MaxSize is the maximum total uncompressed size of all files combined.
	// 0 disables the check.
	MaxSize int64

	// MaxFileSize is the maximum size allowed for any individual file. 0
	// disables the check.
	MaxFileSize int64

	// StripPrefix removes this prefix from every entry path before joining
	// it under the target directory.
	StripPrefix string

	// PreservePerms determines whether the archived file mode is applied on
	// extraction. When false, permissions are sanitized.
	PreservePerms bool

	// IgnorePatterns skips any entry whose name contains one of these
	// substrings (spec §4.4 fetchBlobToPath).
	IgnorePatterns []string
}

// DefaultExtractOptions enforces conservative limits suitable for untrusted
// Feature archives pulled from a registry.
var DefaultExtractOptions = ExtractOptions{
	MaxFiles:      10000,
	MaxSize:       1 * 1024 * 1024 * 1024,
	MaxFileSize:   100 * 1024 * 1024,
	PreservePerms: false,
}

// Archive writes a gzip-compressed tar of sourceDir's contents to output.
// Entry paths are relative to sourceDir and use forward slashes.
func Archive(ctx context.Context, sourceDir string, output io.Writer) error {
	gz := gzip.NewWriter(output)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	walkErr := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk failed at %s: %w", path, err)
		}
		if ctxErr := isDone(ctx, "archiving"); ctxErr != nil {
			return ctxErr
		}

		relPath, relErr := filepath.Rel(sourceDir, path)
		if relErr != nil {
			return fmt.Errorf("failed to get relative path for %s: %w", path, relErr)
		}
		if relPath == "." {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			link, err = os.Readlink(path)
			if err != nil {
				return fmt.Errorf("failed to read symlink %s: %w", path, err)
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return fmt.Errorf("failed to build tar header for %s: %w", path, err)
		}
		hdr.Name = relPath
		if d.IsDir() {
			hdr.Name += "/"
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("failed to write tar header for %s: %w", relPath, err)
		}
		if !d.IsDir() && info.Mode().IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", path, err)
			}
			_, copyErr := io.Copy(tw, f)
			f.Close()
			if copyErr != nil {
				return fmt.Errorf("failed to write file content for %s: %w", relPath, copyErr)
			}
		}
		return nil
	})
	if walkErr != nil {
		return walkErr
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize tar: %w", err)
	}
	return gz.Close()
}

// Extract expands a gzip-compressed tar read from input into targetDir,
// enforcing opts' size/count limits and rejecting path-traversal and
// symlink-escape attempts. It returns the relative paths of every file
// entry actually written.
func Extract(ctx context.Context, input io.Reader, targetDir string, opts ExtractOptions) ([]string, error) {
	gz, err := gzip.NewReader(input)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	rootAbs, err := filepath.Abs(targetDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target directory: %w", err)
	}
	if err := os.MkdirAll(rootAbs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create target directory %s: %w", rootAbs, err)
	}

	pv := NewPathTraversalValidator()
	pv.RootPath = rootAbs
	sizeValidator := NewSizeValidator(opts.MaxFileSize, opts.MaxSize)
	validators := NewValidatorChain(pv, sizeValidator, NewFileCountValidator(opts.MaxFiles))

	var permSanitizer *PermissionSanitizer
	if opts.PreservePerms {
		permSanitizer = NewPermissionSanitizer()
		validators.AddValidator(permSanitizer)
	}

	tr := tar.NewReader(gz)
	var totalSize int64
	var fileCount int
	var extracted []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar entry: %w", err)
		}
		if matchesAny(hdr.Name, opts.IgnorePatterns) {
			continue
		}
		wrote, err := handleEntry(ctx, tr, hdr, targetDir, rootAbs, opts, validators, pv, permSanitizer, &totalSize, &fileCount)
		if err != nil {
			return nil, err
		}
		if wrote {
			extracted = append(extracted, hdr.Name)
		}
	}
	return extracted, nil
}

// ExtractFile returns the contents of the single entry named name from a
// gzip-compressed tar stream, or (nil, false, nil) if no such entry exists.
func ExtractFile(input io.Reader, name string) ([]byte, bool, error) {
	gz, err := gzip.NewReader(input)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to read tar entry: %w", err)
		}
		if hdr.Name != name && hdr.Name != "./"+name {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, false, fmt.Errorf("failed to read entry %s: %w", name, err)
		}
		return data, true, nil
	}
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(name, p) {
			return true
		}
	}
	return false
}

func isDone(ctx context.Context, action string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s canceled: %w", action, ctx.Err())
	default:
		return nil
	}
}

// handleEntry extracts a single tar entry, returning whether a file (as
// opposed to a directory or unsupported type) was written.
func handleEntry(
	ctx context.Context,
	tr *tar.Reader,
	hdr *tar.Header,
	targetDir string,
	rootAbs string,
	opts ExtractOptions,
	validators Validator,
	pv *PathTraversalValidator,
	permSanitizer *PermissionSanitizer,
	totalSize *int64,
	fileCount *int,
) (bool, error) {
	if err := isDone(ctx, "extraction"); err != nil {
		return false, err
	}
	*fileCount++

	if err := validators.ValidatePath(hdr.Name); err != nil {
		return false, fmt.Errorf("%s: %w", hdr.Name, err)
	}

	name := hdr.Name
	if opts.StripPrefix != "" && strings.HasPrefix(name, opts.StripPrefix) {
		name = strings.TrimPrefix(name, opts.StripPrefix)
		name = strings.TrimPrefix(name, "/")
	}
	fullPath, err := safeJoin(rootAbs, targetDir, name)
	if err != nil {
		return false, fmt.Errorf("%s: %w", hdr.Name, err)
	}

	info := FileInfo{Name: hdr.Name, Size: hdr.Size, Mode: uint32(hdr.Mode)}
	if err := validators.ValidateFile(info); err != nil {
		return false, fmt.Errorf("%s: %w", hdr.Name, err)
	}
	*totalSize += hdr.Size
	if err := validators.ValidateArchive(ArchiveStats{TotalFiles: *fileCount, TotalSize: *totalSize}); err != nil {
		return false, fmt.Errorf("%s: %w", hdr.Name, err)
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return false, fmt.Errorf("failed to create directory for %s: %w", fullPath, err)
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		return false, os.MkdirAll(fullPath, 0o755)
	case tar.TypeReg:
		return true, extractRegularFile(tr, fullPath, hdr, opts, permSanitizer)
	case tar.TypeSymlink:
		return false, extractSymlink(pv, hdr, fullPath)
	default:
		return false, nil
	}
}

func extractRegularFile(tr *tar.Reader, fullPath string, hdr *tar.Header, opts ExtractOptions, permSanitizer *PermissionSanitizer) error {
	mode := os.FileMode(0o644)
	if opts.PreservePerms {
		m := uint32(hdr.Mode)
		if permSanitizer != nil {
			m = permSanitizer.SanitizePermissions(m)
		}
		mode = os.FileMode(m) & 0o777
	}
	file, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", fullPath, err)
	}
	defer file.Close()
	if _, err := io.Copy(file, tr); err != nil {
		return fmt.Errorf("failed to write file content for %s: %w", fullPath, err)
	}
	return nil
}

func extractSymlink(pv *PathTraversalValidator, hdr *tar.Header, fullPath string) error {
	if err := pv.ValidateSymlink(hdr.Name, hdr.Linkname); err != nil {
		return fmt.Errorf("%s: %w", hdr.Name, err)
	}
	_ = os.Remove(fullPath)
	if err := os.Symlink(hdr.Linkname, fullPath); err != nil {
		return fmt.Errorf("failed to create symlink %s -> %s: %w", fullPath, hdr.Linkname, err)
	}
	return nil
}

// safeJoin ensures member, once joined onto targetDir, stays within rootAbs.
func safeJoin(rootAbs, targetDir, member string) (string, error) {
	fullPath := filepath.Join(targetDir, member)
	targetAbs, err := filepath.Abs(filepath.Clean(fullPath))
	if err != nil {
		return "", fmt.Errorf("failed to resolve target path: %w", err)
	}
	if targetAbs != rootAbs && !strings.HasPrefix(targetAbs, rootAbs+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes target directory: %s", member)
	}
	return targetAbs, nil
}
