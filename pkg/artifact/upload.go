package artifact

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/nektos/actions-toolkit/pkg/filecollector"
)

const invalidNameChars = "\":<>|*?\r\n\\/"

type zipEntry struct {
	// source is empty for directories
	source string
	dest   string
}

// ValidateName rejects artifact names the backend cannot store.
func ValidateName(name string) error {
	if name == "" {
		return &InvalidResponseError{Message: "Provided artifact name input during validation is empty"}
	}
	if i := strings.IndexAny(name, invalidNameChars); i >= 0 {
		return fmt.Errorf("The artifact name is not valid: %s. Contains the following character: %q", name, name[i])
	}
	return nil
}

// zipSpecification maps every file to its path in the archive, relative to
// rootDirectory.
func zipSpecification(files []string, rootDirectory string) ([]zipEntry, error) {
	fi, err := os.Stat(rootDirectory)
	if err != nil {
		return nil, fmt.Errorf("Provided rootDirectory %s does not exist", rootDirectory)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("Provided rootDirectory %s is not a valid directory", rootDirectory)
	}
	root, err := filepath.Abs(rootDirectory)
	if err != nil {
		return nil, err
	}

	var missing []string
	spec := make([]zipEntry, 0, len(files))
	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			return nil, err
		}
		fi, err := os.Stat(abs)
		if errors.Is(err, fs.ErrNotExist) {
			missing = append(missing, file)
			continue
		} else if err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
			return nil, fmt.Errorf("The rootDirectory: %s is not a parent directory of the file: %s", rootDirectory, file)
		}
		entry := zipEntry{dest: filepath.ToSlash(rel)}
		if !fi.IsDir() {
			entry.source = abs
		}
		spec = append(spec, entry)
	}
	if len(missing) > 0 {
		return nil, &FilesNotFoundError{Files: missing}
	}
	if len(spec) == 0 {
		return nil, &FilesNotFoundError{}
	}
	return spec, nil
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

// writeZip archives spec into w with the given deflate level and returns
// the archive size and hex sha256.
func writeZip(ctx context.Context, w io.Writer, spec []zipEntry, level int) (int64, string, error) {
	if level < flate.NoCompression || level > flate.BestCompression {
		return 0, "", fmt.Errorf("invalid compression level %d", level)
	}
	var h hash.Hash = sha256.New()
	counter := &countingWriter{}
	zw := zip.NewWriter(io.MultiWriter(w, h, counter))
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	zc := &filecollector.ZipCollector{ZipWriter: zw, Store: level == flate.NoCompression}
	for _, entry := range spec {
		if err := ctx.Err(); err != nil {
			return 0, "", err
		}
		if entry.source == "" {
			if _, err := zw.Create(entry.dest + "/"); err != nil {
				return 0, "", err
			}
			continue
		}
		if err := addFile(zc, entry); err != nil {
			return 0, "", err
		}
	}
	if err := zw.Close(); err != nil {
		return 0, "", err
	}
	return counter.n, hex.EncodeToString(h.Sum(nil)), nil
}

func addFile(zc *filecollector.ZipCollector, entry zipEntry) error {
	f, err := os.Open(entry.source)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	return zc.WriteFile(entry.dest, fi, "", f)
}
