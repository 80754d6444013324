package sync

import (
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/spf13/afero"

	"github.com/sidkik/wikisync/pkg/errors"
)

const (
	// DefaultLargeFileThreshold is the size above which files are
	// fingerprinted by sampling rather than hashing their full contents.
	DefaultLargeFileThreshold = 10 * 1024 * 1024

	// sampleSize is the number of bytes read from each of the three sampled
	// ranges of a large file.
	sampleSize = 64 * 1024
)

// HashContent returns the fingerprint of in-memory content. It matches
// HashFile for files below the large file threshold.
func HashContent(content []byte) string {
	hasher := sha512.New()
	hasher.Write(content)
	return encode(hasher)
}

// HashFile returns the fingerprint of the file at `path`.
// Files larger than `threshold` bytes are fingerprinted from their size,
// modification time, and three sampled ranges (start, middle, end). This
// bounds the cost of scanning huge files at the price of a small chance that
// an edit that preserves size and mtime goes unnoticed. A threshold of zero
// or less always hashes the full contents.
func HashFile(fs afero.Fs, path string, threshold int64) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", errors.WithContext(err, "open")
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", errors.WithContext(err, "stat")
	}

	if threshold <= 0 || fi.Size() <= threshold {
		hasher := sha512.New()
		if _, err := io.Copy(hasher, f); err != nil {
			return "", errors.WithContext(err, "read")
		}
		return encode(hasher), nil
	}
	return hashSampled(f, fi)
}

func hashSampled(f afero.File, fi os.FileInfo) (string, error) {
	hasher := sha512.New()
	fmt.Fprintf(hasher, "Size: %d\n", fi.Size())
	fmt.Fprintf(hasher, "ModTime: %d\n", fi.ModTime().UnixNano())

	offsets := []int64{
		0,
		fi.Size()/2 - sampleSize/2,
		fi.Size() - sampleSize,
	}
	buf := make([]byte, sampleSize)
	for _, offset := range offsets {
		if offset < 0 {
			offset = 0
		}

		n, err := f.ReadAt(buf, offset)
		if err != nil && err != io.EOF {
			return "", errors.WithContext(err, fmt.Sprintf("read sample at %d", offset))
		}
		fmt.Fprintf(hasher, "Sample %d: ", offset)
		hasher.Write(buf[:n])
		fmt.Fprintln(hasher)
	}
	return encode(hasher), nil
}

func encode(hasher hash.Hash) string {
	return base64.StdEncoding.EncodeToString(hasher.Sum(nil))
}
