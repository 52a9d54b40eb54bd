// Package digest computes the content checksums used to address blobs and
// tree nodes. All checksums are 64-bit xxHash digests rendered as 16
// lowercase hex characters.
package digest

import (
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"bakker-go/internal/pkg/bkerrors"
)

// BlockSize is the read size used when streaming file content into the hash.
const BlockSize = 64 * 1024

// File returns the checksum of the regular file at path.
// Symlinks are not followed; passing one is an ErrInvalidArgument.
func File(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: not a regular file: %s", bkerrors.ErrInvalidArgument, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	sum, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return sum, nil
}

// Reader returns the checksum of everything read from r, consuming it in
// BlockSize chunks.
func Reader(r io.Reader) (string, error) {
	h := xxhash.New()
	buf := make([]byte, BlockSize)
	// Hide any WriterTo (such as *os.File) so reads go through buf.
	if _, err := io.CopyBuffer(h, struct{ io.Reader }{r}, buf); err != nil {
		return "", err
	}
	return format(h.Sum64()), nil
}

// Symlink returns the checksum of the raw link target of the symlink at path.
// The target is neither resolved nor read.
func Symlink(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return "", fmt.Errorf("%w: not a symlink: %s", bkerrors.ErrInvalidArgument, path)
	}

	target, err := os.Readlink(path)
	if err != nil {
		return "", fmt.Errorf("reading link %s: %w", path, err)
	}
	return format(xxhash.Sum64String(target)), nil
}

// Directory returns the checksum over the concatenation of checksums in the
// order given. Callers pass child checksums already sorted by child name.
func Directory(checksums ...string) string {
	h := xxhash.New()
	for _, c := range checksums {
		h.WriteString(c)
	}
	return format(h.Sum64())
}

func format(sum uint64) string {
	return fmt.Sprintf("%016x", sum)
}
