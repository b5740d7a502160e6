// Package rio implements the reliable, low-level I/O primitives the
// rest of this library is built on: retrying reads/writes, advisory
// file locking held over an open descriptor's lifetime, CRC32
// checksums, directory creation, and padded N-file logical I/O.
package rio

import (
	"hash/crc32"
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// maxRetries bounds the number of retries ReliableRead/ReliableWrite
// will attempt on a transient (EINTR/EAGAIN) error before giving up.
const maxRetries = 10

// crc32Block is the chunk size CRC32 streams a file in.
const crc32Block = 1 << 20 // 1 MiB

// ReliableRead reads len(buf) bytes from f, retrying on EINTR/EAGAIN
// up to maxRetries times. A short read that isn't a retriable error is
// returned as io.ErrUnexpectedEOF.
func ReliableRead(f *os.File, buf []byte) (int, error) {
	total := 0
	retries := maxRetries
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err == nil {
			continue
		}
		if err == io.EOF {
			if total < len(buf) {
				return total, io.ErrUnexpectedEOF
			}
			return total, nil
		}
		if isRetriable(err) && retries > 0 {
			retries--
			continue
		}
		return total, errors.Wrapf(err, "reliable read of %s", f.Name())
	}
	return total, nil
}

// ReliableWrite writes all of buf to f, retrying on EINTR/EAGAIN up to
// maxRetries times. Any other error, or exhausting the retry budget,
// is a persistent I/O error per the taxonomy in the project design.
func ReliableWrite(f *os.File, buf []byte) (int, error) {
	total := 0
	retries := maxRetries
	for total < len(buf) {
		n, err := f.Write(buf[total:])
		total += n
		if err == nil {
			continue
		}
		if isRetriable(err) && retries > 0 {
			retries--
			continue
		}
		return total, errors.Wrapf(err, "reliable write of %s", f.Name())
	}
	return total, nil
}

func isRetriable(err error) bool {
	return errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN)
}

// LockExclusive takes an exclusive advisory lock on f, blocking until
// it is available. Callers should hold it for the full lifetime of
// the open descriptor and release it with Unlock.
func LockExclusive(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return errors.Wrapf(err, "lock exclusive %s", f.Name())
	}
	return nil
}

// LockShared takes a shared advisory lock on f, blocking until it is
// available.
func LockShared(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		return errors.Wrapf(err, "lock shared %s", f.Name())
	}
	return nil
}

// Unlock releases any advisory lock held on f.
func Unlock(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		return errors.Wrapf(err, "unlock %s", f.Name())
	}
	return nil
}

// Mkdir recursively creates dir and any missing parents.
func Mkdir(dir string, mode os.FileMode) error {
	if err := os.MkdirAll(dir, mode); err != nil {
		return errors.Wrapf(err, "mkdir %s", dir)
	}
	return nil
}

// FileSize returns the size in bytes of the file at path.
func FileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, errors.Wrapf(err, "stat %s", path)
	}
	return fi.Size(), nil
}

// CRC32 computes the zlib-polynomial (IEEE) CRC32 of the file at
// path, streaming it in crc32Block-sized chunks.
func CRC32(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s for crc32", path)
	}
	defer f.Close()

	h := crc32.NewIEEE()
	buf := make([]byte, crc32Block)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errors.Wrapf(err, "read %s for crc32", path)
		}
	}
	return h.Sum32(), nil
}
