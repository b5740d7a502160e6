package rio

import (
	"io"
	"os"
)

// PaddedFileSet emulates one logical file as the in-order
// concatenation of a fixed set of real files with known sizes. Reads
// beyond the logical length return zero bytes; writes beyond it are
// silently discarded. This is the primitive the redundancy encoder,
// decoder, and offline rebuilder all use to treat a rank's dataset
// files as a single chunked stream.
type PaddedFileSet struct {
	files []*os.File
	sizes []int64
}

// NewPaddedFileSet builds a PaddedFileSet over files, whose i'th entry
// has the given logical size sizes[i]. len(files) must equal
// len(sizes).
func NewPaddedFileSet(files []*os.File, sizes []int64) *PaddedFileSet {
	return &PaddedFileSet{files: files, sizes: sizes}
}

// LogicalSize returns the sum of the member sizes: the length of the
// concatenated logical stream before any chunk padding.
func (p *PaddedFileSet) LogicalSize() int64 {
	var total int64
	for _, s := range p.sizes {
		total += s
	}
	return total
}

// ReadAt fills buf from the logical stream starting at offset.
// Bytes at or beyond LogicalSize() are returned as zero. It always
// fills all of buf and never returns io.EOF: a logical stream has no
// end from the caller's point of view, only padding.
func (p *PaddedFileSet) ReadAt(buf []byte, offset int64) error {
	for i := range buf {
		buf[i] = 0
	}

	total := p.LogicalSize()
	if offset >= total {
		return nil
	}

	end := offset + int64(len(buf))
	if end > total {
		end = total
	}

	var base int64
	for idx, size := range p.sizes {
		fileStart := base
		fileEnd := base + size
		base = fileEnd

		if offset >= fileEnd {
			continue
		}
		if end <= fileStart {
			break
		}

		readStart := maxInt64(offset, fileStart)
		readEnd := minInt64(end, fileEnd)
		n := readEnd - readStart
		bufOff := readStart - offset

		if _, err := p.files[idx].ReadAt(buf[bufOff:bufOff+n], readStart-fileStart); err != nil && err != io.EOF {
			return err
		}

		if readEnd >= end {
			break
		}
	}

	return nil
}

// WriteAt writes buf to the logical stream starting at offset. Any
// portion of buf that falls at or beyond LogicalSize() is discarded.
func (p *PaddedFileSet) WriteAt(buf []byte, offset int64) error {
	total := p.LogicalSize()
	if offset >= total {
		return nil
	}

	end := offset + int64(len(buf))
	if end > total {
		end = total
	}

	var base int64
	for idx, size := range p.sizes {
		fileStart := base
		fileEnd := base + size
		base = fileEnd

		if offset >= fileEnd {
			continue
		}
		if end <= fileStart {
			break
		}

		writeStart := maxInt64(offset, fileStart)
		writeEnd := minInt64(end, fileEnd)
		n := writeEnd - writeStart
		bufOff := writeStart - offset

		if _, err := p.files[idx].WriteAt(buf[bufOff:bufOff+n], writeStart-fileStart); err != nil {
			return err
		}

		if writeEnd >= end {
			break
		}
	}

	return nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
