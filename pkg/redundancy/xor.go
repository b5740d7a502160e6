package redundancy

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/LLNL/scr-sub002/pkg/rio"
)

// ChunkSize returns the size of one XOR chunk for a set of setSize
// members whose largest logical dataset is maxLogicalSize bytes. Each
// member's real data is spread across exactly setSize-1 chunk slots
// (every cyclic position except its own, which instead carries its
// own parity), so the chunk must be large enough to cover the
// largest member's data over setSize-1 slots rather than setSize.
func ChunkSize(setSize int, maxLogicalSize int64) int64 {
	slots := int64(setSize - 1)
	if slots <= 0 {
		return maxLogicalSize
	}
	return (maxLogicalSize + slots - 1) / slots
}

// dataChunkIndex maps a global cyclic chunk position (0..setSize-1)
// to the local chunk index within the real data owned by the member
// at ownerIndex: the owner's real data never occupies its own
// position, so every position after it shifts down by one slot.
func dataChunkIndex(globalPos, ownerIndex int) int {
	if globalPos < ownerIndex {
		return globalPos
	}
	return globalPos - 1
}

func readChunk(data *rio.PaddedFileSet, localIndex int, chunkSize int64) ([]byte, error) {
	buf := make([]byte, chunkSize)
	if err := data.ReadAt(buf, int64(localIndex)*chunkSize); err != nil {
		return nil, err
	}
	return buf, nil
}

func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

// MemberSource is one member's contribution to a live XOR encode: its
// position within the set and its real dataset, addressed as a
// logical padded stream.
type MemberSource struct {
	Index int
	Data  *rio.PaddedFileSet
}

// EncodeXOR computes the parity chunk for every member of a set from
// every member's real data. Each of the setSize parity chunks is
// independent of the others, so they are computed concurrently
// (per-position fan-out via errgroup) rather than in a sequential
// ring pass.
//
// This assumes every member's data is reachable from the caller
// (e.g. a shared cache filesystem, or a coordinating process with a
// connection to each rank's local store); a deployment where members
// only ever see their own files needs the collective layer to
// exchange chunks before calling this, which is outside this
// package's scope.
func EncodeXOR(ctx context.Context, members []MemberSource, setSize int, chunkSize int64) ([][]byte, error) {
	parity := make([][]byte, setSize)

	g, ctx := errgroup.WithContext(ctx)
	for k := 0; k < setSize; k++ {
		k := k
		g.Go(func() error {
			acc := make([]byte, chunkSize)
			for _, m := range members {
				if m.Index == k {
					continue
				}
				chunk, err := readChunk(m.Data, dataChunkIndex(k, m.Index), chunkSize)
				if err != nil {
					return err
				}
				xorInto(acc, chunk)
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}
			parity[k] = acc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parity, nil
}

// SurvivorSource is one surviving member's contribution to an
// offline rebuild: its position within the set, its real dataset,
// and its own precomputed parity chunk (read back from its XOR
// file).
type SurvivorSource struct {
	Index  int
	Data   *rio.PaddedFileSet
	Parity []byte
}

// RebuildMissingMember reconstructs the member at rootIndex within a
// setSize-member XOR set from its survivors. It returns the missing
// member's real data, as a single concatenated logical stream of
// (setSize-1)*chunkSize bytes ready to be split back across that
// member's original files by size, and its parity chunk, ready to be
// written into its own reconstructed XOR file.
//
// For each cyclic position p, every survivor contributes either its
// own real data chunk at p (if p is not the survivor's own position)
// or its own stored parity chunk (if p IS the survivor's own
// position, substituting for the real-data chunk that position can
// never hold). XOR-ing every survivor's contribution at a position
// recovers exactly the value the missing member would have held
// there: its own parity when p == rootIndex, its own real data chunk
// otherwise. Positions are independent of one another, so they are
// computed concurrently.
func RebuildMissingMember(ctx context.Context, setSize, rootIndex int, survivors []SurvivorSource, chunkSize int64) (data, parity []byte, err error) {
	data = make([]byte, int64(setSize-1)*chunkSize)
	parity = make([]byte, chunkSize)

	g, ctx := errgroup.WithContext(ctx)
	for p := 0; p < setSize; p++ {
		p := p
		g.Go(func() error {
			acc := make([]byte, chunkSize)
			for _, s := range survivors {
				var contrib []byte
				if p == s.Index {
					contrib = s.Parity
				} else {
					chunk, err := readChunk(s.Data, dataChunkIndex(p, s.Index), chunkSize)
					if err != nil {
						return err
					}
					contrib = chunk
				}
				xorInto(acc, contrib)
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}

			if p == rootIndex {
				copy(parity, acc)
				return nil
			}
			local := dataChunkIndex(p, rootIndex)
			copy(data[int64(local)*chunkSize:], acc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return data, parity, nil
}
