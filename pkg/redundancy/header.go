package redundancy

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/LLNL/scr-sub002/pkg/kvtree"
	"github.com/LLNL/scr-sub002/pkg/meta"
)

// HeaderVersion is the only XOR header version this library accepts.
// The original format (version 3) is rejected outright rather than
// silently reinterpreted, since its field layout differs from the
// text-tree encoding used here.
const HeaderVersion = 4

// ErrUnsupportedHeaderVersion is returned by ReadHeader when a file's
// recorded version is not HeaderVersion.
var ErrUnsupportedHeaderVersion = errors.New("redundancy: unsupported XOR header version")

// FileEntry names one file contributed to an XOR set, alongside its
// Meta record, as embedded in a member's header so the offline
// rebuilder can reconstruct a missing member without access to its
// File Map.
type FileEntry struct {
	Name string
	Meta *meta.Meta
}

// Header is the per-member XOR file header: the set's rank list, the
// checkpoint id and chunk size shared by the whole set, this member's
// own file list (CURRENT), and its left neighbor's file list
// (PARTNER) — carried so that if this member is lost, the offline
// rebuilder can derive its header purely from its two live neighbors
// (§4.F "Offline rebuild").
type Header struct {
	Ranks        []int
	CheckpointID int
	ChunkSize    int64
	MyRank       int
	MyFiles      []FileEntry
	PartnerRank  int
	PartnerFiles []FileEntry
}

func writeFileList(node *kvtree.Tree, rank int, files []FileEntry) {
	node.SetInt64("RANK", int64(rank))
	node.SetInt64("FILES", int64(len(files)))
	list := node.EnsureChild("FILE")
	for i, f := range files {
		entry := list.EnsureChild(strconv.Itoa(i))
		entry.SetStr("NAME", f.Name)
		entry.Set("META", f.Meta.Tree().Dup())
	}
}

func readFileList(node *kvtree.Tree) (rank int, files []FileEntry, err error) {
	r, _ := node.GetInt64("RANK")
	n, _ := node.GetInt64("FILES")
	list := node.Child("FILE")
	out := make([]FileEntry, 0, n)
	for i := int64(0); i < n; i++ {
		entry := list.Child(strconv.FormatInt(i, 10))
		if entry == nil {
			return 0, nil, errors.Errorf("redundancy: header missing FILE/%d", i)
		}
		name, _ := entry.GetStr("NAME")
		m := entry.Child("META")
		out = append(out, FileEntry{Name: name, Meta: meta.FromTree(m.Dup())})
	}
	return int(r), out, nil
}

// Tree renders h in the on-disk tree shape.
func (h *Header) Tree() *kvtree.Tree {
	t := kvtree.New()
	t.SetInt64("VERSION", HeaderVersion)

	ranks := t.EnsureChild("RANKS")
	for i, r := range h.Ranks {
		ranks.SetInt64(strconv.Itoa(i), int64(r))
	}
	ranks.SetInt64("COUNT", int64(len(h.Ranks)))

	t.SetInt64("CKPT", int64(h.CheckpointID))
	t.SetInt64("CHUNK", h.ChunkSize)

	writeFileList(t.EnsureChild("CURRENT"), h.MyRank, h.MyFiles)
	writeFileList(t.EnsureChild("PARTNER"), h.PartnerRank, h.PartnerFiles)

	return t
}

// HeaderFromTree parses a Header out of its on-disk tree shape.
func HeaderFromTree(t *kvtree.Tree) (*Header, error) {
	version, _ := t.GetInt64("VERSION")
	if version != HeaderVersion {
		return nil, errors.Wrapf(ErrUnsupportedHeaderVersion, "version %d", version)
	}

	ranksNode := t.Child("RANKS")
	count, _ := ranksNode.GetInt64("COUNT")
	ranks := make([]int, count)
	for i := range ranks {
		v, _ := ranksNode.GetInt64(strconv.Itoa(i))
		ranks[i] = int(v)
	}

	ckpt, _ := t.GetInt64("CKPT")
	chunk, _ := t.GetInt64("CHUNK")

	myRank, myFiles, err := readFileList(t.Child("CURRENT"))
	if err != nil {
		return nil, err
	}
	partnerRank, partnerFiles, err := readFileList(t.Child("PARTNER"))
	if err != nil {
		return nil, err
	}

	return &Header{
		Ranks:        ranks,
		CheckpointID: int(ckpt),
		ChunkSize:    chunk,
		MyRank:       myRank,
		MyFiles:      myFiles,
		PartnerRank:  partnerRank,
		PartnerFiles: partnerFiles,
	}, nil
}

// ReconstructHeader derives a missing member's own Header purely
// from its two still-live neighbors' headers: mirrors
// scr_rebuild_xor.c's hash-merge step, where the right neighbor's
// PARTNER entry describes its own left neighbor — the missing member
// itself — and the left neighbor's CURRENT entry is exactly the
// missing member's own PARTNER entry.
func ReconstructHeader(ranks []int, rootRank int, chunkSize int64, checkpointID int, rightNeighbor, leftNeighbor *Header) *Header {
	return &Header{
		Ranks:        ranks,
		CheckpointID: checkpointID,
		ChunkSize:    chunkSize,
		MyRank:       rootRank,
		MyFiles:      rightNeighbor.PartnerFiles,
		PartnerRank:  leftNeighbor.MyRank,
		PartnerFiles: leftNeighbor.MyFiles,
	}
}

// HeaderPath returns the sidecar path a parity file's header is
// stored under: the original embeds the header at the start of the
// binary XOR file itself, but a kvtree's text encoding has no
// self-terminating length prefix, so splicing it back out of an
// arbitrary byte offset in a shared os.File would require tracking
// exactly how many bytes the text parser consumed. Keeping the
// header as its own file sidesteps that and reuses the same
// WriteText/ReadText path-based persistence every other kvtree-backed
// record in this module uses.
func HeaderPath(parityPath string) string {
	return parityPath + ".hdr"
}

// WriteHeader writes h next to the parity file at parityPath.
func WriteHeader(parityPath string, h *Header) error {
	return kvtree.WriteText(HeaderPath(parityPath), h.Tree())
}

// ReadHeader reads the Header stored next to the parity file at
// parityPath.
func ReadHeader(parityPath string) (*Header, error) {
	t, err := kvtree.ReadText(HeaderPath(parityPath))
	if err != nil {
		return nil, err
	}
	return HeaderFromTree(t)
}
