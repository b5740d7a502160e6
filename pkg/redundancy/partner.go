package redundancy

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/LLNL/scr-sub002/pkg/rio"
)

// EncodePartner copies every file in files into destDir, preserving
// basenames. It is the whole of the PARTNER scheme's redundancy
// work: a member's dataset survives its own loss as long as its
// right neighbor (whose destDir this is) survives.
func EncodePartner(files []string, destDir string) error {
	if err := rio.Mkdir(destDir, 0700); err != nil {
		return errors.Wrapf(err, "redundancy: create partner dir %s", destDir)
	}
	for _, src := range files {
		dst := filepath.Join(destDir, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			return errors.Wrapf(err, "redundancy: copy %s to %s", src, dst)
		}
	}
	return nil
}

// DecodePartner restores names (by basename) from srcDir, a partner
// copy made via EncodePartner, into destDir. It is used both to
// recover this member's own lost dataset (srcDir = the right
// neighbor's partner copy of it) and, during a
// scan/rebuild pass, to recreate a dead neighbor's dataset on its
// behalf (srcDir = this member's own partner copy, destDir = the
// dead neighbor's expected cache location).
func DecodePartner(names []string, srcDir, destDir string) error {
	if err := rio.Mkdir(destDir, 0700); err != nil {
		return errors.Wrapf(err, "redundancy: create dest dir %s", destDir)
	}
	for _, name := range names {
		src := filepath.Join(srcDir, filepath.Base(name))
		dst := filepath.Join(destDir, filepath.Base(name))
		if err := copyFile(src, dst); err != nil {
			return errors.Wrapf(err, "redundancy: restore %s from %s", dst, src)
		}
	}
	return nil
}

// EvaluatePartner applies the PARTNER failure policy: the scheme
// tolerates the loss of a member's own dataset (recoverable from the
// copy its right neighbor holds) or the loss of its partner copy alone, but
// not both at once.
func EvaluatePartner(ownDatasetMissing, partnerCopyMissing bool) error {
	if ownDatasetMissing && partnerCopyMissing {
		return ErrUnrecoverable
	}
	return nil
}

// EvaluateXOR applies the XOR failure policy: a set recovers from
// exactly one missing member; two or more is unrecoverable.
func EvaluateXOR(missingCount int) error {
	if missingCount > 1 {
		return ErrUnrecoverable
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
