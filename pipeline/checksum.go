package pipeline

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"

	"github.com/pithecene-io/tsrebuild/iox"
)

// ChecksumAlgo names the digest written to reports and the ledger.
const ChecksumAlgo = "blake3"

// checksumFile returns the hex BLAKE3 digest of path.
func checksumFile(fsys afero.Fs, path string) (string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", fmt.Errorf("checksum: open %s: %w", path, err)
	}
	defer iox.DiscardClose(f)

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("checksum: read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
