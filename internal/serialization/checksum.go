package serialization

import (
	"crypto/sha256"
	"hash"
)

type checksumWriter struct {
	h hash.Hash
}

func newChecksumWriter() *checksumWriter {
	return &checksumWriter{h: sha256.New()}
}

func (c *checksumWriter) write(p []byte) {
	_, _ = c.h.Write(p) // hash.Hash never returns an error
}

func (c *checksumWriter) sum() [ChecksumSize]byte {
	var out [ChecksumSize]byte
	copy(out[:], c.h.Sum(nil))
	return out
}

// ValidateChecksum compares a computed checksum against a stored one.
func ValidateChecksum(computed, stored [ChecksumSize]byte) error {
	if computed != stored {
		return ErrChecksumMismatch
	}
	return nil
}
