// Package serialization reads and writes .born checkpoint files.
//
// Layout (all integers little-endian):
//
//	0x00  "BORN" magic
//	0x04  uint32 format version (2)
//	0x08  uint32 flags
//	0x0C  reserved
//	0x10  uint64 JSON header size
//	0x18  uint64 tensor data size
//	0x20  SHA-256 of the tensor data section
//	0x40  JSON header, zero-padded to a 64-byte boundary
//	....  tensor data, back to back in header order
package serialization

import (
	"crypto/sha256"
	"time"
)

// Format constants.
const (
	MagicBytes      = "BORN"
	FormatVersion   = 2
	HeaderAlignment = 64
	FixedHeaderSize = 64
	ChecksumOffset  = 0x20
	ChecksumSize    = sha256.Size
	MaxHeaderSize   = 100 * 1024 * 1024
)

// Flags for the .born format.
const (
	FlagHasOptimizer uint32 = 1 << 1
	FlagHasMetadata  uint32 = 1 << 2
)

// Header represents the JSON header of a .born file.
type Header struct {
	FormatVersion  int               `json:"format_version"`
	ModelType      string            `json:"model_type"`
	CreatedAt      time.Time         `json:"created_at"`
	Tensors        []TensorMeta      `json:"tensors"`
	Metadata       map[string]string `json:"metadata"`
	CheckpointMeta *CheckpointMeta   `json:"checkpoint,omitempty"`
}

// CheckpointMeta carries the training progress stored with a checkpoint.
type CheckpointMeta struct {
	Epoch         int            `json:"epoch"`
	GlobalStep    int64          `json:"global_step"`
	Loss          float64        `json:"loss"`
	RunID         string         `json:"run_id,omitempty"`
	OptimizerType string         `json:"optimizer_type,omitempty"`
	ModelConfig   map[string]any `json:"model_config,omitempty"`
}

// TensorMeta describes one tensor in the data section.
type TensorMeta struct {
	Name   string `json:"name"`
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
}

// ComputeChecksum computes the SHA-256 checksum of data.
func ComputeChecksum(data []byte) [ChecksumSize]byte {
	return sha256.Sum256(data)
}

func alignedHeaderEnd(headerSize int64) int64 {
	end := FixedHeaderSize + headerSize
	return end + (HeaderAlignment-end%HeaderAlignment)%HeaderAlignment
}
