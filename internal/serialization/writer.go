package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// WriteFile writes tensors and header to path as a .born file.
//
// The file is written to a temporary sibling and renamed into place, so a
// reader never observes a partially written checkpoint and an interrupted
// save leaves any previous file at path untouched. Tensors are stored in
// name order.
func WriteFile(path string, tensors map[string]*tensor.RawTensor, header Header) (err error) {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header.FormatVersion = FormatVersion
	if header.CreatedAt.IsZero() {
		header.CreatedAt = time.Now().UTC()
	}
	if header.Metadata == nil {
		header.Metadata = make(map[string]string)
	}

	header.Tensors = make([]TensorMeta, 0, len(names))
	hash := newChecksumWriter()
	var offset int64
	for _, name := range names {
		raw := tensors[name]
		size := int64(raw.ByteSize())
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   name,
			DType:  raw.DType().String(),
			Shape:  []int(raw.Shape().Clone()),
			Offset: offset,
			Size:   size,
		})
		hash.write(raw.Data())
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	fixed := make([]byte, FixedHeaderSize)
	copy(fixed[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixed[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(fixed[8:12], headerFlags(header))
	binary.LittleEndian.PutUint64(fixed[16:24], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(fixed[24:32], uint64(offset)) //nolint:gosec // offset is a sum of byte sizes
	sum := hash.sum()
	copy(fixed[ChecksumOffset:ChecksumOffset+ChecksumSize], sum[:])

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	if _, err = w.Write(fixed); err != nil {
		return fmt.Errorf("failed to write fixed header: %w", err)
	}
	if _, err = w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header JSON: %w", err)
	}
	padding := alignedHeaderEnd(int64(len(headerJSON))) - FixedHeaderSize - int64(len(headerJSON))
	if _, err = w.Write(make([]byte, padding)); err != nil {
		return fmt.Errorf("failed to write padding: %w", err)
	}
	for _, name := range names {
		if _, err = w.Write(tensors[name].Data()); err != nil {
			return fmt.Errorf("failed to write tensor %s: %w", name, err)
		}
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move checkpoint into place: %w", err)
	}
	return nil
}

func headerFlags(h Header) uint32 {
	var flags uint32
	if len(h.Metadata) > 0 {
		flags |= FlagHasMetadata
	}
	if h.CheckpointMeta != nil && h.CheckpointMeta.OptimizerType != "" {
		flags |= FlagHasOptimizer
	}
	return flags
}
