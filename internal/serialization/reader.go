package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// File is a fully loaded and verified .born file.
type File struct {
	Header  Header
	tensors map[string]*tensor.RawTensor
}

// ReadFile loads path, verifies the data checksum and the tensor table, and
// materializes every tensor on the CPU.
func ReadFile(path string) (*File, error) {
	//nolint:gosec // G304: checkpoint paths are user-provided by design
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return Parse(data)
}

// Parse decodes an in-memory .born file.
func Parse(data []byte) (*File, error) {
	if len(data) < FixedHeaderSize {
		return nil, ErrTruncated
	}
	if string(data[0:4]) != MagicBytes {
		return nil, ErrInvalidMagic
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != FormatVersion {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, v, FormatVersion)
	}

	headerSize := binary.LittleEndian.Uint64(data[16:24])
	dataSize := binary.LittleEndian.Uint64(data[24:32])
	if headerSize > MaxHeaderSize {
		return nil, ErrHeaderTooLarge
	}
	var stored [ChecksumSize]byte
	copy(stored[:], data[ChecksumOffset:ChecksumOffset+ChecksumSize])

	headerEnd := FixedHeaderSize + int64(headerSize) //nolint:gosec // bounded by MaxHeaderSize
	if int64(len(data)) < headerEnd {
		return nil, ErrTruncated
	}
	var header Header
	if err := json.Unmarshal(data[FixedHeaderSize:headerEnd], &header); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	dataStart := alignedHeaderEnd(int64(headerSize)) //nolint:gosec // bounded by MaxHeaderSize
	if uint64(len(data)) < uint64(dataStart)+dataSize {  //nolint:gosec // dataStart is positive
		return nil, ErrTruncated
	}
	section := data[dataStart : dataStart+int64(dataSize)] //nolint:gosec // checked against len(data)
	if err := ValidateChecksum(ComputeChecksum(section), stored); err != nil {
		return nil, err
	}
	if err := validateTensorTable(header.Tensors, int64(len(section))); err != nil {
		return nil, err
	}

	f := &File{Header: header, tensors: make(map[string]*tensor.RawTensor, len(header.Tensors))}
	for _, meta := range header.Tensors {
		raw, err := decodeTensor(meta, section)
		if err != nil {
			return nil, err
		}
		f.tensors[meta.Name] = raw
	}
	return f, nil
}

func decodeTensor(meta TensorMeta, section []byte) (*tensor.RawTensor, error) {
	dtype, ok := tensor.ParseDataType(meta.DType)
	if !ok {
		return nil, &ValidationError{Type: "unknown_dtype", Tensor: meta.Name, Details: meta.DType}
	}
	raw, err := tensor.NewRaw(tensor.Shape(meta.Shape), dtype, tensor.CPU)
	if err != nil {
		return nil, &ValidationError{Type: "invalid_shape", Tensor: meta.Name, Details: err.Error()}
	}
	if int64(raw.ByteSize()) != meta.Size {
		return nil, &ValidationError{
			Type:    "size_mismatch",
			Tensor:  meta.Name,
			Details: fmt.Sprintf("shape %v of %s needs %d bytes, header says %d", meta.Shape, meta.DType, raw.ByteSize(), meta.Size),
		}
	}
	copy(raw.Data(), section[meta.Offset:meta.Offset+meta.Size])
	return raw, nil
}

// validateTensorTable rejects negative, out-of-bounds and overlapping
// tensor regions.
func validateTensorTable(tensors []TensorMeta, dataSize int64) error {
	sorted := make([]TensorMeta, len(tensors))
	copy(sorted, tensors)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Offset < sorted[j].Offset
	})

	seen := make(map[string]bool, len(sorted))
	for i, t := range sorted {
		if seen[t.Name] {
			return &ValidationError{Type: "duplicate_name", Tensor: t.Name, Details: "tensor listed twice"}
		}
		seen[t.Name] = true
		if t.Offset < 0 || t.Size < 0 {
			return &ValidationError{
				Type:    "negative_offset",
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset=%d, size=%d", t.Offset, t.Size),
			}
		}
		if t.Offset+t.Size > dataSize {
			return &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset %d + size %d > data_size %d", t.Offset, t.Size, dataSize),
			}
		}
		if i < len(sorted)-1 {
			next := sorted[i+1]
			if t.Offset+t.Size > next.Offset {
				return &ValidationError{
					Type:    "offset_overlap",
					Tensor:  t.Name,
					Tensor2: next.Name,
					Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap",
						t.Offset, t.Offset+t.Size, next.Offset, next.Offset+next.Size),
				}
			}
		}
	}
	return nil
}

// Tensor returns the named tensor.
func (f *File) Tensor(name string) (*tensor.RawTensor, error) {
	raw, ok := f.tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	return raw, nil
}

// Tensors returns every tensor keyed by name.
func (f *File) Tensors() map[string]*tensor.RawTensor {
	return f.tensors
}

// Names returns the tensor names in file order.
func (f *File) Names() []string {
	names := make([]string, len(f.Header.Tensors))
	for i, t := range f.Header.Tensors {
		names[i] = t.Name
	}
	return names
}
