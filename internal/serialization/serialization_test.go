package serialization

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/seq2seq/internal/tensor"
)

func sampleTensors(t *testing.T) map[string]*tensor.RawTensor {
	t.Helper()
	w := tensor.MustNewRaw(tensor.Shape{2, 3}, tensor.Float32, tensor.CPU)
	copy(w.AsFloat32(), []float32{1, 2, 3, 4, 5, 6})
	step := tensor.MustNewRaw(tensor.Shape{}, tensor.Int32, tensor.CPU)
	step.AsInt32()[0] = 42
	alpha := tensor.MustNewRaw(tensor.Shape{1}, tensor.Float32, tensor.CPU)
	alpha.AsFloat32()[0] = 0.5
	return map[string]*tensor.RawTensor{
		"encoder.w": w,
		"opt.step":  step,
		"norm.a":    alpha,
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.born")
	header := Header{
		ModelType: "Transformer",
		Metadata:  map[string]string{"lang_src": "en"},
		CheckpointMeta: &CheckpointMeta{
			Epoch:         3,
			GlobalStep:    1200,
			RunID:         "run-1",
			OptimizerType: "Adam",
		},
	}
	require.NoError(t, WriteFile(path, sampleTensors(t), header))

	f, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, f.Header.FormatVersion)
	assert.Equal(t, "Transformer", f.Header.ModelType)
	assert.Equal(t, "en", f.Header.Metadata["lang_src"])
	require.NotNil(t, f.Header.CheckpointMeta)
	assert.Equal(t, 3, f.Header.CheckpointMeta.Epoch)
	assert.Equal(t, int64(1200), f.Header.CheckpointMeta.GlobalStep)
	assert.Equal(t, []string{"encoder.w", "norm.a", "opt.step"}, f.Names())

	w, err := f.Tensor("encoder.w")
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3}, w.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, w.AsFloat32())

	step, err := f.Tensor("opt.step")
	require.NoError(t, err)
	assert.Equal(t, int32(42), step.AsInt32()[0])

	_, err = f.Tensor("missing")
	assert.True(t, errors.Is(err, ErrTensorNotFound))
}

func TestDataSectionIsAligned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.born")
	require.NoError(t, WriteFile(path, sampleTensors(t), Header{ModelType: "x"}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	f, err := Parse(data)
	require.NoError(t, err)
	var total int64
	for _, m := range f.Header.Tensors {
		total += m.Size
	}
	assert.Zero(t, (int64(len(data))-total)%HeaderAlignment)
}

func TestCorruptionDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.born")
	require.NoError(t, WriteFile(path, sampleTensors(t), Header{}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	t.Run("flipped data byte", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[len(bad)-1] ^= 0xFF
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})

	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		copy(bad, "NOPE")
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrInvalidMagic)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := Parse(data[:len(data)-4])
		assert.ErrorIs(t, err, ErrTruncated)
		_, err = Parse(data[:10])
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("wrong version", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[4] = 9
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
	})
}

func TestWriteFileReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.born")
	require.NoError(t, WriteFile(path, sampleTensors(t), Header{ModelType: "first"}))
	require.NoError(t, WriteFile(path, sampleTensors(t), Header{ModelType: "second"}))

	f, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", f.Header.ModelType)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestValidateTensorTable(t *testing.T) {
	tests := []struct {
		name    string
		tensors []TensorMeta
		kind    string
	}{
		{"overlap", []TensorMeta{{Name: "a", Offset: 0, Size: 8}, {Name: "b", Offset: 4, Size: 8}}, "offset_overlap"},
		{"out of bounds", []TensorMeta{{Name: "a", Offset: 8, Size: 16}}, "out_of_bounds"},
		{"negative", []TensorMeta{{Name: "a", Offset: -1, Size: 4}}, "negative_offset"},
		{"duplicate", []TensorMeta{{Name: "a", Offset: 0, Size: 4}, {Name: "a", Offset: 4, Size: 4}}, "duplicate_name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTensorTable(tt.tensors, 16)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.kind, ve.Type)
		})
	}
	assert.NoError(t, validateTensorTable([]TensorMeta{{Name: "a", Size: 8}, {Name: "b", Offset: 8, Size: 8}}, 16))
}
