package tensor

import "math/rand"

// Zeros creates a tensor filled with zeros.
func Zeros[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	var dummy T
	raw, err := NewRaw(shape, inferDataType(dummy), b.Device())
	if err != nil {
		panic(err)
	}
	return New[T, B](raw, b)
}

// Full creates a tensor filled with a specific value.
func Full[T DType, B Backend](shape Shape, value T, b B) *Tensor[T, B] {
	t := Zeros[T, B](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = value
	}
	return t
}

// Ones creates a float32 tensor filled with ones.
func Ones[B Backend](shape Shape, b B) *Tensor[float32, B] {
	return Full[float32, B](shape, 1, b)
}

// Scalar creates a rank-0 float32 tensor.
func Scalar[B Backend](value float32, b B) *Tensor[float32, B] {
	return Full[float32, B](Shape{}, value, b)
}

// Randn creates a float32 tensor drawn from N(0, std²) using rng.
// Callers pass a seeded generator so model initialization is reproducible.
func Randn[B Backend](shape Shape, std float32, rng *rand.Rand, b B) *Tensor[float32, B] {
	t := Zeros[float32, B](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = float32(rng.NormFloat64()) * std
	}
	return t
}

// Bernoulli creates a float32 tensor whose elements are 1/keep with
// probability keep and 0 otherwise. It is the dropout mask generator.
func Bernoulli[B Backend](shape Shape, keep float32, rng *rand.Rand, b B) *Tensor[float32, B] {
	t := Zeros[float32, B](shape, b)
	data := t.Data()
	scale := 1 / keep
	for i := range data {
		if rng.Float32() < keep {
			data[i] = scale
		}
	}
	return t
}
