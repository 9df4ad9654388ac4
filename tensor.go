package diffuse

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// Tensor is a dense batch of samples: a flat float64 buffer with an explicit
// shape whose leading axis is the batch dimension. All per-step sampler math
// is vectorized across the batch through the batch-coefficient methods below.
//
// Shape-mismatched operands indicate a programming error and panic, matching
// gonum's floats conventions. Range-checked indexing lives in the Schedule
// gather primitive instead.
type Tensor struct {
	Data  []float64
	Shape []int
}

// NewTensor creates a zero-filled tensor with the given shape.
// The leading dimension is the batch axis.
func NewTensor(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		if d <= 0 {
			panic(fmt.Sprintf("diffuse: non-positive dimension %d in shape %v", d, shape))
		}
		n *= d
	}
	s := make([]int, len(shape))
	copy(s, shape)
	return &Tensor{Data: make([]float64, n), Shape: s}
}

// Randn creates a tensor of the given shape filled with standard normal noise.
func Randn(rng *rand.Rand, shape ...int) *Tensor {
	t := NewTensor(shape...)
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64()
	}
	return t
}

// RandnLike creates a standard-normal tensor with the same shape as t.
func RandnLike(rng *rand.Rand, t *Tensor) *Tensor {
	return Randn(rng, t.Shape...)
}

// Len returns the total number of elements.
func (t *Tensor) Len() int {
	return len(t.Data)
}

// Batch returns the size of the leading batch axis.
func (t *Tensor) Batch() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// itemSize returns the number of elements per batch item.
func (t *Tensor) itemSize() int {
	b := t.Batch()
	if b == 0 {
		return 0
	}
	return len(t.Data) / b
}

// row returns the flat view of batch item b.
func (t *Tensor) row(b int) []float64 {
	n := t.itemSize()
	return t.Data[b*n : (b+1)*n]
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	out := NewTensor(t.Shape...)
	copy(out.Data, t.Data)
	return out
}

// ScaleBatch multiplies every element of batch item b by coef[b], in place.
func (t *Tensor) ScaleBatch(coef []float64) {
	t.checkBatch(len(coef))
	for b := 0; b < t.Batch(); b++ {
		floats.Scale(coef[b], t.row(b))
	}
}

// DivBatch divides every element of batch item b by coef[b], in place.
func (t *Tensor) DivBatch(coef []float64) {
	t.checkBatch(len(coef))
	for b := 0; b < t.Batch(); b++ {
		floats.Scale(1/coef[b], t.row(b))
	}
}

// AddScaledBatch adds coef[b]*o[b] to batch item b, in place.
func (t *Tensor) AddScaledBatch(coef []float64, o *Tensor) {
	t.checkShape(o)
	t.checkBatch(len(coef))
	for b := 0; b < t.Batch(); b++ {
		floats.AddScaled(t.row(b), coef[b], o.row(b))
	}
}

// Sub subtracts o element-wise, in place.
func (t *Tensor) Sub(o *Tensor) {
	t.checkShape(o)
	floats.Sub(t.Data, o.Data)
}

func (t *Tensor) checkShape(o *Tensor) {
	if len(t.Shape) != len(o.Shape) {
		panic(fmt.Sprintf("diffuse: shape mismatch %v vs %v", t.Shape, o.Shape))
	}
	for i, d := range t.Shape {
		if o.Shape[i] != d {
			panic(fmt.Sprintf("diffuse: shape mismatch %v vs %v", t.Shape, o.Shape))
		}
	}
}

func (t *Tensor) checkBatch(n int) {
	if n != t.Batch() {
		panic(fmt.Sprintf("diffuse: batch coefficient length %d does not match batch %d", n, t.Batch()))
	}
}

// splitBatch returns the first n batch items as independent per-item tensors.
// Each returned tensor drops the batch axis.
func splitBatch(t *Tensor, n int) []*Tensor {
	itemShape := t.Shape[1:]
	if len(itemShape) == 0 {
		itemShape = []int{1}
	}
	out := make([]*Tensor, n)
	for b := 0; b < n; b++ {
		item := NewTensor(itemShape...)
		copy(item.Data, t.row(b))
		out[b] = item
	}
	return out
}

// stackBatch concatenates per-item tensors back along a new batch axis.
func stackBatch(items []*Tensor) *Tensor {
	shape := append([]int{len(items)}, items[0].Shape...)
	out := NewTensor(shape...)
	for b, item := range items {
		copy(out.row(b), item.Data)
	}
	return out
}

// fullVec returns a length-n slice filled with v.
func fullVec(n int, v float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}
