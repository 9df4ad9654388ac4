package diffuse

import (
	"math"
	"math/rand"
	"testing"
)

const epsilon = 1e-9

func assertFloat(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > epsilon {
		t.Errorf("%s = %.12f, want %.12f (diff %.12g)", name, got, want, math.Abs(got-want))
	}
}

func testRng() *rand.Rand {
	return rand.New(rand.NewSource(42))
}

// --- construction ---

func TestNewTensorZeroFilled(t *testing.T) {
	x := NewTensor(2, 3)
	if x.Len() != 6 {
		t.Fatalf("Len = %d, want 6", x.Len())
	}
	if x.Batch() != 2 {
		t.Errorf("Batch = %d, want 2", x.Batch())
	}
	for i, v := range x.Data {
		if v != 0 {
			t.Errorf("Data[%d] = %f, want 0", i, v)
		}
	}
}

func TestRandnShapeAndVariation(t *testing.T) {
	x := Randn(testRng(), 4, 8)
	if x.Len() != 32 {
		t.Fatalf("Len = %d, want 32", x.Len())
	}
	allSame := true
	for _, v := range x.Data[1:] {
		if v != x.Data[0] {
			allSame = false
			break
		}
	}
	if allSame {
		t.Error("Randn produced a constant tensor")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	x := Randn(testRng(), 2, 2)
	y := x.Clone()
	y.Data[0] = 99
	if x.Data[0] == 99 {
		t.Error("Clone shares storage with the original")
	}
}

// --- batch ops ---

func TestScaleBatch(t *testing.T) {
	x := &Tensor{Data: []float64{1, 2, 3, 4}, Shape: []int{2, 2}}
	x.ScaleBatch([]float64{2, 10})
	want := []float64{2, 4, 30, 40}
	for i, v := range want {
		assertFloat(t, "ScaleBatch", x.Data[i], v)
	}
}

func TestAddScaledBatch(t *testing.T) {
	x := &Tensor{Data: []float64{1, 1, 1, 1}, Shape: []int{2, 2}}
	o := &Tensor{Data: []float64{1, 2, 3, 4}, Shape: []int{2, 2}}
	x.AddScaledBatch([]float64{1, -1}, o)
	want := []float64{2, 3, -2, -3}
	for i, v := range want {
		assertFloat(t, "AddScaledBatch", x.Data[i], v)
	}
}

func TestDivBatch(t *testing.T) {
	x := &Tensor{Data: []float64{2, 4, 9, 12}, Shape: []int{2, 2}}
	x.DivBatch([]float64{2, 3})
	want := []float64{1, 2, 3, 4}
	for i, v := range want {
		assertFloat(t, "DivBatch", x.Data[i], v)
	}
}

func TestSub(t *testing.T) {
	x := &Tensor{Data: []float64{5, 5}, Shape: []int{1, 2}}
	o := &Tensor{Data: []float64{2, 3}, Shape: []int{1, 2}}
	x.Sub(o)
	assertFloat(t, "Sub[0]", x.Data[0], 3)
	assertFloat(t, "Sub[1]", x.Data[1], 2)
}

func TestShapeMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("mismatched shapes should panic")
		}
	}()
	x := NewTensor(2, 2)
	x.Sub(NewTensor(2, 3))
}

// --- split / stack ---

func TestSplitBatchDropsBatchAxis(t *testing.T) {
	x := Randn(testRng(), 4, 3, 2)
	items := splitBatch(x, 3)
	if len(items) != 3 {
		t.Fatalf("len = %d, want 3", len(items))
	}
	for i, item := range items {
		if len(item.Shape) != 2 || item.Shape[0] != 3 || item.Shape[1] != 2 {
			t.Errorf("item %d shape = %v, want [3 2]", i, item.Shape)
		}
		for j, v := range item.Data {
			assertFloat(t, "split value", v, x.row(i)[j])
		}
	}
}

func TestStackBatchRoundTrip(t *testing.T) {
	x := Randn(testRng(), 2, 4)
	back := stackBatch(splitBatch(x, 2))
	if back.Len() != x.Len() {
		t.Fatalf("Len = %d, want %d", back.Len(), x.Len())
	}
	for i := range x.Data {
		assertFloat(t, "stacked value", back.Data[i], x.Data[i])
	}
}
