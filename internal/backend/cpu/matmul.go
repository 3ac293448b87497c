package cpu

import (
	"github.com/born-ml/encdec/internal/parallel"
	"github.com/born-ml/encdec/internal/tensor"
)

// matmulRows computes rows [0, m) of C = A @ B for one (M, K) @ (K, N)
// slice, parallelized by output row. The i-k-j order keeps the inner loop
// streaming over contiguous rows of B and C.
func matmulRows[T number](c, a, b []T, m, k, n int, cfg parallel.Config) {
	parallel.For(m, func(i int) {
		row := c[i*n : (i+1)*n]
		for j := range row {
			row[j] = 0
		}
		for p := 0; p < k; p++ {
			av := a[i*k+p]
			if av == 0 {
				continue
			}
			bRow := b[p*n : (p+1)*n]
			for j, bv := range bRow {
				row[j] += av * bv
			}
		}
	}, cfg)
}

// MatMul performs (M, K) @ (K, N) -> (M, N).
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) != 2 || len(bShape) != 2 {
		panicf("matmul: only 2D tensors supported, got %dD and %dD", len(aShape), len(bShape))
	}
	checkSameDType("matmul", a, b)
	m, k := aShape[0], aShape[1]
	kAlt, n := bShape[0], bShape[1]
	if k != kAlt {
		panicf("matmul: shape mismatch [%d,%d] @ [%d,%d]", m, k, kAlt, n)
	}

	result := cpu.alloc("matmul", tensor.Shape{m, n}, a.DType())
	switch a.DType() {
	case tensor.Float32:
		matmulRows(result.AsFloat32(), a.AsFloat32(), b.AsFloat32(), m, k, n, cpu.par)
	case tensor.Float64:
		matmulRows(result.AsFloat64(), a.AsFloat64(), b.AsFloat64(), m, k, n, cpu.par)
	case tensor.Int32:
		matmulRows(result.AsInt32(), a.AsInt32(), b.AsInt32(), m, k, n, cpu.par)
	case tensor.Int64:
		matmulRows(result.AsInt64(), a.AsInt64(), b.AsInt64(), m, k, n, cpu.par)
	default:
		panicf("matmul: unsupported dtype %s", a.DType())
	}
	return result
}

func batchMatmul[T number](c, a, b []T, batch, m, k, n int, cfg parallel.Config) {
	parallel.ForBatch(batch, m, func(bi, i int) {
		aOff, bOff, cOff := bi*m*k, bi*k*n, bi*m*n
		row := c[cOff+i*n : cOff+(i+1)*n]
		for j := range row {
			row[j] = 0
		}
		for p := 0; p < k; p++ {
			av := a[aOff+i*k+p]
			if av == 0 {
				continue
			}
			bRow := b[bOff+p*n : bOff+(p+1)*n]
			for j, bv := range bRow {
				row[j] += av * bv
			}
		}
	}, cfg)
}

// BatchMatMul performs [..., M, K] @ [..., K, N] -> [..., M, N].
// Leading dimensions must match exactly.
func (cpu *CPUBackend) BatchMatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) < 2 || len(aShape) != len(bShape) {
		panicf("batch_matmul: rank mismatch %v @ %v", aShape, bShape)
	}
	checkSameDType("batch_matmul", a, b)
	r := len(aShape)
	batch := 1
	for i := 0; i < r-2; i++ {
		if aShape[i] != bShape[i] {
			panicf("batch_matmul: batch dimension %d mismatch %v @ %v", i, aShape, bShape)
		}
		batch *= aShape[i]
	}
	m, k := aShape[r-2], aShape[r-1]
	if bShape[r-2] != k {
		panicf("batch_matmul: contraction mismatch %v @ %v", aShape, bShape)
	}
	n := bShape[r-1]

	outShape := aShape.Clone()
	outShape[r-1] = n
	result := cpu.alloc("batch_matmul", outShape, a.DType())
	switch a.DType() {
	case tensor.Float32:
		batchMatmul(result.AsFloat32(), a.AsFloat32(), b.AsFloat32(), batch, m, k, n, cpu.par)
	case tensor.Float64:
		batchMatmul(result.AsFloat64(), a.AsFloat64(), b.AsFloat64(), batch, m, k, n, cpu.par)
	default:
		panicf("batch_matmul: unsupported dtype %s", a.DType())
	}
	return result
}
