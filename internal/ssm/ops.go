package ssm

import (
	"runtime"
	"sync"
)

// linear computes y = W x for a single vector. W is row-major [rows x cols]
// with one output channel per row.
func linear(w, x, y []float32, rows, cols int) {
	for i := 0; i < rows; i++ {
		var sum float32
		row := w[i*cols : (i+1)*cols]
		for j, wv := range row {
			sum += wv * x[j]
		}
		y[i] = sum
	}
}

// linearBatch applies W to each of n input vectors, chunking rows of the
// output across goroutines.
func linearBatch(w, x, y []float32, n, rows, cols int) {
	parallelism := runtime.NumCPU()
	if parallelism > n {
		parallelism = n
	}
	if parallelism <= 1 {
		for i := 0; i < n; i++ {
			linear(w, x[i*cols:(i+1)*cols], y[i*rows:(i+1)*rows], rows, cols)
		}
		return
	}
	chunkSize := (n + parallelism - 1) / parallelism
	var wg sync.WaitGroup
	for i := 0; i < n; i += chunkSize {
		end := i + chunkSize
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for r := start; r < end; r++ {
				linear(w, x[r*cols:(r+1)*cols], y[r*rows:(r+1)*rows], rows, cols)
			}
		}(i, end)
	}
	wg.Wait()
}
