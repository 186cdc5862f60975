package ssm

import (
	"fmt"
	"sync"

	"github.com/23skdu/longbow-scan/internal/logger"
	"github.com/23skdu/longbow-scan/internal/metrics"
)

// Backend runs the discretized selective recurrence for one batch row.
// Implementations must be numerically equivalent within floating tolerance;
// selection never changes observable output.
//
// Scan inputs are laid out per time step: x and dt are [seqLen*Inner] (dt is
// the pre-activation step signal; bias and softplus are applied inside), bc
// and cc are [seqLen*DState]. state [Inner*DState] is updated in place and y
// [seqLen*Inner] receives per-step outputs.
type Backend interface {
	Name() string
	Scan(p *Params, x, dt, bc, cc []float32, seqLen int, state, y []float32) error
	Step(p *Params, x, dt, bc, cc []float32, state, y []float32) error
}

const defaultChunk = 32

var fallbackOnce sync.Once

// SelectBackend resolves the scan backend once at layer construction:
// the chunked backend when available, otherwise the reference path with a
// single informational log.
func SelectBackend() Backend {
	b, err := NewChunkedBackend(defaultChunk)
	if err != nil {
		fallbackOnce.Do(func() {
			logger.Log.Info("chunked scan backend unavailable, using reference", "error", err.Error())
			metrics.RecordBackendFallback()
		})
		return NewReferenceBackend()
	}
	return b
}

// NewReferenceBackend returns the strictly sequential elementwise scan.
func NewReferenceBackend() Backend {
	return &referenceBackend{}
}

// NewChunkedBackend returns the chunked-scan backend. The chunk length
// bounds the boundary-correction scratch ((chunk) * Inner * DState floats).
func NewChunkedBackend(chunk int) (Backend, error) {
	if chunk <= 0 {
		return nil, fmt.Errorf("invalid chunk length: %d", chunk)
	}
	return &chunkedBackend{chunk: chunk}, nil
}
