package ssm

import (
	"fmt"
	"sync"

	"github.com/23skdu/longbow-scan/internal/config"
	"github.com/23skdu/longbow-scan/internal/logger"
	"github.com/23skdu/longbow-scan/internal/metrics"
)

// RuntimeState holds the per-(layer, batch) recurrent state of a decode
// session: the convolution ring buffer of the last DConv-1 raw inputs and
// the recurrence state tensor.
//
//	ConvState [Batch x (DConv-1) x Inner]   slot 0 oldest
//	SSMState  [Batch x Inner x DState]      float32 regardless of ambient precision
//
// Each instance is exclusively owned by one logical sequence; the layer
// performs no locking and assumes single-writer access.
type RuntimeState struct {
	Batch     int
	ConvState []float32
	SSMState  []float32
}

func newRuntimeState(cfg config.LayerConfig, batch int) *RuntimeState {
	return &RuntimeState{
		Batch:     batch,
		ConvState: make([]float32, batch*(cfg.DConv-1)*cfg.Inner),
		SSMState:  make([]float32, batch*cfg.Inner*cfg.DState),
	}
}

// Reset zeroes both tensors, returning the state to its primed condition.
func (s *RuntimeState) Reset() {
	for i := range s.ConvState {
		s.ConvState[i] = 0
	}
	for i := range s.SSMState {
		s.SSMState[i] = 0
	}
}

// Bytes reports the memory held by the state tensors.
func (s *RuntimeState) Bytes() int64 {
	return int64(len(s.ConvState)+len(s.SSMState)) * 4
}

// validate checks the state tensors against the layer configuration and the
// call's batch size. Persisted states reloaded from disk go through the
// same check.
func (s *RuntimeState) validate(cfg config.LayerConfig, batch int, op string) error {
	if s.Batch != batch {
		return &ShapeError{Op: op, Detail: fmt.Sprintf("cache batch %d, call batch %d", s.Batch, batch)}
	}
	if len(s.ConvState) != batch*(cfg.DConv-1)*cfg.Inner {
		return &ShapeError{Op: op, Detail: fmt.Sprintf("conv state len %d, want %d",
			len(s.ConvState), batch*(cfg.DConv-1)*cfg.Inner)}
	}
	if len(s.SSMState) != batch*cfg.Inner*cfg.DState {
		return &ShapeError{Op: op, Detail: fmt.Sprintf("ssm state len %d, want %d",
			len(s.SSMState), batch*cfg.Inner*cfg.DState)}
	}
	return nil
}

func (s *RuntimeState) convRow(cfg config.LayerConfig, b int) []float32 {
	w := (cfg.DConv - 1) * cfg.Inner
	return s.ConvState[b*w : (b+1)*w]
}

func (s *RuntimeState) ssmRow(cfg config.LayerConfig, b int) []float32 {
	w := cfg.Inner * cfg.DState
	return s.SSMState[b*w : (b+1)*w]
}

// StateCache is the inference state registry keyed by layer instance.
// States are allocated zeroed on first use and mutated in place by the
// layer on every subsequent step; Release ends the session. The registry
// map is mutex-guarded; the states themselves are not.
type StateCache struct {
	mu     sync.Mutex
	cfg    config.LayerConfig
	states map[string]*RuntimeState
}

func NewStateCache(cfg config.LayerConfig) *StateCache {
	return &StateCache{
		cfg:    cfg,
		states: make(map[string]*RuntimeState),
	}
}

// GetOrCreate returns the RuntimeState for a layer instance, allocating a
// zeroed one on first use. A batch size change discards the old state.
func (c *StateCache) GetOrCreate(layerID string, batch int) *RuntimeState {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.states[layerID]; ok {
		if s.Batch == batch {
			return s
		}
		logger.Log.Warn("state cache batch size changed, reallocating",
			"layer", layerID, "old", s.Batch, "new", batch)
	}
	s := newRuntimeState(c.cfg, batch)
	c.states[layerID] = s
	c.recordStats()
	return s
}

// Release frees the state for a layer instance.
func (c *StateCache) Release(layerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, layerID)
	c.recordStats()
}

// Bytes reports total memory held by all live states.
func (c *StateCache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesLocked()
}

// Slots reports the number of live states.
func (c *StateCache) Slots() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}

func (c *StateCache) bytesLocked() int64 {
	var total int64
	for _, s := range c.states {
		total += s.Bytes()
	}
	return total
}

func (c *StateCache) recordStats() {
	metrics.RecordStateCacheStats(c.bytesLocked(), len(c.states))
}
