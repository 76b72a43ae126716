package producer

import (
	"strings"
	"sync"

	"github.com/flow-bridge/backend/internal/event"
)

// TokenChunk is the payload of a token envelope: one batched run of raw
// model output for a node.
type TokenChunk struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

type batchKey struct {
	executionID string
	nodeID      string
}

type tokenBatch struct {
	parts []string
	count int
}

// TokenPipeline aggregates raw output chunks into token envelopes. Each
// (execution, node) pair accumulates until the node's policy batch size
// is reached, then the batch is published through the engine. Completes
// flush whatever remains so no trailing output is lost.
type TokenPipeline struct {
	engine *Engine
	graph  *Graph

	mu      sync.Mutex
	batches map[batchKey]*tokenBatch
}

func NewTokenPipeline(engine *Engine, graph *Graph) *TokenPipeline {
	return &TokenPipeline{
		engine:  engine,
		graph:   graph,
		batches: make(map[batchKey]*tokenBatch),
	}
}

// Push adds one raw chunk for a node. Publishing happens outside the
// pipeline lock.
func (p *TokenPipeline) Push(executionID, nodeID, text string) {
	policy := p.graph.PolicyFor(nodeID)
	if !policy.Tokens {
		return
	}
	size := policy.TokenBatchSize
	if size <= 0 {
		size = 1
	}

	key := batchKey{executionID, nodeID}

	p.mu.Lock()
	b, ok := p.batches[key]
	if !ok {
		b = &tokenBatch{}
		p.batches[key] = b
	}
	b.parts = append(b.parts, text)
	b.count++

	var chunk *TokenChunk
	if b.count >= size {
		chunk = &TokenChunk{Text: strings.Join(b.parts, ""), Count: b.count}
		delete(p.batches, key)
	}
	p.mu.Unlock()

	if chunk != nil {
		p.engine.Emit(event.Token, executionID, nodeID, chunk)
	}
}

// Flush publishes any partial batch for the node. No-op when nothing is
// pending.
func (p *TokenPipeline) Flush(executionID, nodeID string) {
	key := batchKey{executionID, nodeID}

	p.mu.Lock()
	b, ok := p.batches[key]
	if ok {
		delete(p.batches, key)
	}
	p.mu.Unlock()

	if ok && b.count > 0 {
		p.engine.Emit(event.Token, executionID, nodeID,
			&TokenChunk{Text: strings.Join(b.parts, ""), Count: b.count})
	}
}

// FlushExecution publishes every partial batch belonging to the
// execution, then drops its state. Called when an execution finishes.
func (p *TokenPipeline) FlushExecution(executionID string) {
	p.mu.Lock()
	flushed := make(map[string]*tokenBatch)
	for key, b := range p.batches {
		if key.executionID == executionID {
			flushed[key.nodeID] = b
			delete(p.batches, key)
		}
	}
	p.mu.Unlock()

	for nodeID, b := range flushed {
		if b.count > 0 {
			p.engine.Emit(event.Token, executionID, nodeID,
				&TokenChunk{Text: strings.Join(b.parts, ""), Count: b.count})
		}
	}
}

// PendingBatches reports how many partial batches are buffered.
func (p *TokenPipeline) PendingBatches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches)
}
