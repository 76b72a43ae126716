package producer

import (
	"testing"

	"github.com/flow-bridge/backend/internal/event"
)

func tokenGraph(batchSize int) *Graph {
	g := NewGraph()
	g.SetDefaultPolicy(StreamPolicy{Tokens: true, TokenBatchSize: batchSize})
	return g
}

func TestPipelineBatchesTokens(t *testing.T) {
	e := NewEngine()
	p := NewTokenPipeline(e, tokenGraph(3))
	stream, cancel := e.Subscribe(Filter{Kinds: []event.Kind{event.Token}})
	defer cancel()

	p.Push("e1", "n1", "a")
	p.Push("e1", "n1", "b")
	if len(stream.Events()) != 0 {
		t.Fatal("partial batch should not publish")
	}

	p.Push("e1", "n1", "c")
	env := recvEnv(t, stream.Events())
	chunk, ok := env.Data.(*TokenChunk)
	if !ok {
		t.Fatalf("Data is %T, want *TokenChunk", env.Data)
	}
	if chunk.Text != "abc" || chunk.Count != 3 {
		t.Errorf("chunk = %+v, want abc/3", chunk)
	}
	if env.Meta.NodeID != "n1" {
		t.Errorf("NodeID = %q, want n1", env.Meta.NodeID)
	}
}

func TestPipelineFlushPartial(t *testing.T) {
	e := NewEngine()
	p := NewTokenPipeline(e, tokenGraph(10))
	stream, cancel := e.Subscribe(Filter{})
	defer cancel()

	p.Push("e1", "n1", "tail")
	p.Flush("e1", "n1")

	env := recvEnv(t, stream.Events())
	chunk := env.Data.(*TokenChunk)
	if chunk.Text != "tail" || chunk.Count != 1 {
		t.Errorf("chunk = %+v, want tail/1", chunk)
	}

	// Nothing pending; a second flush publishes nothing.
	p.Flush("e1", "n1")
	if len(stream.Events()) != 0 {
		t.Error("empty flush should not publish")
	}
}

func TestPipelineFlushExecution(t *testing.T) {
	e := NewEngine()
	p := NewTokenPipeline(e, tokenGraph(10))
	stream, cancel := e.Subscribe(Filter{})
	defer cancel()

	p.Push("e1", "n1", "x")
	p.Push("e1", "n2", "y")
	p.Push("e2", "n1", "z")

	p.FlushExecution("e1")

	if got := len(stream.Events()); got != 2 {
		t.Errorf("flushed %d batches, want 2", got)
	}
	if p.PendingBatches() != 1 {
		t.Errorf("PendingBatches = %d, want 1 (e2 untouched)", p.PendingBatches())
	}
}

func TestPipelineRespectsPolicy(t *testing.T) {
	g := NewGraph()
	g.SetDefaultPolicy(StreamPolicy{Tokens: true, TokenBatchSize: 1})
	g.AddNode(NodeDefinition{ID: "quiet", Policy: StreamPolicy{Tokens: false}})

	e := NewEngine()
	p := NewTokenPipeline(e, g)
	stream, cancel := e.Subscribe(Filter{})
	defer cancel()

	p.Push("e1", "quiet", "dropped")
	if len(stream.Events()) != 0 {
		t.Error("node with tokens disabled should publish nothing")
	}

	p.Push("e1", "chatty", "kept")
	env := recvEnv(t, stream.Events())
	if env.Data.(*TokenChunk).Text != "kept" {
		t.Errorf("got %+v", env.Data)
	}
}

func TestGraphPolicyFallback(t *testing.T) {
	g := NewGraph()
	g.AddNode(NodeDefinition{ID: "n1", Policy: StreamPolicy{Tokens: true, TokenBatchSize: 2}})

	if got := g.PolicyFor("n1").TokenBatchSize; got != 2 {
		t.Errorf("PolicyFor(n1).TokenBatchSize = %d, want 2", got)
	}
	if got := g.PolicyFor("unknown"); got != DefaultStreamPolicy() {
		t.Errorf("PolicyFor(unknown) = %+v, want default", got)
	}
}
