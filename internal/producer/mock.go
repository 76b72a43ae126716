package producer

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/flow-bridge/backend/internal/event"
)

// mockNode is one scripted node within a mock execution. Ticks are
// counted from the start of the node, not the run.
type mockNode struct {
	id        string
	name      string
	workTicks int
	words     []string
}

type mockExecution struct {
	id       string
	nodes    []mockNode
	nodeIdx  int
	nodeTick int
	failAt   int // node index that errors, -1 = never
	done     bool
}

var mockWords = []string{
	"analyzing", "the", "request", "and", "planning", "next", "steps",
	"reading", "workflow", "inputs", "generating", "summary", "output",
}

// MockEngine drives the real Engine and TokenPipeline with scripted
// executions so the gateway can be exercised without a workflow engine
// attached. Used by the server's -mock mode and nothing else.
type MockEngine struct {
	engine   *Engine
	pipeline *TokenPipeline
	runs     []*mockExecution
}

func NewMockEngine(engine *Engine, pipeline *TokenPipeline) *MockEngine {
	return &MockEngine{
		engine:   engine,
		pipeline: pipeline,
		runs: []*mockExecution{
			{
				id:     "mock-exec-research",
				failAt: -1,
				nodes: []mockNode{
					{id: "fetch", name: "Fetch sources", workTicks: 10, words: mockWords},
					{id: "summarize", name: "Summarize", workTicks: 18, words: mockWords},
					{id: "report", name: "Write report", workTicks: 14, words: mockWords},
				},
			},
			{
				id:     "mock-exec-etl",
				failAt: -1,
				nodes: []mockNode{
					{id: "extract", name: "Extract", workTicks: 8, words: mockWords},
					{id: "transform", name: "Transform", workTicks: 24, words: mockWords},
					{id: "load", name: "Load", workTicks: 6, words: mockWords},
				},
			},
			{
				id:     "mock-exec-flaky",
				failAt: 1,
				nodes: []mockNode{
					{id: "prepare", name: "Prepare", workTicks: 6, words: mockWords},
					{id: "invoke", name: "Invoke model", workTicks: 12, words: mockWords},
				},
			},
		},
	}
}

// Start runs the scripted executions on a 500ms tick until the context
// is cancelled or every run completes.
func (m *MockEngine) Start(ctx context.Context) {
	go m.run(ctx)
}

func (m *MockEngine) run(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active := 0
			for _, run := range m.runs {
				if run.done {
					continue
				}
				m.advance(run)
				active++
			}
			if active == 0 {
				return
			}
		}
	}
}

func (m *MockEngine) advance(run *mockExecution) {
	node := run.nodes[run.nodeIdx]

	if run.nodeTick == 0 {
		m.engine.Emit(event.NodeStart, run.id, node.id, map[string]any{"name": node.name})
	}
	run.nodeTick++

	word := node.words[rand.Intn(len(node.words))]
	m.pipeline.Push(run.id, node.id, word+" ")

	if run.nodeTick%4 == 0 {
		m.engine.Emit(event.Progress, run.id, node.id, map[string]any{
			"percent": 100 * run.nodeTick / node.workTicks,
		})
	}

	if run.nodeTick < node.workTicks {
		return
	}

	// Node finished: flush trailing tokens first so token order holds.
	m.pipeline.Flush(run.id, node.id)

	if run.nodeIdx == run.failAt {
		m.engine.Emit(event.Error, run.id, node.id, map[string]any{
			"message": fmt.Sprintf("node %s failed: upstream timeout", node.id),
		})
		m.finish(run)
		return
	}

	m.engine.Emit(event.NodeComplete, run.id, node.id, map[string]any{"name": node.name})
	run.nodeIdx++
	run.nodeTick = 0

	if run.nodeIdx >= len(run.nodes) {
		m.engine.Emit(event.Milestone, run.id, "", map[string]any{"milestone": "execution_complete"})
		m.finish(run)
	}
}

func (m *MockEngine) finish(run *mockExecution) {
	run.done = true
	m.pipeline.FlushExecution(run.id)
	m.engine.ExecutionFinished(run.id)
}
