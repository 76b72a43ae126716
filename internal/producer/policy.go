package producer

// StreamPolicy is the per-node streaming configuration, attached to a
// node definition when the workflow graph is built and resolved exactly
// once. Nothing reads streaming settings from ambient process state.
type StreamPolicy struct {
	Tokens         bool `yaml:"tokens" json:"tokens"`
	Progress       bool `yaml:"progress" json:"progress"`
	Events         bool `yaml:"events" json:"events"`
	TokenBatchSize int  `yaml:"token_batch_size" json:"tokenBatchSize"`
}

// DefaultStreamPolicy streams everything with a modest token batch.
func DefaultStreamPolicy() StreamPolicy {
	return StreamPolicy{
		Tokens:         true,
		Progress:       true,
		Events:         true,
		TokenBatchSize: 8,
	}
}

// NodeDefinition describes one workflow node as the bridge sees it: an
// identity plus its streaming policy.
type NodeDefinition struct {
	ID     string
	Name   string
	Policy StreamPolicy
}

// Graph is the set of node definitions for one workflow, fixed at build
// time. Policy lookups for unknown nodes fall back to the graph default.
type Graph struct {
	defaultPolicy StreamPolicy
	nodes         map[string]NodeDefinition
}

func NewGraph() *Graph {
	return &Graph{
		defaultPolicy: DefaultStreamPolicy(),
		nodes:         make(map[string]NodeDefinition),
	}
}

// SetDefaultPolicy replaces the fallback policy for nodes without one.
func (g *Graph) SetDefaultPolicy(p StreamPolicy) {
	g.defaultPolicy = p
}

// AddNode registers a node definition. Later definitions with the same
// id replace earlier ones.
func (g *Graph) AddNode(def NodeDefinition) {
	g.nodes[def.ID] = def
}

// PolicyFor resolves the streaming policy for a node id.
func (g *Graph) PolicyFor(nodeID string) StreamPolicy {
	if def, ok := g.nodes[nodeID]; ok {
		return def.Policy
	}
	return g.defaultPolicy
}
