// Package config loads agent specs (graphs, entry points, tool bindings)
// from YAML, mirroring the shape of the teacher's pkg/config package
// (types.go/loader.go/defaults.go/validator.go split) but over this
// engine's graph data model instead of TARSy's alert-chain one.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pajohmail/aden-hive/pkg/graph"
)

// validate is a single, reused validator instance, matching the
// teacher's own pkg/config/validator.go (one package-level *validator.Validate,
// not one per call).
var validate = validator.New(validator.WithRequiredStructEnabled())

// OutputKeySpec is one of a node's declared output keys (spec.md §3).
type OutputKeySpec struct {
	Key      string `yaml:"key" validate:"required"`
	Nullable bool   `yaml:"nullable"`
}

// NodeSpec is the YAML shape of one graph.NodeSpec.
type NodeSpec struct {
	ID              string          `yaml:"id" validate:"required"`
	Type            string          `yaml:"type" validate:"required,oneof=event_loop function"`
	InputKeys       []string        `yaml:"input_keys"`
	OutputKeys      []OutputKeySpec `yaml:"output_keys" validate:"dive"`
	PermittedTools  []string        `yaml:"permitted_tools"`
	MaxRetries      int             `yaml:"max_retries" validate:"gte=0"`
	NodeRetryBudget int             `yaml:"node_retry_budget" validate:"gte=0"`
	MaxIterations   int             `yaml:"max_iterations" validate:"gte=0"`
	MaxNodeVisits   int             `yaml:"max_node_visits" validate:"gte=0"`
	SuccessCriteria string          `yaml:"success_criteria"`
	SystemPrompt    string          `yaml:"system_prompt"`
	ClientFacing    bool            `yaml:"client_facing"`
}

// EdgeSpec is the YAML shape of one graph.EdgeSpec.
type EdgeSpec struct {
	Source       string `yaml:"source" validate:"required"`
	Target       string `yaml:"target" validate:"required"`
	Condition    string `yaml:"condition" validate:"required,oneof=always on_success on_failure conditional router"`
	Priority     int    `yaml:"priority"`
	PredicateKey string `yaml:"predicate_key"`
	Negate       bool   `yaml:"negate"`
}

// EntryPointSpec is the YAML shape of one graph.EntryPointSpec.
type EntryPointSpec struct {
	ID            string         `yaml:"id" validate:"required"`
	Trigger       string         `yaml:"trigger" validate:"required,oneof=manual webhook timer event"`
	RoutingConfig map[string]any `yaml:"routing_config"`
	TargetNode    string         `yaml:"target_node" validate:"required"`
}

// AgentSpec is the top-level YAML document loaded by Load: one worker
// agent's graph definition (spec.md §3, §4.7 load_worker).
type AgentSpec struct {
	ID          string           `yaml:"id" validate:"required"`
	Model       string           `yaml:"model"`
	EntryNode   string           `yaml:"entry_node" validate:"required"`
	Nodes       []NodeSpec       `yaml:"nodes" validate:"required,min=1,dive"`
	Edges       []EdgeSpec       `yaml:"edges" validate:"dive"`
	EntryPoints []EntryPointSpec `yaml:"entry_points" validate:"dive"`
}

// Load reads and validates the agent spec at path, then builds a
// graph.Graph from it. Returns a *graph.ConfigError (wrapped) if the
// resulting graph is structurally invalid (spec.md §7 ConfigError).
func Load(path string) (*AgentSpec, *graph.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading agent spec %s: %w", path, err)
	}

	var spec AgentSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, nil, fmt.Errorf("parsing agent spec %s: %w", path, err)
	}

	if err := validate.Struct(spec); err != nil {
		return nil, nil, fmt.Errorf("invalid agent spec %s: %w", path, err)
	}

	g, err := spec.toGraph()
	if err != nil {
		return nil, nil, err
	}
	return &spec, g, nil
}

func (spec AgentSpec) toGraph() (*graph.Graph, error) {
	nodes := make([]graph.NodeSpec, len(spec.Nodes))
	for i, n := range spec.Nodes {
		keys := make([]graph.OutputKey, len(n.OutputKeys))
		for j, k := range n.OutputKeys {
			keys[j] = graph.OutputKey{Key: k.Key, Nullable: k.Nullable}
		}
		nodes[i] = graph.NodeSpec{
			ID:              n.ID,
			Type:            graph.NodeType(n.Type),
			InputKeys:       n.InputKeys,
			OutputKeys:      keys,
			PermittedTools:  n.PermittedTools,
			MaxRetries:      n.MaxRetries,
			NodeRetryBudget: n.NodeRetryBudget,
			MaxIterations:   n.MaxIterations,
			MaxNodeVisits:   n.MaxNodeVisits,
			SuccessCriteria: n.SuccessCriteria,
			SystemPrompt:    n.SystemPrompt,
			ClientFacing:    n.ClientFacing,
		}
	}

	edges := make([]graph.EdgeSpec, len(spec.Edges))
	for i, e := range spec.Edges {
		edges[i] = graph.EdgeSpec{
			Source:       e.Source,
			Target:       e.Target,
			Condition:    graph.EdgeCondition(e.Condition),
			Priority:     e.Priority,
			PredicateKey: e.PredicateKey,
			Negate:       e.Negate,
		}
	}

	entryPoints := make([]graph.EntryPointSpec, len(spec.EntryPoints))
	for i, ep := range spec.EntryPoints {
		entryPoints[i] = graph.EntryPointSpec{
			ID:            ep.ID,
			Trigger:       graph.TriggerSource(ep.Trigger),
			RoutingConfig: ep.RoutingConfig,
			TargetNode:    ep.TargetNode,
		}
	}

	return graph.New(graph.Graph{
		ID:          spec.ID,
		Nodes:       nodes,
		Edges:       edges,
		EntryNode:   spec.EntryNode,
		EntryPoints: entryPoints,
	})
}
