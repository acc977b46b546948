// Package registry manages the catalog of specialized agents and the
// intent → agent resolution used by the orchestrator.
//
// Agents can be declared in an agents.yaml file; the built-in set covers the
// structured-extraction and adaptive-retrieval agents.
package registry

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/neurofetch/neurofetch-go/internal/agents"
)

// AgentSpec declares a single agent (from agents.yaml or built-in).
type AgentSpec struct {
	ID           string   `yaml:"id" json:"id"`
	Kind         string   `yaml:"kind" json:"kind"`
	Description  string   `yaml:"description,omitempty" json:"description,omitempty"`
	Capabilities []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Intents      []string `yaml:"intents,omitempty" json:"intents,omitempty"`
	IsDefault    bool     `yaml:"is_default,omitempty" json:"isDefault,omitempty"`
}

// agentsFile is the top-level structure of agents.yaml.
type agentsFile struct {
	Agents []AgentSpec `yaml:"agents"`
}

// LoadAgentSpecs reads and parses an agents.yaml file. A missing file is not
// an error; the built-in catalog applies.
func LoadAgentSpecs(path string) ([]AgentSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read agents.yaml: %w", err)
	}

	var f agentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse agents.yaml: %w", err)
	}
	return f.Agents, nil
}

// Registry holds registered agents and their intent bindings.
type Registry struct {
	mu        sync.RWMutex
	agents    map[string]agents.Agent
	specs     map[string]AgentSpec
	byIntent  map[string]string
	defaultID string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		agents:   make(map[string]agents.Agent),
		specs:    make(map[string]AgentSpec),
		byIntent: make(map[string]string),
	}
}

// Register binds an agent to its spec. Re-registering an ID overwrites.
func (r *Registry) Register(spec AgentSpec, agent agents.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if spec.ID == "" {
		spec.ID = agent.ID()
	}
	if spec.Kind == "" {
		spec.Kind = agent.Kind()
	}
	if len(spec.Capabilities) == 0 {
		spec.Capabilities = agent.Capabilities()
	}

	r.agents[spec.ID] = agent
	r.specs[spec.ID] = spec
	for _, intent := range spec.Intents {
		r.byIntent[intent] = spec.ID
	}
	if spec.IsDefault {
		r.defaultID = spec.ID
	}
}

// Get returns the agent with the given ID, or nil.
func (r *Registry) Get(id string) agents.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[id]
}

// Resolve maps an intent label to its bound agent, falling back to the
// default agent. Implements the orchestrator's AgentResolver.
func (r *Registry) Resolve(intent string) agents.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id, ok := r.byIntent[intent]; ok {
		return r.agents[id]
	}
	if r.defaultID != "" {
		return r.agents[r.defaultID]
	}
	for _, a := range r.agents {
		return a
	}
	return nil
}

// List returns the specs of all registered agents.
func (r *Registry) List() []AgentSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentSpec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	return out
}
