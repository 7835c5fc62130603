package caption

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

type ModelType string

const (
	ModelLocal  ModelType = "local"
	ModelRemote ModelType = "remote"
)

// UnmarshalJSON maps the service's "api" type onto ModelRemote.
func (t *ModelType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local":
		*t = ModelLocal
	case "api", "remote":
		*t = ModelRemote
	default:
		*t = ModelType(s)
	}
	return nil
}

type ModelDescriptor struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	FullName       string    `json:"full_name,omitempty"`
	Provider       string    `json:"provider"`
	Type           ModelType `json:"type"`
	RequiresAPIKey bool      `json:"requires_api_key"`
	Description    string    `json:"description"`
}

// ModelRegistry is keyed by ID; exactly one entry is current.
type ModelRegistry struct {
	Models         []ModelDescriptor
	CurrentModelID string
}

func (r ModelRegistry) Lookup(id string) (ModelDescriptor, bool) {
	for _, m := range r.Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelDescriptor{}, false
}

func (r ModelRegistry) Current() (ModelDescriptor, bool) {
	if r.CurrentModelID == "" {
		return ModelDescriptor{}, false
	}
	return r.Lookup(r.CurrentModelID)
}

// Latency: ожидаемое время генерации для пользовательских подсказок.
type Latency struct {
	Typical time.Duration
	Label   string
}

var (
	latencyLocal   = Latency{Typical: 5 * time.Second, Label: "This usually takes less than 5 seconds"}
	latencyRemote  = Latency{Typical: 10 * time.Second, Label: "This can take up to 10 seconds"}
	latencyDefault = latencyLocal
)

var knownLatency = map[string]Latency{
	"blip":   latencyLocal,
	"gemini": latencyRemote,
}

// LatencyFor maps a model identifier to its latency expectation. Pure; unknown ids get
// the default copy.
func LatencyFor(modelID string) Latency {
	if l, ok := knownLatency[strings.ToLower(strings.TrimSpace(modelID))]; ok {
		return l
	}
	return latencyDefault
}

func latencyForType(t ModelType) Latency {
	if t == ModelRemote {
		return latencyRemote
	}
	return latencyLocal
}

// RegistryFetcher is satisfied by *Client.
type RegistryFetcher interface {
	FetchModelRegistry(ctx context.Context) (ModelRegistry, error)
}

// ModelCache holds the last fetched registry in memory. Views call Refresh when they open.
type ModelCache struct {
	src RegistryFetcher

	mu        sync.RWMutex
	registry  ModelRegistry
	fetchedAt time.Time
}

func NewModelCache(src RegistryFetcher) *ModelCache {
	return &ModelCache{src: src}
}

// Refresh replaces the cached registry. On failure the previous registry stays in place.
func (c *ModelCache) Refresh(ctx context.Context) (ModelRegistry, error) {
	reg, err := c.src.FetchModelRegistry(ctx)
	if err != nil {
		return ModelRegistry{}, err
	}
	c.mu.Lock()
	c.registry = reg
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return reg, nil
}

func (c *ModelCache) Registry() ModelRegistry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry
}

func (c *ModelCache) CurrentModelID() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry.CurrentModelID, c.registry.CurrentModelID != ""
}

func (c *ModelCache) Current() (ModelDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry.Current()
}

func (c *ModelCache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

// Latency returns the expectation for the current model. Ids missing from the known table
// fall back to the registry's model type.
func (c *ModelCache) Latency() Latency {
	c.mu.RLock()
	reg := c.registry
	c.mu.RUnlock()

	id := strings.ToLower(reg.CurrentModelID)
	if l, ok := knownLatency[id]; ok {
		return l
	}
	if m, ok := reg.Current(); ok {
		return latencyForType(m.Type)
	}
	return latencyDefault
}
