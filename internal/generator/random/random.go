package random

import (
	"maps"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/appfacterp/log-shipper/pkg/model"
)

// Property names every generated event carries.
const (
	ServiceKey = "Service"
	TraceIDKey = "TraceId"
)

type ServiceConfig struct {
	// Messages are message templates per level; {Name} placeholders are
	// filled from the event properties.
	Messages     map[model.LogLevel][]string `yaml:"messages"`
	StaticFields map[string]any              `yaml:"static_fields"`
}

type GeneratorConfig struct {
	Weights        map[model.LogLevel]int   `yaml:"weights"`
	Services       []string                 `yaml:"services"`
	ServiceConfig  map[string]ServiceConfig `yaml:"service_profiles"`
	GlobalMetadata map[string]any           `yaml:"global_metadata"`
}

type RandomGenerator struct {
	mu             sync.RWMutex
	weights        []levelWeight
	services       []string
	serviceConfig  map[string]ServiceConfig
	globalMetadata map[string]any
}

type levelWeight struct {
	level  model.LogLevel
	weight int
}

func NewRandomGenerator(cfg GeneratorConfig) *RandomGenerator {
	services := cfg.Services
	if len(services) == 0 {
		services = []string{"unknown"}
	}
	return &RandomGenerator{
		weights:        sortedWeights(cfg.Weights),
		services:       services,
		serviceConfig:  cfg.ServiceConfig,
		globalMetadata: cfg.GlobalMetadata,
	}
}

func (rg *RandomGenerator) SetWeights(weights map[model.LogLevel]int) {
	sorted := sortedWeights(weights)
	rg.mu.Lock()
	defer rg.mu.Unlock()
	rg.weights = sorted
}

// sortedWeights drops non-positive weights and fixes the iteration order so
// a given random pick always maps to the same level.
func sortedWeights(weights map[model.LogLevel]int) []levelWeight {
	out := make([]levelWeight, 0, len(weights))
	for level, w := range weights {
		if w > 0 {
			out = append(out, levelWeight{level: model.ParseLevel(string(level)), weight: w})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].level < out[j].level })
	return out
}

func (rg *RandomGenerator) pickLevel() model.LogLevel {
	rg.mu.RLock()
	defer rg.mu.RUnlock()

	sum := 0
	for _, lw := range rg.weights {
		sum += lw.weight
	}
	if sum == 0 {
		return model.INFO
	}

	randomPick := rand.Intn(sum)
	currentSum := 0
	for _, lw := range rg.weights {
		currentSum += lw.weight
		if randomPick < currentSum {
			return lw.level
		}
	}
	return model.INFO
}

func (rg *RandomGenerator) pickTemplate(service string, level model.LogLevel) string {
	if config, ok := rg.serviceConfig[service]; ok {
		if messages, ok := config.Messages[level]; ok && len(messages) > 0 {
			return messages[rand.Intn(len(messages))]
		}
	}
	return "Default {Level} message for {Service}"
}

func (rg *RandomGenerator) pickProperties(service string, level model.LogLevel) map[string]any {
	props := make(map[string]any, len(rg.globalMetadata)+4)
	maps.Copy(props, rg.globalMetadata)
	if profile, ok := rg.serviceConfig[service]; ok {
		maps.Copy(props, profile.StaticFields)
	}
	props[ServiceKey] = service
	props[TraceIDKey] = uuid.NewString()
	props["Level"] = string(level)
	props[model.EventIDKey] = uuid.NewString()
	return props
}

func (rg *RandomGenerator) Generate() model.LogEvent {
	level := rg.pickLevel()
	service := rg.services[rand.Intn(len(rg.services))]

	return model.LogEvent{
		Timestamp:  time.Now(),
		Level:      level,
		Template:   rg.pickTemplate(service, level),
		Properties: rg.pickProperties(service, level),
	}
}
