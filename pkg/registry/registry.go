// Package registry maps action types to the factories that build them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"slices"
	"strings"
	"sync"

	"github.com/barkbase/automation/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrActionNotRegistered is returned for a step naming an unknown action type.
	ErrActionNotRegistered = errors.New("action type not registered")
	// ErrInvalidActionConfig is returned when step configuration fails the action's schema.
	ErrInvalidActionConfig = errors.New("invalid action configuration")
)

type Registry struct {
	logger          *slog.Logger
	mu              sync.RWMutex
	actionFactories map[string]protocol.ActionFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:          log,
		actionFactories: make(map[string]protocol.ActionFactory),
	}
}

// LoadActionPlugins opens every <pluginsPath>/actions/**/*.so and returns the
// ActionFactory each exports as the symbol "Action".
func (r *Registry) LoadActionPlugins(ctx context.Context, pluginsPath string) ([]protocol.ActionFactory, error) {
	return loadPlugin[protocol.ActionFactory](ctx, r.logger, pluginsPath, "Action")
}

func (r *Registry) RegisterAction(actionFactory protocol.ActionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.actionFactories[actionFactory.ID()] = actionFactory
}

// HasAction reports whether actionType is registered.
func (r *Registry) HasAction(actionType string) bool {
	_, ok := r.factory(actionType)

	return ok
}

// HealthCheck reports whether any action type is available.
func (r *Registry) HealthCheck() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.actionFactories) == 0 {
		return "No action types registered", false
	}

	return fmt.Sprintf("%d action types registered", len(r.actionFactories)), true
}

// ActionTypes lists registered action types in alphabetical order.
func (r *Registry) ActionTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.actionFactories))
	for actionType := range r.actionFactories {
		types = append(types, actionType)
	}

	slices.Sort(types)

	return types
}

func (r *Registry) CreateAction(ctx context.Context, actionType string, config map[string]any) (protocol.Action, error) {
	factory, ok := r.factory(actionType)
	if !ok {
		return nil, fmt.Errorf("action type '%s': %w", actionType, ErrActionNotRegistered)
	}

	return factory.Create(ctx, config)
}

// ValidateConfig checks step configuration against the action's JSON schema
// and returns one message per violation.
func (r *Registry) ValidateConfig(actionType string, config map[string]any) ([]string, error) {
	factory, ok := r.factory(actionType)
	if !ok {
		return nil, fmt.Errorf("action type '%s': %w", actionType, ErrActionNotRegistered)
	}

	schema := factory.Schema()
	if schema == nil {
		return nil, nil
	}

	return ValidateSchema(schema, config)
}

// ValidateSchema validates data against a JSON schema expressed as Go values.
func ValidateSchema(schema map[string]any, data map[string]any) ([]string, error) {
	if data == nil {
		data = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to validate against schema: %w", err)
	}

	if result.Valid() {
		return nil, nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}

	return violations, nil
}

func (r *Registry) factory(actionType string) (protocol.ActionFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.actionFactories[actionType]

	return factory, ok
}

func loadPlugin[T any](ctx context.Context, logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	if pluginsPath == "" {
		return nil, nil
	}

	rootPath := pluginsPath + "/" + strings.ToLower(symbolName) + "s"

	pluginPathList, err := fs.Glob(os.DirFS(rootPath), "**/*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", pluginsPath), slog.String("type", symbolName))
	l.InfoContext(ctx, "Loading plugins")

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("plugin %s does not export %s: %w", p, symbolName, err)
		}

		castV, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("plugin %s: symbol %s has unexpected type %T", p, symbolName, v)
		}

		pluginList = append(pluginList, castV)

		l.InfoContext(ctx, "Loaded plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
