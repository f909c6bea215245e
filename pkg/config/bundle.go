// Package config loads flow bundles: YAML files that seed a tenant's flows.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/barkbase/automation/pkg/models"
	"github.com/barkbase/automation/pkg/services"
	"gopkg.in/yaml.v3"
)

var ErrInvalidBundle = errors.New("invalid flow bundle")

// Bundle is the structure of a flow bundle file.
type Bundle struct {
	TenantID string       `json:"tenant_id"`
	Actor    string       `json:"actor"`
	Flows    []BundleFlow `json:"flows"`
}

// BundleFlow is one flow of a bundle. Publish asks for the draft to be
// published after it is created.
type BundleFlow struct {
	services.FlowInput

	Publish bool `json:"publish"`
}

// LoadBundle reads and parses a bundle file.
func LoadBundle(path string) (Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Bundle{}, fmt.Errorf("failed to read bundle file %s: %w", path, err)
	}

	return ParseBundle(data)
}

// ParseBundle parses a YAML bundle. Keys follow the JSON field names of the
// API so a flow can be copied between the two.
func ParseBundle(data []byte) (Bundle, error) {
	var raw any

	err := yaml.Unmarshal(data, &raw)
	if err != nil {
		return Bundle{}, fmt.Errorf("failed to parse YAML bundle: %w", err)
	}

	// yaml.v3 decodes mappings with string keys as map[string]any, which
	// encoding/json accepts.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return Bundle{}, fmt.Errorf("%w: %w", ErrInvalidBundle, err)
	}

	var bundle Bundle

	err = json.Unmarshal(encoded, &bundle)
	if err != nil {
		return Bundle{}, fmt.Errorf("%w: %w", ErrInvalidBundle, err)
	}

	return bundle, ValidateBundle(bundle)
}

// ValidateBundle checks the parts of a bundle the flow store does not.
func ValidateBundle(bundle Bundle) error {
	if bundle.TenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidBundle)
	}

	if len(bundle.Flows) == 0 {
		return fmt.Errorf("%w: at least one flow must be defined", ErrInvalidBundle)
	}

	for i, flow := range bundle.Flows {
		if flow.Name == "" {
			return fmt.Errorf("%w: flows[%d]: name is required", ErrInvalidBundle, i)
		}
	}

	return nil
}

// Import creates every flow of the bundle as a draft and publishes those
// marked for it. It stops at the first failure and returns the flows
// created so far.
func Import(ctx context.Context, flows *services.Flows, bundle Bundle) ([]*models.Flow, error) {
	imported := make([]*models.Flow, 0, len(bundle.Flows))

	for i, item := range bundle.Flows {
		flow, err := flows.CreateDraft(ctx, bundle.TenantID, bundle.Actor, item.FlowInput)
		if err != nil {
			return imported, fmt.Errorf("flows[%d] %q: %w", i, item.Name, err)
		}

		if item.Publish {
			flow, err = flows.Publish(ctx, bundle.TenantID, flow.ID, bundle.Actor)
			if err != nil {
				return imported, fmt.Errorf("flows[%d] %q: %w", i, item.Name, err)
			}
		}

		imported = append(imported, flow)
	}

	return imported, nil
}
