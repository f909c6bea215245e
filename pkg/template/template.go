// Package template renders {{ }} placeholders in step configuration against run data.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/barkbase/automation/pkg/models"
)

// RenderWithContext renders input against the run's template data.
func RenderWithContext(input string, run *models.Run) (any, error) {
	return Render(input, run.Context.TemplateData(run))
}

// NeedsTemplating reports whether input contains a placeholder.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}

// RenderConfig returns a copy of config with every placeholder-bearing string,
// at any depth, replaced by its rendered value.
func RenderConfig(config map[string]any, data any) (map[string]any, error) {
	rendered, err := renderValue(config, data)
	if err != nil {
		return nil, err
	}

	out, _ := rendered.(map[string]any)

	return out, nil
}

func renderValue(value any, data any) (any, error) {
	switch v := value.(type) {
	case string:
		if !NeedsTemplating(v) {
			return v, nil
		}

		return Render(v, data)
	case map[string]any:
		if v == nil {
			return map[string]any(nil), nil
		}

		out := make(map[string]any, len(v))

		for key, item := range v {
			rendered, err := renderValue(item, data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}

			out[key] = rendered
		}

		return out, nil
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			rendered, err := renderValue(item, data)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}

			out[i] = rendered
		}

		return out, nil
	default:
		return value, nil
	}
}

// Render executes templateStr and coerces the output: JSON objects and arrays
// are decoded, numbers become float64 and booleans bool. Anything else stays a
// string.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("render").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}

				num := make([]byte, 1)

				_, err := rand.Read(num)
				if err != nil {
					return 0
				}

				return int(num[0]) % max
			},
			"json": func(v any) (string, error) {
				data, err := json.Marshal(v)

				return string(data), err
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}
