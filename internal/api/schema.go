package api

import (
	"fmt"
	"strings"

	js "github.com/santhosh-tekuri/jsonschema/v5"
)

// Request body schemas, compiled once at startup. Validation happens before
// any payload reaches the service so malformed input never consumes an
// instance slot.
var schemaSources = map[string]string{
	"imagine": `{
		"type": "object",
		"required": ["prompt"],
		"properties": {
			"prompt": {"type": "string", "minLength": 1},
			"base64Array": {"type": "array", "items": {"type": "string"}, "maxItems": 5},
			"botType": {"type": "string", "enum": ["MID_JOURNEY", "NIJI_JOURNEY"]},
			"state": {"type": "string"},
			"accountFilter": {"type": "object"}
		}
	}`,
	"show": `{
		"type": "object",
		"required": ["jobId"],
		"properties": {
			"jobId": {"type": "string", "minLength": 1},
			"botType": {"type": "string", "enum": ["MID_JOURNEY", "NIJI_JOURNEY"]}
		}
	}`,
	"change": `{
		"type": "object",
		"required": ["taskId", "action"],
		"properties": {
			"taskId": {"type": "string", "minLength": 1},
			"action": {"type": "string", "enum": ["UPSCALE", "VARIATION", "REROLL"]},
			"index": {"type": "integer", "minimum": 1, "maximum": 4}
		}
	}`,
	"describe": `{
		"type": "object",
		"properties": {
			"base64": {"type": "string"},
			"link": {"type": "string"},
			"botType": {"type": "string", "enum": ["MID_JOURNEY", "NIJI_JOURNEY"]}
		},
		"anyOf": [
			{"required": ["base64"]},
			{"required": ["link"]}
		]
	}`,
	"shorten": `{
		"type": "object",
		"required": ["prompt"],
		"properties": {
			"prompt": {"type": "string", "minLength": 1}
		}
	}`,
	"blend": `{
		"type": "object",
		"required": ["base64Array"],
		"properties": {
			"base64Array": {"type": "array", "items": {"type": "string"}, "minItems": 2, "maxItems": 5},
			"dimensions": {"type": "string", "enum": ["PORTRAIT", "SQUARE", "LANDSCAPE"]}
		}
	}`,
	"action": `{
		"type": "object",
		"required": ["taskId", "customId"],
		"properties": {
			"taskId": {"type": "string", "minLength": 1},
			"customId": {"type": "string", "minLength": 1}
		}
	}`,
	"modal": `{
		"type": "object",
		"required": ["taskId"],
		"properties": {
			"taskId": {"type": "string", "minLength": 1},
			"prompt": {"type": "string"},
			"maskBase64": {"type": "string"}
		}
	}`,
	"video-extend": `{
		"type": "object",
		"required": ["taskId", "index"],
		"properties": {
			"taskId": {"type": "string", "minLength": 1},
			"index": {"type": "integer", "minimum": 1, "maximum": 4},
			"motion": {"type": "string", "enum": ["low", "high"]},
			"prompt": {"type": "string"}
		}
	}`,
}

// Validator holds the compiled request schemas.
type Validator struct {
	compiled map[string]*js.Schema
}

// NewValidator compiles every schema; a bad schema is a programming error
// surfaced at startup.
func NewValidator() (*Validator, error) {
	c := js.NewCompiler()
	compiled := make(map[string]*js.Schema, len(schemaSources))
	for name, src := range schemaSources {
		url := fmt.Sprintf("mem://schema/%s.json", name)
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
		s, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		compiled[name] = s
	}
	return &Validator{compiled: compiled}, nil
}

// Validate checks a decoded payload against the named schema.
func (v *Validator) Validate(name string, value interface{}) error {
	s, ok := v.compiled[name]
	if !ok {
		return fmt.Errorf("unknown schema %s", name)
	}
	if err := s.Validate(value); err != nil {
		return fmt.Errorf("payload validation: %w", err)
	}
	return nil
}
