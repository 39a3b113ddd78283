package server

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const requestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["featureCollection"],
  "properties": {
    "layer": {"type": "string", "minLength": 1},
    "featureCollection": {
      "type": "object",
      "required": ["type", "features"],
      "properties": {
        "type": {"const": "FeatureCollection"},
        "features": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["type", "geometry"],
            "properties": {
              "type": {"const": "Feature"},
              "geometry": {"type": ["object", "null"]},
              "properties": {"type": ["object", "null"]}
            }
          }
        }
      }
    },
    "minAngle": {"type": "number", "exclusiveMinimum": 0, "maximum": 180},
    "tolerance": {"type": "number", "minimum": 0},
    "method": {"type": "string"},
    "format": {"enum": ["geojson", "shapefile"]}
  },
  "additionalProperties": false
}`

// requestValidator checks request bodies against requestSchema.
type requestValidator struct {
	schema *gojsonschema.Schema
}

func newRequestValidator() (*requestValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(requestSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile request schema: %w", err)
	}
	return &requestValidator{schema: schema}, nil
}

func (v *requestValidator) Validate(body []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}
