package types

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateDiscoveryExtension checks a discovery declaration before it
// is published to a catalog: the declared input schema must be a
// well-formed JSON Schema document, and when the declaration carries an
// example input, the example must satisfy that schema.
func ValidateDiscoveryExtension(ext DiscoveryExtension) error {
	if ext.Schema == nil {
		return nil
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(map[string]interface{}(ext.Schema)))
	if err != nil {
		return fmt.Errorf("invalid input schema: %w", err)
	}

	example := exampleInput(ext.Info)
	if example == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(example))
	if err != nil {
		return fmt.Errorf("failed to validate example input: %w", err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, resultError := range result.Errors() {
			details = append(details, resultError.String())
		}
		return fmt.Errorf("example input does not satisfy the declared schema: %s", strings.Join(details, "; "))
	}
	return nil
}

// exampleInput pulls the example payload out of whichever input variant
// the declaration holds.
func exampleInput(info DiscoveryInfo) interface{} {
	switch input := info.Input.(type) {
	case QueryInput:
		if len(input.QueryParams) == 0 {
			return nil
		}
		return input.QueryParams
	case BodyInput:
		return input.Body
	default:
		return nil
	}
}
