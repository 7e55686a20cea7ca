package types

import (
	"strings"
	"testing"
)

func querySchema() JSONSchema {
	return JSONSchema{
		"type": "object",
		"properties": map[string]interface{}{
			"city": map[string]interface{}{"type": "string"},
		},
		"required": []interface{}{"city"},
	}
}

func TestValidateDiscoveryExtension(t *testing.T) {
	t.Run("accepts an example matching its schema", func(t *testing.T) {
		ext := DiscoveryExtension{
			Info: DiscoveryInfo{
				Input: QueryInput{
					Type:        "http",
					Method:      MethodGET,
					QueryParams: map[string]interface{}{"city": "Lisbon"},
				},
			},
			Schema: querySchema(),
		}
		if err := ValidateDiscoveryExtension(ext); err != nil {
			t.Fatalf("ValidateDiscoveryExtension: %v", err)
		}
	})

	t.Run("rejects an example contradicting its schema", func(t *testing.T) {
		ext := DiscoveryExtension{
			Info: DiscoveryInfo{
				Input: QueryInput{
					Type:        "http",
					Method:      MethodGET,
					QueryParams: map[string]interface{}{"city": 42},
				},
			},
			Schema: querySchema(),
		}
		err := ValidateDiscoveryExtension(ext)
		if err == nil {
			t.Fatal("expected a schema violation")
		}
		if !strings.Contains(err.Error(), "does not satisfy") {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("rejects a malformed schema document", func(t *testing.T) {
		ext := DiscoveryExtension{
			Info: DiscoveryInfo{
				Input: QueryInput{Type: "http", Method: MethodGET},
			},
			Schema: JSONSchema{"type": 12345},
		}
		if err := ValidateDiscoveryExtension(ext); err == nil {
			t.Fatal("expected schema compilation to fail")
		}
	})

	t.Run("validates a body declaration against its schema", func(t *testing.T) {
		ext := DiscoveryExtension{
			Info: DiscoveryInfo{
				Input: BodyInput{
					Type:     "http",
					Method:   MethodPOST,
					BodyType: BodyTypeJSON,
					Body:     map[string]interface{}{"query": true},
				},
			},
			Schema: JSONSchema{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{"type": "string"},
				},
			},
		}
		if err := ValidateDiscoveryExtension(ext); err == nil {
			t.Fatal("expected a schema violation for the body example")
		}
	})

	t.Run("declaration without a schema passes", func(t *testing.T) {
		ext := DiscoveryExtension{
			Info: DiscoveryInfo{
				Input: QueryInput{Type: "http", Method: MethodGET},
			},
		}
		if err := ValidateDiscoveryExtension(ext); err != nil {
			t.Fatalf("ValidateDiscoveryExtension: %v", err)
		}
	})
}
