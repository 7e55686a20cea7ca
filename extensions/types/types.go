// Package types holds the wire shapes of the Bazaar discovery
// extension, which lets a resource server describe how to call a paid
// endpoint (method, inputs, output) inside its payment challenges.
package types

import (
	"encoding/json"
)

// BAZAAR is the extension key under which discovery info travels
const BAZAAR = "bazaar"

// QueryParamMethods are the HTTP methods whose inputs ride in the query string
type QueryParamMethods string

const (
	MethodGET    QueryParamMethods = "GET"
	MethodHEAD   QueryParamMethods = "HEAD"
	MethodDELETE QueryParamMethods = "DELETE"
)

// BodyMethods are the HTTP methods whose inputs ride in the request body
type BodyMethods string

const (
	MethodPOST  BodyMethods = "POST"
	MethodPUT   BodyMethods = "PUT"
	MethodPATCH BodyMethods = "PATCH"
)

// BodyType declares how a request body is encoded
type BodyType string

const (
	BodyTypeJSON     BodyType = "json"
	BodyTypeFormData BodyType = "form-data"
	BodyTypeText     BodyType = "text"
)

// QueryInput describes the request shape for a query-parameter endpoint
type QueryInput struct {
	Type        string                 `json:"type"` // "http"
	Method      QueryParamMethods      `json:"method"`
	QueryParams map[string]interface{} `json:"queryParams,omitempty"`
	Headers     map[string]string      `json:"headers,omitempty"`
}

// QueryDiscoveryInfo pairs a query input with its optional output description
type QueryDiscoveryInfo struct {
	Input  QueryInput  `json:"input"`
	Output *OutputInfo `json:"output,omitempty"`
}

// BodyInput describes the request shape for a body-carrying endpoint
type BodyInput struct {
	Type        string                 `json:"type"` // "http"
	Method      BodyMethods            `json:"method"`
	BodyType    BodyType               `json:"bodyType"`
	Body        interface{}            `json:"body"`
	QueryParams map[string]interface{} `json:"queryParams,omitempty"`
	Headers     map[string]string      `json:"headers,omitempty"`
}

// BodyDiscoveryInfo pairs a body input with its optional output description
type BodyDiscoveryInfo struct {
	Input  BodyInput   `json:"input"`
	Output *OutputInfo `json:"output,omitempty"`
}

// OutputInfo describes what a successful call returns
type OutputInfo struct {
	Type    string      `json:"type,omitempty"`   // e.g. "json"
	Format  string      `json:"format,omitempty"` // e.g. "application/json"
	Example interface{} `json:"example,omitempty"`
}

// DiscoveryInfo holds either a QueryInput or a BodyInput; the variant
// is resolved at decode time.
type DiscoveryInfo struct {
	Input  interface{} `json:"input"`
	Output *OutputInfo `json:"output,omitempty"`
}

// UnmarshalJSON picks the input variant: a bodyType field marks a
// BodyInput, everything else decodes as a QueryInput.
func (d *DiscoveryInfo) UnmarshalJSON(data []byte) error {
	var raw struct {
		Input  json.RawMessage `json:"input"`
		Output *OutputInfo     `json:"output,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var probe struct {
		BodyType *string `json:"bodyType"`
	}
	_ = json.Unmarshal(raw.Input, &probe) // probing for the field only

	if probe.BodyType != nil {
		var bodyInput BodyInput
		if err := json.Unmarshal(raw.Input, &bodyInput); err != nil {
			return err
		}
		d.Input = bodyInput
	} else {
		var queryInput QueryInput
		if err := json.Unmarshal(raw.Input, &queryInput); err != nil {
			return err
		}
		d.Input = queryInput
	}

	d.Output = raw.Output
	return nil
}

// JSONSchema is a JSON Schema document
type JSONSchema map[string]interface{}

// QueryDiscoveryExtension is a declared query endpoint with its input schema
type QueryDiscoveryExtension struct {
	Info   QueryDiscoveryInfo `json:"info"`
	Schema JSONSchema         `json:"schema"`
}

// BodyDiscoveryExtension is a declared body endpoint with its input schema
type BodyDiscoveryExtension struct {
	Info   BodyDiscoveryInfo `json:"info"`
	Schema JSONSchema        `json:"schema"`
}

// DiscoveryExtension is the decoded form covering both variants
type DiscoveryExtension struct {
	Info   DiscoveryInfo `json:"info"`
	Schema JSONSchema    `json:"schema"`
}

// DeclareQueryDiscoveryConfig configures a query-endpoint declaration
type DeclareQueryDiscoveryConfig struct {
	Method      QueryParamMethods
	Input       map[string]interface{} // example input
	InputSchema JSONSchema
	Output      *OutputConfig
}

// DeclareBodyDiscoveryConfig configures a body-endpoint declaration
type DeclareBodyDiscoveryConfig struct {
	Method      BodyMethods
	Input       interface{} // example input
	InputSchema JSONSchema
	BodyType    BodyType
	Output      *OutputConfig
}

// OutputConfig is the declared output example plus its schema
type OutputConfig struct {
	Example interface{}
	Schema  JSONSchema
}

// IsQueryMethod reports whether the method carries inputs in the query string
func IsQueryMethod(method string) bool {
	switch QueryParamMethods(method) {
	case MethodGET, MethodHEAD, MethodDELETE:
		return true
	}
	return false
}

// IsBodyMethod reports whether the method carries inputs in the body
func IsBodyMethod(method string) bool {
	switch BodyMethods(method) {
	case MethodPOST, MethodPUT, MethodPATCH:
		return true
	}
	return false
}
