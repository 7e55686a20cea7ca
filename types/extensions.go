package types

// ResourceServerExtension contributes a keyed entry to the extensions
// block of a payment challenge, optionally enriched with transport
// context (e.g. the incoming HTTP request).
type ResourceServerExtension interface {
	Key() string
	EnrichDeclaration(declaration interface{}, transportContext interface{}) interface{}
}
