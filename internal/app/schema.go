package app

import (
	"reflect"
	"sort"

	"github.com/invopop/jsonschema"
)

var amountType = reflect.TypeOf(Amount(""))

// requestTypes lists the documents accepted at the submission boundary.
var requestTypes = map[string]any{
	"receive_stock":      ReceiveStockRequest{},
	"create_usage":       CreateUsageRequest{},
	"edit_usage":         EditUsageRequest{},
	"transition_usage":   TransitionUsageRequest{},
	"create_mutation":    CreateMutationRequest{},
	"edit_mutation":      EditMutationRequest{},
	"preview_allocation": PreviewAllocationRequest{},
}

// RequestSchemaNames returns the names accepted by RequestSchema, sorted.
func RequestSchemaNames() []string {
	names := make([]string, 0, len(requestTypes))
	for name := range requestTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequestSchema returns the JSON Schema of a named request document.
// Decimal quantities are exchanged as strings.
func RequestSchema(name string) (*jsonschema.Schema, bool) {
	v, ok := requestTypes[name]
	if !ok {
		return nil, false
	}
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == amountType {
				return &jsonschema.Schema{
					Type:    "string",
					Pattern: `^-?[0-9]+(\.[0-9]+)?$`,
				}
			}
			return nil
		},
	}
	return reflector.Reflect(v), true
}
