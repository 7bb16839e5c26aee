package schemagen

import (
	"reflect"
	"strconv"

	"github.com/invopop/jsonschema"
)

// GenerateSchema reflects the JSON schema of a configuration object. The
// schema is fully expanded, with no $ref indirection, so that it can be read
// directly by operators or by form generators.
func GenerateSchema(title string, configObject any) *jsonschema.Schema {
	var reflector = jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	var schema = reflector.ReflectFromType(reflect.TypeOf(configObject))
	schema.AdditionalProperties = nil // Unset means additional properties are permitted on the root object
	schema.Definitions = nil          // Since no references are used, these definitions are just noise
	schema.Version = ""
	schema.Title = title
	walkSchema(
		schema,
		fixSchemaFlagBools("secret", "advanced", "multiline"),
		fixSchemaOrderingStrings,
	)

	return schema
}

// walkSchema invokes visit on every property of the root schema, and then traverses each of these
// sub-schemas recursively, including the alternatives of a oneOf. The visit function should modify
// the provided schema in-place to accomplish the desired transformation.
func walkSchema(root *jsonschema.Schema, visits ...func(t *jsonschema.Schema)) {
	if root.Properties != nil {
		for pair := root.Properties.Oldest(); pair != nil; pair = pair.Next() {
			for _, visit := range visits {
				visit(pair.Value)
			}

			walkSchema(pair.Value, visits...)
		}
	}
	for _, alt := range root.OneOf {
		walkSchema(alt, visits...)
	}
	if root.Items != nil {
		walkSchema(root.Items, visits...)
	}
}

// fixSchemaFlagBools converts the string values "true" and "false" of the
// named extras into booleans. Struct tags can only carry strings.
func fixSchemaFlagBools(flagKeys ...string) func(t *jsonschema.Schema) {
	return func(t *jsonschema.Schema) {
		for key, val := range t.Extras {
			for _, flag := range flagKeys {
				if key != flag {
					continue
				} else if val == "true" {
					t.Extras[key] = true
				} else if val == "false" {
					t.Extras[key] = false
				}
			}
		}
	}
}

func fixSchemaOrderingStrings(t *jsonschema.Schema) {
	for key, val := range t.Extras {
		if key == "order" {
			if str, ok := val.(string); ok {
				converted, err := strconv.Atoi(str)
				if err != nil {
					// Don't try to convert strings that don't look like integers.
					continue
				}
				t.Extras[key] = converted
			}
		}
	}
}
