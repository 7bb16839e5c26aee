package schemagen

import "github.com/invopop/jsonschema"

// OneOfSchema builds a JSON schema for a set of mutually exclusive
// alternatives, such as the kinds of downstream publisher, where exactly one
// option is configured. The chosen alternative is named by the discriminator
// property, whose value is fixed within each alternative.
func OneOfSchema(title, description, discriminator, default_ string, inputs ...oneOfSubSchema) *jsonschema.Schema {
	var oneOfs []*jsonschema.Schema

	for _, input := range inputs {
		var alt = GenerateSchema(input.title, input.configObj)
		if alt.Properties == nil {
			alt.Properties = jsonschema.NewProperties()
		}
		alt.Properties.Set(discriminator, &jsonschema.Schema{
			Type:    "string",
			Default: input.default_,
			Const:   input.default_,
			Extras:  map[string]any{"order": 0},
		})
		alt.Properties.MoveToFront(discriminator)
		oneOfs = append(oneOfs, alt)
	}

	return &jsonschema.Schema{
		Title:       title,
		Description: description,
		Default:     map[string]string{discriminator: default_},
		OneOf:       oneOfs,
		Extras: map[string]any{
			"discriminator": map[string]string{"propertyName": discriminator},
		},
		Type: "object",
	}
}

// OneOfSubSchema builds a subschema to be included in a OneOfSchema.
func OneOfSubSchema(title string, configObj any, default_ string) oneOfSubSchema {
	return oneOfSubSchema{title: title, configObj: configObj, default_: default_}
}

type oneOfSubSchema struct {
	title     string
	configObj any
	default_  string
}
