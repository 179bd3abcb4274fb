package config

import "github.com/invopop/jsonschema"

// Schema describes settings.json for editors and validation. Every field is
// optional since missing values fall back to the defaults.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
	}
	schema := reflector.Reflect(new(Settings))
	schema.Title = "Worldbuilder Settings"
	schema.Description = "Simulation, engine and server settings read by worldbuilder at startup"
	return schema
}
