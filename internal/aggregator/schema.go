package aggregator

// emptyObjectSchema is the substitute for missing or unusable input schemas.
func emptyObjectSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

// NormalizeInputSchema rewrites a server-advertised input schema into a shape
// every MCP client accepts: a top-level object with per-property type
// information. The input is never mutated.
//
// Rules:
//   - A missing schema becomes an empty object schema.
//   - A non-object type with a properties map is wrapped into an object.
//   - Property values that are objects without a string type get type string;
//     property values that are not objects at all are replaced by a string
//     property noting the malformed schema.
func NormalizeInputSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return emptyObjectSchema()
	}

	typ, _ := schema["type"].(string)
	props, hasProps := schema["properties"].(map[string]interface{})

	if typ != "object" {
		if !hasProps {
			return emptyObjectSchema()
		}
		schema = map[string]interface{}{"type": "object", "properties": props}
	}

	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		out[k] = v
	}
	out["properties"] = normalizeProperties(props)
	return out
}

func normalizeProperties(props map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(props))
	for name, value := range props {
		prop, ok := value.(map[string]interface{})
		if !ok {
			out[name] = map[string]interface{}{
				"type":        "string",
				"description": "Malformed schema for " + name,
			}
			continue
		}
		if _, ok := prop["type"].(string); ok {
			out[name] = prop
			continue
		}
		fixed := make(map[string]interface{}, len(prop)+1)
		for k, v := range prop {
			fixed[k] = v
		}
		fixed["type"] = "string"
		out[name] = fixed
	}
	return out
}
