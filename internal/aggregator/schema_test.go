package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeInputSchemaMissing(t *testing.T) {
	out := NormalizeInputSchema(nil)
	assert.Equal(t, "object", out["type"])
	assert.Empty(t, out["properties"])
}

func TestNormalizeInputSchemaWrapsNonObjectWithProperties(t *testing.T) {
	in := map[string]interface{}{
		"type": "string",
		"properties": map[string]interface{}{
			"q": map[string]interface{}{"type": "string"},
		},
	}
	out := NormalizeInputSchema(in)
	assert.Equal(t, "object", out["type"])
	props := out["properties"].(map[string]interface{})
	assert.Contains(t, props, "q")
}

func TestNormalizeInputSchemaNonObjectWithoutProperties(t *testing.T) {
	out := NormalizeInputSchema(map[string]interface{}{"type": "array"})
	assert.Equal(t, "object", out["type"])
	assert.Empty(t, out["properties"])
}

func TestNormalizeInputSchemaCoercesUntypedProperty(t *testing.T) {
	in := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"untyped": map[string]interface{}{"description": "something"},
			"typed":   map[string]interface{}{"type": "number"},
		},
	}
	out := NormalizeInputSchema(in)
	props := out["properties"].(map[string]interface{})

	untyped := props["untyped"].(map[string]interface{})
	assert.Equal(t, "string", untyped["type"])
	assert.Equal(t, "something", untyped["description"], "existing fields are kept")

	typed := props["typed"].(map[string]interface{})
	assert.Equal(t, "number", typed["type"])
}

func TestNormalizeInputSchemaReplacesMalformedProperty(t *testing.T) {
	in := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"broken": "not a schema",
		},
	}
	out := NormalizeInputSchema(in)
	props := out["properties"].(map[string]interface{})

	broken := props["broken"].(map[string]interface{})
	assert.Equal(t, "string", broken["type"])
	assert.Equal(t, "Malformed schema for broken", broken["description"])
}

func TestNormalizeInputSchemaKeepsExtraKeywords(t *testing.T) {
	in := map[string]interface{}{
		"type":       "object",
		"required":   []interface{}{"q"},
		"properties": map[string]interface{}{"q": map[string]interface{}{"type": "string"}},
	}
	out := NormalizeInputSchema(in)
	assert.Equal(t, []interface{}{"q"}, out["required"])
}

func TestNormalizeInputSchemaDoesNotMutateInput(t *testing.T) {
	in := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"untyped": map[string]interface{}{"description": "x"},
		},
	}
	_ = NormalizeInputSchema(in)

	require.NotContains(t, in["properties"].(map[string]interface{})["untyped"], "type")
}
