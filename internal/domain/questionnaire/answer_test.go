package questionnaire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnswer_UnmarshalShapes(t *testing.T) {
	var a Answers
	require.NoError(t, json.Unmarshal([]byte(`{
		"name": "Ada",
		"symptoms": ["nausea", "headache"],
		"weight": 154,
		"smoker": false,
		"skipped": null
	}`), &a))

	assert.Equal(t, Text("Ada"), a["name"])
	assert.Equal(t, Choices("nausea", "headache"), a["symptoms"])
	assert.Equal(t, "154", a.Text("weight"))
	assert.Equal(t, "false", a.Text("smoker"))
	assert.True(t, a["skipped"].IsEmpty())
	assert.Equal(t, "", a.Text("missing"))
}

func TestAnswer_Marshal(t *testing.T) {
	b, err := json.Marshal(Answers{"a": Text("x"), "b": Choices("1", "2"), "c": Choices()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"x","b":["1","2"],"c":[]}`, string(b))
}

func TestAnswer_Empty(t *testing.T) {
	assert.True(t, Text("  ").IsEmpty())
	assert.True(t, Choices().IsEmpty())
	assert.False(t, Choices("").IsEmpty())
	assert.False(t, Text("x").IsEmpty())
}
