package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldTypeRoundTrip(t *testing.T) {
	for _, ft := range []FieldType{Text(), Number(), Date(), Address(), Status(), Note()} {
		w := Encode(ft, "label")
		assert.False(t, w.HasCustom, ft.String())
		assert.Equal(t, string(ft.Kind), w.Tag)
		assert.Equal(t, ft, Decode(w))
	}
	assert.Equal(t, Custom("foo"), Decode(Encode(Custom("foo"), "")))
}

func TestCustomNameFallback(t *testing.T) {
	w := Encode(Custom(""), "Site Photo")
	require.True(t, w.HasCustom)
	assert.Equal(t, "Site Photo", w.Custom)

	w = Encode(Custom("   "), "")
	assert.Equal(t, DefaultCustomFieldName, w.Custom)

	b, err := json.Marshal(Encode(Custom(""), "Site Photo"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"custom":"Site Photo"}`, string(b))
}

func TestDecodeIsLenient(t *testing.T) {
	cases := map[string]FieldType{
		`"unknown_tag"`:         Text(),
		`"custom"`:              Text(),
		`"NOTE"`:                Note(),
		`{"custom":"Meter no"}`: Custom("Meter no"),
		`{"other":"x"}`:         Text(),
		`42`:                    Text(),
		`null`:                  Text(),
		`["text"]`:              Text(),
		`{"custom":"a","x":1}`:  Custom("a"),
	}
	for in, want := range cases {
		var w WireFieldType
		require.NoError(t, json.Unmarshal([]byte(in), &w), in)
		assert.Equal(t, want, Decode(w), in)
	}
}

func TestProtocolFieldWireShape(t *testing.T) {
	fields := []ProtocolField{
		{Label: "Street", Type: Address(), Required: true, Order: 0},
		{Label: "Meter", Type: Custom(""), Order: 1},
	}
	b, err := json.Marshal(fields)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"label":"Street","field_type":"address","required":true,"order":0},
		{"label":"Meter","field_type":{"custom":"Meter"},"required":false,"order":1}
	]`, string(b))

	var back []ProtocolField
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, Custom("Meter"), back[1].Type)
	assert.Equal(t, Address(), back[0].Type)
}

func TestTemplatePayloadOmitsEmptyOptionals(t *testing.T) {
	b, err := json.Marshal(TemplatePayload{Name: "Inspection", Fields: []ProtocolField{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Inspection","fields":[]}`, string(b))
}

func TestObjectIDEnvelope(t *testing.T) {
	var rec ProtocolRecord
	err := json.Unmarshal([]byte(`{
		"_id":{"$oid":"p1"},"template_id":"t1","template_name":"T",
		"project_id":{"$oid":"pr"},"object_ids":[{"$oid":"o1"},"o2"],
		"object_names":["A"],"generated_at":"2024-01-01T00:00:00Z","generated_by":"me"}`), &rec)
	require.NoError(t, err)
	assert.Equal(t, ObjectID("p1"), rec.ID)
	assert.Equal(t, ObjectID("t1"), rec.TemplateID)
	assert.Equal(t, []string{"o1", "o2"}, IDStrings(rec.ObjectIDs))

	b, err := json.Marshal(ProtocolTemplate{ID: "abc", Name: "n"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"_id":{"$oid":"abc"},"name":"n","fields":null}`, string(b))
}
