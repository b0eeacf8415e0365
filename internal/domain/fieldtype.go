package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// FieldKind is the tag of a FieldType variant.
type FieldKind string

const (
	FieldText    FieldKind = "text"
	FieldNumber  FieldKind = "number"
	FieldDate    FieldKind = "date"
	FieldAddress FieldKind = "address"
	FieldStatus  FieldKind = "status"
	FieldNote    FieldKind = "note"
	FieldCustom  FieldKind = "custom"
)

// DefaultCustomFieldName is sent when a custom field has neither a name nor a label.
const DefaultCustomFieldName = "custom_field"

// FieldKinds lists every kind in display order.
var FieldKinds = []FieldKind{FieldText, FieldNumber, FieldDate, FieldAddress, FieldStatus, FieldNote, FieldCustom}

// FieldType is the semantic kind of a template field. Only Custom carries a name.
type FieldType struct {
	Kind FieldKind
	Name string
}

func Text() FieldType    { return FieldType{Kind: FieldText} }
func Number() FieldType  { return FieldType{Kind: FieldNumber} }
func Date() FieldType    { return FieldType{Kind: FieldDate} }
func Address() FieldType { return FieldType{Kind: FieldAddress} }
func Status() FieldType  { return FieldType{Kind: FieldStatus} }
func Note() FieldType    { return FieldType{Kind: FieldNote} }

// Custom returns a user-named field type.
func Custom(name string) FieldType { return FieldType{Kind: FieldCustom, Name: name} }

// IsCustom reports whether t is the Custom variant.
func (t FieldType) IsCustom() bool { return t.Kind == FieldCustom }

func (t FieldType) String() string {
	if t.IsCustom() {
		return "custom(" + t.Name + ")"
	}
	if t.Kind == "" {
		return string(FieldText)
	}
	return string(t.Kind)
}

// ParseFieldKind maps a tag to its kind; unknown tags yield Text and false.
func ParseFieldKind(tag string) (FieldKind, bool) {
	k := FieldKind(strings.ToLower(strings.TrimSpace(tag)))
	for _, known := range FieldKinds {
		if k == known {
			return k, true
		}
	}
	return FieldText, false
}

// WireFieldType is the compact on-the-wire form of a FieldType: either a bare
// tag string or the single-key object {"custom": name}.
type WireFieldType struct {
	Tag       string
	Custom    string
	HasCustom bool
}

// Encode produces the wire form of t. A custom name falls back to label, then
// to DefaultCustomFieldName.
func Encode(t FieldType, label string) WireFieldType {
	if !t.IsCustom() {
		kind := t.Kind
		if kind == "" {
			kind = FieldText
		}
		return WireFieldType{Tag: string(kind)}
	}
	name := strings.TrimSpace(t.Name)
	if name == "" {
		name = strings.TrimSpace(label)
	}
	if name == "" {
		name = DefaultCustomFieldName
	}
	return WireFieldType{Custom: name, HasCustom: true}
}

// Decode maps a wire field type back to its variant. Unknown tags and shapes
// decode to Text so that schema drift on the server never breaks clients.
func Decode(w WireFieldType) FieldType {
	if w.HasCustom {
		return Custom(w.Custom)
	}
	kind, ok := ParseFieldKind(w.Tag)
	if !ok || kind == FieldCustom {
		return Text()
	}
	return FieldType{Kind: kind}
}

func (w WireFieldType) MarshalJSON() ([]byte, error) {
	if w.HasCustom {
		return json.Marshal(map[string]string{"custom": w.Custom})
	}
	return json.Marshal(w.Tag)
}

// UnmarshalJSON never fails on well-formed JSON; unrecognised shapes leave an
// empty tag which decodes to Text.
func (w *WireFieldType) UnmarshalJSON(data []byte) error {
	*w = WireFieldType{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		var tag string
		if err := json.Unmarshal(data, &tag); err == nil {
			w.Tag = tag
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil
		}
		raw, ok := obj["custom"]
		if !ok {
			return nil
		}
		var name string
		_ = json.Unmarshal(raw, &name)
		w.Custom = name
		w.HasCustom = true
	}
	return nil
}

func (w WireFieldType) MarshalYAML() (any, error) {
	if w.HasCustom {
		return map[string]string{"custom": w.Custom}, nil
	}
	return w.Tag, nil
}
