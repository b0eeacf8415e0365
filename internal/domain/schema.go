package domain

import "github.com/danielgtaylor/huma/v2"

// Schema describes the wire form of a template field. ProtocolField has its
// own JSON codec, so the reflected struct would not match what is sent.
func (ProtocolField) Schema(r huma.Registry) *huma.Schema {
	return &huma.Schema{
		Type: huma.TypeObject,
		Properties: map[string]*huma.Schema{
			"label":      {Type: huma.TypeString},
			"field_type": WireFieldType{}.Schema(r),
			"required":   {Type: huma.TypeBoolean},
			"order":      {Type: huma.TypeInteger, Format: "int64"},
		},
		Required:             []string{"label", "field_type"},
		AdditionalProperties: false,
	}
}

// Schema is a bare tag or the single-key object {"custom": name}.
func (WireFieldType) Schema(huma.Registry) *huma.Schema {
	tags := make([]any, 0, len(FieldKinds))
	for _, k := range FieldKinds {
		if k != FieldCustom {
			tags = append(tags, string(k))
		}
	}
	return &huma.Schema{
		OneOf: []*huma.Schema{
			{Type: huma.TypeString, Enum: tags},
			{
				Type:                 huma.TypeObject,
				Properties:           map[string]*huma.Schema{"custom": {Type: huma.TypeString}},
				Required:             []string{"custom"},
				AdditionalProperties: false,
			},
		},
	}
}
