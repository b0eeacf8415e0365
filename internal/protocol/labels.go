package protocol

import (
	"net/url"
	"strings"

	"susm/internal/domain"
)

// ObjectLabel renders an object as "street house, Llevel, Ddoor", falling back
// to its id.
func ObjectLabel(o domain.Object) string {
	var b strings.Builder
	b.WriteString(o.Address.Street)
	if o.Address.HouseNumber != "" {
		b.WriteString(" " + o.Address.HouseNumber)
	}
	if o.Address.Level != "" {
		b.WriteString(", L" + o.Address.Level)
	}
	if o.Address.DoorNumber != "" {
		b.WriteString(", D" + o.Address.DoorNumber)
	}
	if label := strings.TrimSpace(b.String()); label != "" {
		return label
	}
	return o.ID.String()
}

// ImageURL resolves a preview image path against the backend upload folder.
func ImageURL(backend, folderBase, p string) string {
	base := strings.TrimRight(backend, "/") + "/" + strings.Trim(folderBase, "/")
	normalized := strings.ReplaceAll(p, `\`, "/")
	normalized = strings.TrimPrefix(normalized, ".")
	normalized = strings.TrimLeft(normalized, "/")
	if strings.HasPrefix(normalized, "http://") || strings.HasPrefix(normalized, "https://") {
		return base + "/" + escapeComponent(normalized)
	}
	normalized = strings.TrimPrefix(normalized, "uploads/")
	segments := strings.Split(normalized, "/")
	for i, s := range segments {
		segments[i] = escapeComponent(s)
	}
	return base + "/" + strings.Join(segments, "/")
}

func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
