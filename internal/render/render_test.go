package render

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"susm/internal/domain"
)

func sampleDoc() Document {
	return Document{
		Template: domain.TemplatePayload{
			Name:           "Handover",
			HeaderTemplate: "ACME inspections\nsecond line",
			FooterTemplate: "Signed on site",
			Fields: []domain.ProtocolField{
				{Label: "Meter", Type: domain.Number(), Required: true},
				{Label: "Remarks", Type: domain.Note(), Order: 1},
			},
		},
		Project: domain.Project{Name: "Tower", Address: &domain.ProjectAddress{Street: "Main", PostalCode: "1010"}},
		Objects: []domain.Object{
			{ID: "o1", Address: domain.ObjectAddress{Street: "Main", HouseNumber: "5", Level: "2"}},
			{ID: "o2"},
		},
		Data:        map[string]any{"Meter": 42},
		GeneratedAt: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
		GeneratedBy: "ana@example.com",
	}
}

func TestProtocolProducesPDF(t *testing.T) {
	out, err := Protocol(sampleDoc())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")), "missing pdf magic")
}

func TestTemplateSample(t *testing.T) {
	out, err := TemplateSample(domain.TemplatePayload{Name: "Empty"}, time.Now())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestPreviewStructure(t *testing.T) {
	got := Preview(sampleDoc())
	assert.Equal(t, "Tower", got.ProjectName)
	assert.Equal(t, "Main, 1010", got.ProjectAddress)
	require.Len(t, got.ContentSections, 2)
	assert.Equal(t, "Main 5, L2", got.ContentSections[0].ObjectAddress)
	assert.Equal(t, "o2", got.ContentSections[1].ObjectAddress)
	assert.Equal(t, []domain.TOCEntry{
		{Title: "Handover", Level: 0},
		{Title: "Main 5, L2", Level: 1},
		{Title: "o2", Level: 1},
	}, got.TableOfContents)
}

func TestFieldValue(t *testing.T) {
	data := map[string]any{"Meter": 42, "Empty": " "}
	assert.Equal(t, "42", fieldValue(domain.ProtocolField{Label: "Meter"}, data))
	assert.Equal(t, blankValue, fieldValue(domain.ProtocolField{Label: "Empty"}, data))
	assert.Contains(t, fieldValue(domain.ProtocolField{Label: "When", Type: domain.Date()}, nil), "__")
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "a", firstLine(" a \nb", "x"))
	assert.Equal(t, "x", firstLine("  ", "x"))
}
