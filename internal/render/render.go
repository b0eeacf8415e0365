package render

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"susm/internal/domain"
	"susm/internal/protocol"
)

const blankValue = "______________________________"

// Document is everything needed to render one protocol.
type Document struct {
	Template    domain.TemplatePayload
	Project     domain.Project
	Objects     []domain.Object
	Data        map[string]any
	GeneratedAt time.Time
	GeneratedBy string
}

// ProjectAddress joins the project's street and postal code.
func ProjectAddress(p domain.Project) string {
	if p.Address == nil {
		return ""
	}
	var parts []string
	for _, s := range []string{p.Address.Street, p.Address.PostalCode} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// Preview returns the structure Protocol would render.
func Preview(doc Document) domain.PreviewData {
	out := domain.PreviewData{
		ProjectName:     doc.Project.Name,
		ProjectAddress:  ProjectAddress(doc.Project),
		TableOfContents: []domain.TOCEntry{{Title: doc.Template.Name, Level: 0}},
		ContentSections: []domain.PreviewSection{},
	}
	for _, o := range doc.Objects {
		label := protocol.ObjectLabel(o)
		out.TableOfContents = append(out.TableOfContents, domain.TOCEntry{Title: label, Level: 1})
		out.ContentSections = append(out.ContentSections, domain.PreviewSection{
			ObjectAddress:   label,
			Headline:        doc.Template.Name,
			FileGroups:      []domain.PreviewFileGroup{},
			UngroupedImages: []domain.PreviewImage{},
		})
	}
	return out
}

// Protocol renders doc as a PDF. Fields appear in template order, one block
// per object.
func Protocol(doc Document) ([]byte, error) {
	if doc.GeneratedAt.IsZero() {
		doc.GeneratedAt = time.Now()
	}
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr(doc.Template.Name), false)
	pdf.SetAuthor(tr(doc.GeneratedBy), false)
	pdf.SetCreationDate(doc.GeneratedAt)
	pdf.AliasNbPages("")
	pdf.SetHeaderFunc(func() {
		pdf.SetFont("Helvetica", "I", 9)
		pdf.SetTextColor(110, 110, 110)
		pdf.CellFormat(0, 6, tr(firstLine(doc.Template.HeaderTemplate, doc.Project.Name)), "B", 1, "L", false, 0, "")
		pdf.Ln(4)
		pdf.SetTextColor(0, 0, 0)
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(110, 110, 110)
		if footer := firstLine(doc.Template.FooterTemplate, ""); footer != "" {
			pdf.CellFormat(0, 5, tr(footer), "", 0, "L", false, 0, "")
		}
		pdf.CellFormat(0, 5, fmt.Sprintf("%d/{nb}", pdf.PageNo()), "", 0, "R", false, 0, "")
	})

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 18)
	pdf.MultiCell(0, 9, tr(doc.Template.Name), "", "L", false)
	pdf.SetFont("Helvetica", "", 11)
	pdf.MultiCell(0, 6, tr(doc.Project.Name), "", "L", false)
	if addr := ProjectAddress(doc.Project); addr != "" {
		pdf.MultiCell(0, 6, tr(addr), "", "L", false)
	}
	if doc.Template.Description != "" {
		pdf.Ln(2)
		pdf.MultiCell(0, 5, tr(doc.Template.Description), "", "L", false)
	}
	pdf.Ln(3)
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 5, tr("Generated "+doc.GeneratedAt.UTC().Format("2006-01-02 15:04 MST")+byLine(doc.GeneratedBy)), "", 1, "L", false, 0, "")

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 7, "Contents", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	for i, o := range doc.Objects {
		pdf.CellFormat(0, 6, tr(fmt.Sprintf("%d. %s", i+1, protocol.ObjectLabel(o))), "", 1, "L", false, 0, "")
	}

	for i, o := range doc.Objects {
		pdf.AddPage()
		pdf.SetFont("Helvetica", "B", 14)
		pdf.MultiCell(0, 8, tr(fmt.Sprintf("%d. %s", i+1, protocol.ObjectLabel(o))), "", "L", false)
		if o.Note != "" {
			pdf.SetFont("Helvetica", "I", 9)
			pdf.MultiCell(0, 5, tr(o.Note), "", "L", false)
		}
		pdf.Ln(3)
		writeFields(pdf, tr, doc.Template.Fields, doc.Data)
	}
	if len(doc.Objects) == 0 {
		pdf.Ln(4)
		writeFields(pdf, tr, doc.Template.Fields, doc.Data)
	}
	if doc.Template.FooterTemplate != "" {
		pdf.Ln(6)
		pdf.SetFont("Helvetica", "", 9)
		pdf.MultiCell(0, 5, tr(doc.Template.FooterTemplate), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// TemplateSample renders a template against a placeholder project with one
// object so that its layout can be reviewed before saving.
func TemplateSample(p domain.TemplatePayload, now time.Time) ([]byte, error) {
	return Protocol(Document{
		Template: p,
		Project: domain.Project{
			Name:    "Sample project",
			Address: &domain.ProjectAddress{Street: "Sample street 1", PostalCode: "1010"},
		},
		Objects: []domain.Object{{
			ID:      "sample",
			Address: domain.ObjectAddress{Street: "Sample street", HouseNumber: "1", Level: "2", DoorNumber: "3"},
		}},
		GeneratedAt: now,
		GeneratedBy: "preview",
	})
}

func writeFields(pdf *fpdf.Fpdf, tr func(string) string, fields []domain.ProtocolField, data map[string]any) {
	for _, f := range fields {
		label := f.Label
		if f.Required {
			label += " *"
		}
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(60, 7, tr(label), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 7, tr(fieldValue(f, data)), "", "L", false)
	}
}

func fieldValue(f domain.ProtocolField, data map[string]any) string {
	if v, ok := data[f.Label]; ok && v != nil {
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			return s
		}
	}
	switch f.Type.Kind {
	case domain.FieldDate:
		return "____ - __ - __"
	case domain.FieldStatus:
		return "[ ] ok   [ ] defect   [ ] n/a"
	case domain.FieldNote:
		return blankValue + "\n" + blankValue
	}
	return blankValue
}

func firstLine(s, fallback string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if s == "" {
		return fallback
	}
	return s
}

func byLine(who string) string {
	if who == "" {
		return ""
	}
	return " by " + who
}
