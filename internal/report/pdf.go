package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"

	"beliefcoach.app/cloud/models"
)

var (
	colorPrimary   = [3]int{30, 58, 95}
	colorSecondary = [3]int{52, 152, 219}
	colorAccent    = [3]int{46, 125, 50}
	colorTextDark  = [3]int{44, 62, 80}
	colorTextMuted = [3]int{127, 140, 141}
	colorGridLine  = [3]int{220, 220, 220}
)

// RenderPDF renders the report as a single-column A4 document.
func RenderPDF(r models.Report) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 25)
	pdf.SetTitle(r.Title, true)
	pdf.SetCreator("Belief Coach", true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	writeHeader(pdf, tr, r)
	writeSummary(pdf, tr, r.Analysis)
	for _, b := range r.Analysis.Beliefs {
		writeBelief(pdf, tr, b)
	}
	addPageNumbers(pdf)

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("PDF layout error: %w", err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

func setColor(pdf *fpdf.Fpdf, c [3]int) {
	pdf.SetTextColor(c[0], c[1], c[2])
}

func writeHeader(pdf *fpdf.Fpdf, tr func(string) string, r models.Report) {
	pdf.SetFont("Arial", "B", 22)
	setColor(pdf, colorPrimary)
	pdf.MultiCell(0, 10, tr(r.Title), "", "L", false)

	pdf.SetFont("Arial", "", 10)
	setColor(pdf, colorTextMuted)
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("%s  |  %d answers analyzed", formatDate(r.CreatedAt), r.Analysis.Analyzed)), "", 1, "L", false, 0, "")

	pdf.SetDrawColor(colorGridLine[0], colorGridLine[1], colorGridLine[2])
	y := pdf.GetY() + 3
	pdf.Line(20, y, 190, y)
	pdf.SetY(y + 5)
}

func writeSummary(pdf *fpdf.Fpdf, tr func(string) string, a models.Analysis) {
	pdf.SetFont("Arial", "", 12)
	setColor(pdf, colorTextDark)
	pdf.MultiCell(0, 6, tr(a.Summary), "", "L", false)

	if len(a.Themes) > 0 {
		pdf.Ln(2)
		pdf.SetFont("Arial", "I", 10)
		setColor(pdf, colorSecondary)
		pdf.MultiCell(0, 5, tr("Themes: "+strings.Join(a.Themes, ", ")), "", "L", false)
	}
	pdf.Ln(4)
}

func writeBelief(pdf *fpdf.Fpdf, tr func(string) string, b models.Belief) {
	if pdf.GetY() > 240 {
		pdf.AddPage()
	}

	pdf.SetFont("Arial", "B", 8)
	setColor(pdf, colorSecondary)
	pdf.CellFormat(0, 5, tr(fmt.Sprintf("%s  %s", strings.ToUpper(b.Category), percent(b.Confidence))), "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "B", 12)
	setColor(pdf, colorTextDark)
	pdf.MultiCell(0, 6, tr(b.Statement), "", "L", false)

	pdf.SetFont("Arial", "I", 10)
	setColor(pdf, colorTextMuted)
	pdf.MultiCell(0, 5, tr(`"`+b.Evidence+`"`), "", "L", false)

	pdf.SetFont("Arial", "", 10)
	setColor(pdf, colorAccent)
	pdf.MultiCell(0, 5, tr("Try instead: "+b.Reframe), "", "L", false)
	pdf.Ln(4)
}

func addPageNumbers(pdf *fpdf.Fpdf) {
	total := pdf.PageCount()
	for i := 1; i <= total; i++ {
		pdf.SetPage(i)
		pdf.SetY(-15)
		pdf.SetFont("Arial", "", 8)
		setColor(pdf, colorTextMuted)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d of %d", i, total), "", 0, "C", false, 0, "")
	}
}
