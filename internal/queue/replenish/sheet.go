package replenish

import (
	"bytes"
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"clinic-arrivals/internal/models"

	"github.com/signintech/gopdf"
	"github.com/skip2/go-qrcode"
)

// Fixed grid on A4 (595 x 842 pt): 3 columns x 6 rows per page.
const (
	sheetMargin  = 40.0
	sheetColumns = 3
	sheetRows    = 6
	cellWidth    = (595.0 - 2*sheetMargin) / sheetColumns
	cellHeight   = (842.0 - 2*sheetMargin) / sheetRows
	qrSide       = 96.0
)

// PDFSheet renders the printable ticket sheet: one scannable image per
// ticket (the six-digit barcode encoded as a QR code) with its sequence
// number underneath, paginated in a fixed grid. The artifact lives at a
// well-known path per category so the front desk can reprint it.
type PDFSheet struct {
	Dir      string
	FontPath string
}

func NewPDFSheet(dir, fontPath string) *PDFSheet {
	return &PDFSheet{Dir: dir, FontPath: fontPath}
}

// Path returns the well-known artifact location for a category.
func (g *PDFSheet) Path(category string) string {
	return filepath.Join(g.Dir, fmt.Sprintf("%s-tickets.pdf", category))
}

// Exists reports whether the artifact is already on disk, so an unchanged
// pool can skip regeneration.
func (g *PDFSheet) Exists(category string) bool {
	_, err := os.Stat(g.Path(category))
	return err == nil
}

// Generate writes the full sheet for a category's tickets. It rewrites the
// whole file; generation is idempotent for an unchanged pool.
func (g *PDFSheet) Generate(category string, tickets []models.QueueTicket) error {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})

	if err := pdf.AddTTFFont("dejavu", g.FontPath); err != nil {
		return fmt.Errorf("failed to load font: %w", err)
	}
	if err := pdf.SetFont("dejavu", "", 11); err != nil {
		return fmt.Errorf("failed to set font: %w", err)
	}

	perPage := sheetColumns * sheetRows
	for i, ticket := range tickets {
		if i%perPage == 0 {
			pdf.AddPage()
		}
		cell := i % perPage
		x := sheetMargin + float64(cell%sheetColumns)*cellWidth
		y := sheetMargin + float64(cell/sheetColumns)*cellHeight

		if err := drawTicketCell(pdf, ticket, x, y); err != nil {
			return fmt.Errorf("ticket %d: %w", ticket.SequenceNumber, err)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Write(&buf); err != nil {
		return fmt.Errorf("failed to write PDF: %w", err)
	}

	if err := os.MkdirAll(g.Dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(g.Path(category), buf.Bytes(), 0644)
}

func drawTicketCell(pdf *gopdf.GoPdf, ticket models.QueueTicket, x, y float64) error {
	encoded, err := qrcode.Encode(ticket.Barcode, qrcode.Medium, 256)
	if err != nil {
		return fmt.Errorf("encode barcode image: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("decode barcode image: %w", err)
	}

	qrX := x + (cellWidth-qrSide)/2
	if err := pdf.ImageFrom(img, qrX, y, &gopdf.Rect{W: qrSide, H: qrSide}); err != nil {
		return fmt.Errorf("draw barcode image: %w", err)
	}

	pdf.SetX(qrX)
	pdf.SetY(y + qrSide + 4)
	return pdf.Cell(nil, fmt.Sprintf("No. %d  %s", ticket.SequenceNumber, ticket.Barcode))
}
