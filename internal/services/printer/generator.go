package printer

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"

	"github.com/xelth-com/yatrasync/internal/models"
	"github.com/xelth-com/yatrasync/internal/utils"
)

// BadgeConfig holds the sheet layout for badge printing
type BadgeConfig struct {
	Cols       int     `json:"cols"`
	Rows       int     `json:"rows"`
	MarginTop  float64 `json:"marginTop"`
	MarginLeft float64 `json:"marginLeft"`
	GapX       float64 `json:"gapX"`
	GapY       float64 `json:"gapY"`
	Title      string  `json:"title"` // printed on top of every badge
}

// DefaultBadgeConfig lays out 2x4 badges per A4 page
func DefaultBadgeConfig() BadgeConfig {
	return BadgeConfig{Cols: 2, Rows: 4, MarginTop: 10, MarginLeft: 10, GapX: 6, GapY: 6, Title: "Palitana Yatra"}
}

func (c BadgeConfig) withDefaults() BadgeConfig {
	d := DefaultBadgeConfig()
	if c.Cols <= 0 {
		c.Cols = d.Cols
	}
	if c.Rows <= 0 {
		c.Rows = d.Rows
	}
	if c.Title == "" {
		c.Title = d.Title
	}
	return c
}

// QRPNG renders a participant's QR token as a PNG
func QRPNG(p models.Participant, size int) ([]byte, error) {
	if p.QRToken == "" {
		return nil, errors.New("participant has no QR token")
	}
	return qrcode.Encode(p.QRToken, qrcode.Medium, size)
}

// GenerateBadgesPDF creates an A4 sheet of participant badges with QR codes
func GenerateBadgesPDF(participants []models.Participant, cfg BadgeConfig) ([]byte, error) {
	if len(participants) == 0 {
		return nil, errors.New("no participants to print")
	}
	cfg = cfg.withDefaults()

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetFont("Arial", "B", 10)

	// A4 dimensions
	pageWidth, pageHeight := 210.0, 297.0

	totalGapX := float64(cfg.Cols-1) * cfg.GapX
	totalGapY := float64(cfg.Rows-1) * cfg.GapY
	availW := pageWidth - (cfg.MarginLeft * 2)
	availH := pageHeight - (cfg.MarginTop * 2)

	badgeW := (availW - totalGapX) / float64(cfg.Cols)
	badgeH := (availH - totalGapY) / float64(cfg.Rows)

	perPage := cfg.Cols * cfg.Rows

	for i, p := range participants {
		if i%perPage == 0 {
			pdf.AddPage()
		}

		onPage := i % perPage
		col := onPage % cfg.Cols
		row := onPage / cfg.Cols

		x := cfg.MarginLeft + float64(col)*(badgeW+cfg.GapX)
		y := cfg.MarginTop + float64(row)*(badgeH+cfg.GapY)

		qrPng, err := QRPNG(p, 256)
		if err != nil {
			return nil, fmt.Errorf("participant %s: %w", p.ID, err)
		}

		imgName := "qr_" + p.ID
		imgOptions := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: true}
		pdf.RegisterImageOptionsReader(imgName, imgOptions, bytes.NewReader(qrPng))
		if err := pdf.Error(); err != nil {
			return nil, err
		}

		// Cutting guide
		pdf.Rect(x, y, badgeW, badgeH, "D")

		pdf.SetXY(x, y+2)
		pdf.SetFontSize(9)
		pdf.CellFormat(badgeW, 5, cfg.Title, "", 0, "C", false, 0, "")

		// QR on the left half, details on the right
		qrSize := badgeH * 0.7
		if qrSize > badgeW/2 {
			qrSize = badgeW/2 - 2
		}
		qrY := y + (badgeH-qrSize)/2 + 2
		pdf.ImageOptions(imgName, x+2, qrY, qrSize, qrSize, false, imgOptions, 0, "")

		textX := x + qrSize + 4
		textW := badgeW - qrSize - 6
		lineY := qrY

		line := func(size float64, s string) {
			if s == "" {
				return
			}
			pdf.SetXY(textX, lineY)
			pdf.SetFontSize(size)
			pdf.CellFormat(textW, 5, s, "", 0, "L", false, 0, "")
			lineY += 6
		}

		if n, err := utils.BadgeNumber(p.QRToken); err == nil {
			line(14, fmt.Sprintf("#%d", n))
		}
		line(10, p.Name)
		if p.BloodGroup != "" {
			line(8, "Blood: "+p.BloodGroup)
		}
		if p.EmergencyContact != "" {
			line(8, "Emergency: "+p.EmergencyContact)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
