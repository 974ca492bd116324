// Package board draws leaderboard cards as PNG images for rooms that prefer
// a picture over a long text block.
package board

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

type Row struct {
	Rank  int
	Name  string
	Value int
}

// Renderer is safe for concurrent use; faces are shared, so drawing is
// serialised.
type Renderer struct {
	fontPath string
	mu       sync.Mutex
}

func NewRenderer(fontPath string) *Renderer {
	return &Renderer{fontPath: fontPath}
}

var (
	backgroundColor = color.RGBA{R: 22, G: 24, B: 36, A: 255}
	panelColor      = color.NRGBA{R: 28, G: 31, B: 46, A: 250}
	rowColor        = color.NRGBA{R: 36, G: 40, B: 58, A: 255}
	rowAltColor     = color.NRGBA{R: 42, G: 46, B: 66, A: 255}
	shadowColor     = color.NRGBA{0, 0, 0, 50}
	textPrimary     = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	textSecondary   = color.NRGBA{R: 204, G: 210, B: 236, A: 255}
	valueColor      = color.NRGBA{R: 8, G: 214, B: 120, A: 255}
)

const (
	cardWidth    = 560
	margin       = 28
	titleHeight  = 56
	rowHeight    = 48
	rowGap       = 8
	gapToRows    = 20
	panelRadius  = 12
	shadowOffset = 6
	medalSize    = 34
	rankColumn   = 56
	paddingX     = 20
)

// RenderPNG draws title above one row per standing.
func (r *Renderer) RenderPNG(ctx context.Context, title string, rows []Row) ([]byte, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no rows to render")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	titleFace, err := loadFace(r.fontPath, 24)
	if err != nil {
		return nil, err
	}
	rowFace, err := loadFace(r.fontPath, 18)
	if err != nil {
		return nil, err
	}

	height := margin*2 + titleHeight + gapToRows + len(rows)*(rowHeight+rowGap) - rowGap
	img := image.NewRGBA(image.Rect(0, 0, cardWidth, height))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	titleRect := image.Rect(margin, margin, cardWidth-margin, margin+titleHeight)
	drawRoundedPanel(img, titleRect.Add(image.Pt(0, shadowOffset)), panelRadius, shadowColor)
	drawRoundedPanel(img, titleRect, panelRadius, panelColor)
	title = truncateWithEllipsis(titleFace, title, titleRect.Dx()-paddingX*2)
	drawCenteredString(&font.Drawer{Dst: img, Face: titleFace}, titleRect, title, textPrimary)

	drawer := &font.Drawer{Dst: img, Face: rowFace}
	top := titleRect.Max.Y + gapToRows
	for i, row := range rows {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		rect := image.Rect(margin, top, cardWidth-margin, top+rowHeight)
		fill := rowColor
		if i%2 == 1 {
			fill = rowAltColor
		}
		drawRoundedPanel(img, rect, panelRadius/2, fill)
		if err := drawRow(img, drawer, rect, row); err != nil {
			return nil, err
		}
		top += rowHeight + rowGap
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func drawRow(img *image.RGBA, drawer *font.Drawer, rect image.Rectangle, row Row) error {
	rankRect := image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+rankColumn, rect.Max.Y)
	medal, err := renderMedal(row.Rank, medalSize)
	if err != nil {
		return err
	}
	if medal != nil {
		off := image.Pt(rankRect.Min.X+(rankRect.Dx()-medalSize)/2, rankRect.Min.Y+(rankRect.Dy()-medalSize)/2)
		imagedraw.Draw(img, image.Rectangle{Min: off, Max: off.Add(image.Pt(medalSize, medalSize))}, medal, image.Point{}, imagedraw.Over)
	} else {
		drawCenteredString(drawer, rankRect, strconv.Itoa(row.Rank), textSecondary)
	}

	value := strconv.Itoa(row.Value)
	valueWidth := drawer.MeasureString(value).Round()
	valueRect := image.Rect(rect.Max.X-paddingX-valueWidth, rect.Min.Y, rect.Max.X-paddingX, rect.Max.Y)
	drawCenteredString(drawer, valueRect, value, valueColor)

	nameMax := valueRect.Min.X - rankRect.Max.X - paddingX
	name := truncateWithEllipsis(drawer.Face, row.Name, nameMax)
	drawLeftString(drawer, image.Rect(rankRect.Max.X, rect.Min.Y, valueRect.Min.X, rect.Max.Y), name, textPrimary)
	return nil
}

func truncateWithEllipsis(face font.Face, text string, maxWidth int) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || maxWidth <= 0 || face == nil {
		return trimmed
	}
	drawer := font.Drawer{Face: face}
	if drawer.MeasureString(trimmed).Round() <= maxWidth {
		return trimmed
	}
	const ellipsis = "..."
	if drawer.MeasureString(ellipsis).Round() > maxWidth {
		return ""
	}
	runes := []rune(trimmed)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		if candidate := string(runes) + ellipsis; drawer.MeasureString(candidate).Round() <= maxWidth {
			return candidate
		}
	}
	return ellipsis
}

func baselineOf(face font.Face, rect image.Rectangle) int {
	m := face.Metrics()
	return rect.Min.Y + (rect.Dy()+m.Ascent.Ceil()-m.Descent.Ceil())/2
}

func drawCenteredString(drawer *font.Drawer, rect image.Rectangle, text string, clr color.Color) {
	text = strings.TrimSpace(text)
	if drawer == nil || text == "" {
		return
	}
	x := rect.Min.X + (rect.Dx()-drawer.MeasureString(text).Round())/2
	if x < rect.Min.X {
		x = rect.Min.X
	}
	drawer.Src = image.NewUniform(clr)
	drawer.Dot = fixed.P(x, baselineOf(drawer.Face, rect))
	drawer.DrawString(text)
}

func drawLeftString(drawer *font.Drawer, rect image.Rectangle, text string, clr color.Color) {
	if drawer == nil || text == "" {
		return
	}
	drawer.Src = image.NewUniform(clr)
	drawer.Dot = fixed.P(rect.Min.X, baselineOf(drawer.Face, rect))
	drawer.DrawString(text)
}

func drawRoundedPanel(img *image.RGBA, rect image.Rectangle, radius int, clr color.Color) {
	if img == nil || rect.Empty() {
		return
	}
	radius = min(max(radius, 0), rect.Dx()/2, rect.Dy()/2)
	fill := image.NewUniform(clr)
	if radius == 0 {
		imagedraw.Draw(img, rect, fill, image.Point{}, imagedraw.Over)
		return
	}
	// 가운데 세로 띠와 좌우 띠를 칠하고 모서리는 원으로 채운다
	imagedraw.Draw(img, image.Rect(rect.Min.X+radius, rect.Min.Y, rect.Max.X-radius, rect.Max.Y), fill, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, image.Rect(rect.Min.X, rect.Min.Y+radius, rect.Min.X+radius, rect.Max.Y-radius), fill, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, image.Rect(rect.Max.X-radius, rect.Min.Y+radius, rect.Max.X, rect.Max.Y-radius), fill, image.Point{}, imagedraw.Over)
	corners := []image.Point{
		{rect.Min.X + radius, rect.Min.Y + radius},
		{rect.Max.X - radius - 1, rect.Min.Y + radius},
		{rect.Min.X + radius, rect.Max.Y - radius - 1},
		{rect.Max.X - radius - 1, rect.Max.Y - radius - 1},
	}
	for _, c := range corners {
		drawQuarter(img, c, radius, rect, clr)
	}
}

// drawQuarter fills the disc at center clipped to the corner square outside
// the strips already drawn, so translucent panels are not blended twice.
func drawQuarter(img *image.RGBA, center image.Point, radius int, rect image.Rectangle, clr color.Color) {
	rr := radius * radius
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y > rr {
				continue
			}
			px, py := center.X+x, center.Y+y
			inCorner := (px < rect.Min.X+radius || px >= rect.Max.X-radius) &&
				(py < rect.Min.Y+radius || py >= rect.Max.Y-radius)
			if inCorner {
				blendPixel(img, px, py, clr)
			}
		}
	}
}

func blendPixel(img *image.RGBA, x, y int, clr color.Color) {
	if !(image.Point{X: x, Y: y}).In(img.Bounds()) {
		return
	}
	sr, sg, sb, sa := clr.RGBA()
	if sa == 0 {
		return
	}
	d := img.RGBAAt(x, y)
	inv := 0xffff - sa
	img.SetRGBA(x, y, color.RGBA{
		R: uint8((sr + uint32(d.R)*0x101*inv/0xffff) >> 8),
		G: uint8((sg + uint32(d.G)*0x101*inv/0xffff) >> 8),
		B: uint8((sb + uint32(d.B)*0x101*inv/0xffff) >> 8),
		A: uint8((sa + uint32(d.A)*0x101*inv/0xffff) >> 8),
	})
}
