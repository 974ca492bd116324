package board

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

const medalSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 64 64">
<path d="M18 2 L30 26 L22 30 L10 6 Z" style="fill: #3b6fd8"/>
<path d="M46 2 L34 26 L42 30 L54 6 Z" style="fill: #d83b52"/>
<circle cx="32" cy="40" r="20" style="fill: %s; stroke: %s; stroke-width:3"/>
<circle cx="32" cy="40" r="13" style="fill:none; stroke: #ffffff; stroke-opacity:0.55; stroke-width:2"/>
</svg>`

var medalColors = map[int][2]string{
	1: {"#f5c542", "#b8891a"},
	2: {"#cfd4dc", "#8c939e"},
	3: {"#d58b4a", "#8f5424"},
}

type medalKey struct {
	rank int
	size int
}

var (
	medalCache   = map[medalKey]image.Image{}
	medalCacheMu sync.RWMutex
)

// sanitizeSVG normalises style spacing oksvg does not parse.
func sanitizeSVG(svg []byte) []byte {
	fixed := bytes.ReplaceAll(svg, []byte("fill: #"), []byte("fill:#"))
	fixed = bytes.ReplaceAll(fixed, []byte("stroke: #"), []byte("stroke:#"))
	return fixed
}

// renderMedal rasterises the medal for ranks 1..3; other ranks have none.
func renderMedal(rank, size int) (image.Image, error) {
	colors, ok := medalColors[rank]
	if !ok {
		return nil, nil
	}
	key := medalKey{rank: rank, size: size}

	medalCacheMu.RLock()
	if img, ok := medalCache[key]; ok {
		medalCacheMu.RUnlock()
		return img, nil
	}
	medalCacheMu.RUnlock()

	src := sanitizeSVG([]byte(fmt.Sprintf(medalSVG, colors[0], colors[1])))
	icon, err := oksvg.ReadIconStream(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse medal svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1.0)

	medalCacheMu.Lock()
	medalCache[key] = img
	medalCacheMu.Unlock()
	return img, nil
}
