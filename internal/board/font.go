package board

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

type faceKey struct {
	path string
	size float64
}

var (
	faceCache   = map[faceKey]font.Face{}
	faceCacheMu sync.Mutex
)

// loadFace parses the TTF/OTF at path, or the bundled Go font when path is
// empty. Hangul names need a CJK font such as NanumGothic.
func loadFace(path string, size float64) (font.Face, error) {
	path = strings.TrimSpace(path)
	key := faceKey{path: path, size: size}

	faceCacheMu.Lock()
	defer faceCacheMu.Unlock()
	if f, ok := faceCache[key]; ok {
		return f, nil
	}

	data := goregular.TTF
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read font %s: %w", path, err)
		}
		data = b
	}
	parsed, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, fmt.Errorf("new face: %w", err)
	}
	faceCache[key] = face
	return face, nil
}
