package chess

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Piece silhouettes on a 45x45 canvas.
var pieceShapes = map[nchess.PieceType]string{
	nchess.Pawn: `<circle cx="22.5" cy="14" r="5.5"/>` +
		`<path d="M17 36 L19.5 21 L25.5 21 L28 36 Z"/>`,
	nchess.Rook: `<path d="M12 10 H16 V13 H20.5 V10 H24.5 V13 H29 V10 H33 V18 H30 V34 H15 V18 H12 Z"/>`,
	nchess.Knight: `<path d="M14 36 H32 C32 26 30 16 23 10 L20 8 L19.5 12 L12.5 19 L14 24 L19 22.5 ` +
		`C17 27 15 30 14 36 Z"/><circle cx="19" cy="14.5" r="1.2" fill="#777"/>`,
	nchess.Bishop: `<circle cx="22.5" cy="8.5" r="2.5"/>` +
		`<path d="M16 34 H29 L27 30 C31 24 28.5 16 22.5 11.5 C16.5 16 14 24 18 30 Z"/>`,
	nchess.Queen: `<path d="M10 34 H35 L37.5 14 L30 24 L27.5 10.5 L22.5 23 L17.5 10.5 L15 24 L7.5 14 Z"/>` +
		`<circle cx="7.5" cy="13" r="2"/><circle cx="17.5" cy="10" r="2"/><circle cx="27.5" cy="10" r="2"/>` +
		`<circle cx="37.5" cy="13" r="2"/>`,
	nchess.King: `<path d="M20.75 5 H24.25 V8.5 H27.5 V12 H24.25 V17 H20.75 V12 H17.5 V8.5 H20.75 Z"/>` +
		`<path d="M11 34 H34 L32.5 25 C35 20 30 15.5 22.5 21 C15 15.5 10 20 12.5 25 Z"/>`,
}

const (
	pieceBase = `<path d="M10 36 H35 V40 H10 Z"/>`
	pieceSVG  = `<svg xmlns="http://www.w3.org/2000/svg" width="45" height="45" viewBox="0 0 45 45">` +
		`<g fill="%s" stroke="%s" stroke-width="1.5" stroke-linejoin="round">%s%s</g></svg>`
)

type pieceCacheKey struct {
	piece nchess.Piece
	size  int
}

var (
	pieceCache   = map[pieceCacheKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

func pieceDocument(piece nchess.Piece) ([]byte, error) {
	shape, ok := pieceShapes[piece.Type()]
	if !ok {
		return nil, fmt.Errorf("no shape for piece %v", piece)
	}
	fill, stroke := "#f8f8f8", "#1a1a1a"
	if piece.Color() == nchess.Black {
		fill, stroke = "#2b2b2b", "#000000"
	}
	return fmt.Appendf(nil, pieceSVG, fill, stroke, shape, pieceBase), nil
}

func renderPieceImage(piece nchess.Piece, size int) (image.Image, error) {
	key := pieceCacheKey{piece: piece, size: size}

	pieceCacheMu.RLock()
	if img, ok := pieceCache[key]; ok {
		pieceCacheMu.RUnlock()
		return img, nil
	}
	pieceCacheMu.RUnlock()

	doc, err := pieceDocument(piece)
	if err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1.0)

	pieceCacheMu.Lock()
	pieceCache[key] = img
	pieceCacheMu.Unlock()
	return img, nil
}
