package chess

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	nchess "github.com/corentings/chess/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBoard(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

// pieceFillAt samples the center of the rook body on the given board cell.
func pieceFillAt(img image.Image, geo boardGeometry, col, row int) (r, g, b uint32) {
	x := geo.origin.X + col*geo.square + geo.square/2
	y := geo.origin.Y + row*geo.square + geo.square*26/45
	r, g, b, _ = img.At(x, y).RGBA()
	return r >> 8, g >> 8, b >> 8
}

func TestRendererOrientation(t *testing.T) {
	const size = 400
	renderer := NewSVGBoardRenderer(size)
	board := nchess.NewGame().Position().Board()
	margin := size / 20
	geo := boardGeometry{origin: image.Point{X: margin, Y: margin}, square: (size - 2*margin) / 8}

	white, err := renderer.RenderPNG(context.Background(), board, RenderOptions{Orientation: nchess.White})
	require.NoError(t, err)
	img := decodeBoard(t, white)
	assert.Equal(t, size, img.Bounds().Dx())
	r, _, _ := pieceFillAt(img, geo, 0, 7)
	assert.Greater(t, r, uint32(200), "white rook on a1 at bottom-left")

	black, err := renderer.RenderPNG(context.Background(), board, RenderOptions{Orientation: nchess.Black})
	require.NoError(t, err)
	img = decodeBoard(t, black)
	r, _, _ = pieceFillAt(img, geo, 0, 7)
	assert.Less(t, r, uint32(80), "black rook on h8 at bottom-left")
}

func TestRendererGeometryFlips(t *testing.T) {
	a1 := nchess.NewSquare(nchess.FileA, nchess.Rank1)
	white := boardGeometry{square: 10, orientation: nchess.White}
	black := boardGeometry{square: 10, orientation: nchess.Black}

	col, row := white.cell(a1)
	assert.Equal(t, [2]int{0, 7}, [2]int{col, row})
	col, row = black.cell(a1)
	assert.Equal(t, [2]int{7, 0}, [2]int{col, row})
}

func TestRendererRejectsNilBoard(t *testing.T) {
	_, err := NewSVGBoardRenderer(0).RenderPNG(context.Background(), nil, RenderOptions{})
	require.Error(t, err)
}

func TestPieceDocumentColors(t *testing.T) {
	doc, err := pieceDocument(nchess.WhiteQueen)
	require.NoError(t, err)
	assert.Contains(t, string(doc), "#f8f8f8")

	doc, err = pieceDocument(nchess.BlackKnight)
	require.NoError(t, err)
	assert.Contains(t, string(doc), "#2b2b2b")
}
