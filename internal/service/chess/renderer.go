package chess

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const defaultBoardSize = 640

type MoveHighlight struct {
	From nchess.Square
	To   nchess.Square
}

// RenderOptions controls a board image. Orientation is the side drawn at
// the bottom; NoColor means White.
type RenderOptions struct {
	Orientation nchess.Color
	Highlight   *MoveHighlight
}

type BoardRenderer interface {
	RenderPNG(ctx context.Context, board *nchess.Board, opts RenderOptions) ([]byte, error)
}

type svgBoardRenderer struct {
	size int
}

// NewSVGBoardRenderer draws size x size pixel boards. Non-positive sizes use
// 640.
func NewSVGBoardRenderer(size int) BoardRenderer {
	if size <= 0 {
		size = defaultBoardSize
	}
	return &svgBoardRenderer{size: size}
}

var (
	lightSquare         = color.RGBA{233, 207, 163, 255}
	darkSquare          = color.RGBA{187, 136, 96, 255}
	frameColor          = color.RGBA{49, 46, 43, 255}
	moveHighlightFill   = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	coordinateTextColor = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
)

// boardGeometry maps squares to pixels for one orientation.
type boardGeometry struct {
	origin      image.Point
	square      int
	orientation nchess.Color
}

func (g boardGeometry) cell(sq nchess.Square) (col, row int) {
	col = int(sq.File())
	row = 7 - int(sq.Rank())
	if g.orientation == nchess.Black {
		col = 7 - col
		row = 7 - row
	}
	return col, row
}

func (g boardGeometry) rect(sq nchess.Square) image.Rectangle {
	col, row := g.cell(sq)
	x := g.origin.X + col*g.square
	y := g.origin.Y + row*g.square
	return image.Rect(x, y, x+g.square, y+g.square)
}

func (r *svgBoardRenderer) RenderPNG(ctx context.Context, board *nchess.Board, opts RenderOptions) ([]byte, error) {
	if board == nil {
		return nil, fmt.Errorf("board is nil")
	}
	margin := r.size / 20
	geo := boardGeometry{
		origin:      image.Point{X: margin, Y: margin},
		square:      (r.size - 2*margin) / 8,
		orientation: opts.Orientation,
	}
	if geo.orientation != nchess.Black {
		geo.orientation = nchess.White
	}

	img := image.NewRGBA(image.Rect(0, 0, r.size, r.size))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(frameColor), image.Point{}, imagedraw.Src)

	drawSquares(img, geo)
	if opts.Highlight != nil {
		drawSquareOverlay(img, geo.rect(opts.Highlight.From), moveHighlightFill)
		drawSquareOverlay(img, geo.rect(opts.Highlight.To), moveHighlightFill)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if err := drawPieces(img, board, geo); err != nil {
		return nil, err
	}
	drawCoordinates(img, geo, margin)

	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return pngBuf.Bytes(), nil
}

func allSquares() []nchess.Square {
	squares := make([]nchess.Square, 0, 64)
	for rank := nchess.Rank1; rank <= nchess.Rank8; rank++ {
		for file := nchess.FileA; file <= nchess.FileH; file++ {
			squares = append(squares, nchess.NewSquare(file, rank))
		}
	}
	return squares
}

func drawSquares(dst imagedraw.Image, geo boardGeometry) {
	for _, sq := range allSquares() {
		imagedraw.Draw(dst, geo.rect(sq), image.NewUniform(squareColor(sq)), image.Point{}, imagedraw.Src)
	}
}

func drawPieces(dst imagedraw.Image, board *nchess.Board, geo boardGeometry) error {
	for sq, piece := range board.SquareMap() {
		if piece == nchess.NoPiece {
			continue
		}
		img, err := renderPieceImage(piece, geo.square)
		if err != nil {
			return err
		}
		imagedraw.Draw(dst, geo.rect(sq), img, image.Point{}, imagedraw.Over)
	}
	return nil
}

func drawSquareOverlay(img *image.RGBA, rect image.Rectangle, clr color.Color) {
	imagedraw.Draw(img, rect, image.NewUniform(clr), image.Point{}, imagedraw.Over)
}

// drawCoordinates labels files below the board and ranks to its left.
func drawCoordinates(dst imagedraw.Image, geo boardGeometry, margin int) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: dst, Face: face, Src: image.NewUniform(coordinateTextColor)}
	ascent := face.Metrics().Ascent.Ceil()
	boardEnd := geo.origin.Y + 8*geo.square

	for file := nchess.FileA; file <= nchess.FileH; file++ {
		col, _ := geo.cell(nchess.NewSquare(file, nchess.Rank1))
		center := geo.origin.X + col*geo.square + geo.square/2
		drawCenteredText(drawer, file.String(), center, boardEnd+(margin+ascent)/2)
	}
	for rank := nchess.Rank1; rank <= nchess.Rank8; rank++ {
		_, row := geo.cell(nchess.NewSquare(nchess.FileA, rank))
		center := geo.origin.Y + row*geo.square + geo.square/2
		drawCenteredText(drawer, rank.String(), margin/2, center+ascent/2)
	}
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func squareColor(sq nchess.Square) color.Color {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}
