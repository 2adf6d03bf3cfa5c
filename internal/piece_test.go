package internal_test

import (
	"testing"

	"github.com/koopa0/tetris-battle/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewPiece 測試方塊出生位置
func TestNewPiece(t *testing.T) {
	tests := []struct {
		name      string
		pieceType internal.PieceType
		validate  func(t *testing.T, p *internal.Piece)
	}{
		{
			name:      "I piece spawns centered",
			pieceType: internal.PieceI,
			validate: func(t *testing.T, p *internal.Piece) {
				assert.Equal(t, internal.PieceI, p.Type)
				assert.Equal(t, 4, p.Width())
				assert.Equal(t, 1, p.Height())
				// 寬 4 的方塊置中：10/2 - 4/2 = 3
				assert.Equal(t, 3, p.X)
				assert.Equal(t, 0, p.Y)
			},
		},
		{
			name:      "O piece spawns centered",
			pieceType: internal.PieceO,
			validate: func(t *testing.T, p *internal.Piece) {
				assert.Equal(t, 2, p.Width())
				assert.Equal(t, 2, p.Height())
				assert.Equal(t, 4, p.X)
				assert.Equal(t, 4, p.CellCount())
			},
		},
		{
			name:      "T piece has four cells",
			pieceType: internal.PieceT,
			validate: func(t *testing.T, p *internal.Piece) {
				assert.Equal(t, 4, p.CellCount())
				assert.Equal(t, 3, p.Width())
				assert.Equal(t, 2, p.Height())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := internal.NewPiece(tt.pieceType)
			require.NotNil(t, p)
			tt.validate(t, p)
		})
	}
}

// TestPiece_Rotate 測試順時針旋轉
func TestPiece_Rotate(t *testing.T) {
	t.Run("I piece rotates to vertical", func(t *testing.T) {
		p := internal.NewPiece(internal.PieceI)
		rotated := p.Rotate()

		assert.Equal(t, 1, rotated.Width())
		assert.Equal(t, 4, rotated.Height())
		// 原方塊不變
		assert.Equal(t, 4, p.Width())
		assert.Equal(t, 1, p.Height())
	})

	t.Run("rotation preserves cell count", func(t *testing.T) {
		for _, pieceType := range []internal.PieceType{
			internal.PieceI, internal.PieceO, internal.PieceT,
			internal.PieceS, internal.PieceZ, internal.PieceJ, internal.PieceL,
		} {
			p := internal.NewPiece(pieceType)
			rotated := p.Rotate()
			assert.Equal(t, p.CellCount(), rotated.CellCount(), "piece %s", pieceType)
		}
	})

	t.Run("four rotations restore shape", func(t *testing.T) {
		p := internal.NewPiece(internal.PieceT)
		full := p.Rotate().Rotate().Rotate().Rotate()
		assert.Equal(t, p.Shape, full.Shape)
	})
}

// TestBoard_Collides 測試碰撞檢查
func TestBoard_Collides(t *testing.T) {
	tests := []struct {
		name     string
		setup    func() (internal.Board, *internal.Piece)
		dx, dy   int
		expected bool
	}{
		{
			name: "no collision on empty board",
			setup: func() (internal.Board, *internal.Piece) {
				return internal.NewBoard(), internal.NewPiece(internal.PieceO)
			},
			dx: 0, dy: 0,
			expected: false,
		},
		{
			name: "collision with left wall",
			setup: func() (internal.Board, *internal.Piece) {
				p := internal.NewPiece(internal.PieceO)
				p.X = 0
				return internal.NewBoard(), p
			},
			dx: -1, dy: 0,
			expected: true,
		},
		{
			name: "collision with right wall",
			setup: func() (internal.Board, *internal.Piece) {
				p := internal.NewPiece(internal.PieceO)
				p.X = internal.BoardWidth - p.Width()
				return internal.NewBoard(), p
			},
			dx: 1, dy: 0,
			expected: true,
		},
		{
			name: "collision with floor",
			setup: func() (internal.Board, *internal.Piece) {
				p := internal.NewPiece(internal.PieceO)
				p.Y = internal.BoardHeight - p.Height()
				return internal.NewBoard(), p
			},
			dx: 0, dy: 1,
			expected: true,
		},
		{
			name: "collision with locked cells",
			setup: func() (internal.Board, *internal.Piece) {
				b := internal.NewBoard()
				locked := internal.NewPiece(internal.PieceO)
				locked.Y = internal.BoardHeight - 2
				b.Lock(locked)

				p := internal.NewPiece(internal.PieceO)
				p.Y = internal.BoardHeight - 4
				return b, p
			},
			dx: 0, dy: 2,
			expected: true,
		},
		{
			name: "negative y only checks walls",
			setup: func() (internal.Board, *internal.Piece) {
				p := internal.NewPiece(internal.PieceO)
				p.Y = -1
				return internal.NewBoard(), p
			},
			dx: 0, dy: 0,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			board, piece := tt.setup()
			assert.Equal(t, tt.expected, board.Collides(piece, tt.dx, tt.dy))
		})
	}
}

// TestBoard_Lock 測試方塊鎖定
func TestBoard_Lock(t *testing.T) {
	b := internal.NewBoard()
	p := internal.NewPiece(internal.PieceO)
	p.X = 0
	p.Y = internal.BoardHeight - 2

	b.Lock(p)

	assert.Equal(t, 4, b.CellsFilled())
	assert.Equal(t, p.Color, b[internal.BoardHeight-2][0])
	assert.Equal(t, p.Color, b[internal.BoardHeight-1][1])
}

// TestBoard_ClearFullRows 測試消行
func TestBoard_ClearFullRows(t *testing.T) {
	tests := []struct {
		name     string
		setup    func() internal.Board
		expected int
		validate func(t *testing.T, b internal.Board)
	}{
		{
			name:     "empty board clears nothing",
			setup:    internal.NewBoard,
			expected: 0,
		},
		{
			name: "single full row cleared",
			setup: func() internal.Board {
				b := internal.NewBoard()
				for x := 0; x < internal.BoardWidth; x++ {
					b[internal.BoardHeight-1][x] = 1
				}
				return b
			},
			expected: 1,
			validate: func(t *testing.T, b internal.Board) {
				assert.Equal(t, 0, b.CellsFilled())
			},
		},
		{
			name: "rows above shift down",
			setup: func() internal.Board {
				b := internal.NewBoard()
				// 倒數第二行留一格
				b[internal.BoardHeight-2][3] = 5
				for x := 0; x < internal.BoardWidth; x++ {
					b[internal.BoardHeight-1][x] = 1
				}
				return b
			},
			expected: 1,
			validate: func(t *testing.T, b internal.Board) {
				assert.Equal(t, 1, b.CellsFilled())
				assert.Equal(t, 5, b[internal.BoardHeight-1][3])
			},
		},
		{
			name: "multiple non-adjacent rows cleared",
			setup: func() internal.Board {
				b := internal.NewBoard()
				for x := 0; x < internal.BoardWidth; x++ {
					b[internal.BoardHeight-1][x] = 1
					b[internal.BoardHeight-3][x] = 2
				}
				b[internal.BoardHeight-2][0] = 3
				return b
			},
			expected: 2,
			validate: func(t *testing.T, b internal.Board) {
				assert.Equal(t, 1, b.CellsFilled())
				assert.Equal(t, 3, b[internal.BoardHeight-1][0])
			},
		},
		{
			name: "four full rows cleared at once",
			setup: func() internal.Board {
				b := internal.NewBoard()
				for y := internal.BoardHeight - 4; y < internal.BoardHeight; y++ {
					for x := 0; x < internal.BoardWidth; x++ {
						b[y][x] = 1
					}
				}
				return b
			},
			expected: 4,
			validate: func(t *testing.T, b internal.Board) {
				assert.Equal(t, 0, b.CellsFilled())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.setup()
			cleared := b.ClearFullRows()
			assert.Equal(t, tt.expected, cleared)
			if tt.validate != nil {
				tt.validate(t, b)
			}
		})
	}
}

// TestBoard_Flatten 測試棋盤攤平序列化
func TestBoard_Flatten(t *testing.T) {
	b := internal.NewBoard()
	b[0][0] = 7
	b[internal.BoardHeight-1][internal.BoardWidth-1] = 3

	cells := b.Flatten()

	require.Len(t, cells, internal.BoardWidth*internal.BoardHeight)
	assert.Equal(t, 7, cells[0])
	assert.Equal(t, 3, cells[len(cells)-1])
}
