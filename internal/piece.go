package internal

import (
	"math/rand/v2"
)

// 棋盤尺寸（經典 Tetris 規格）
const (
	BoardWidth  = 10
	BoardHeight = 20
)

// PieceType 方塊類型
//
// 七種標準方塊（tetromino），每種類型對應一個固定形狀與顏色索引。
type PieceType string

const (
	PieceI PieceType = "I"
	PieceO PieceType = "O"
	PieceT PieceType = "T"
	PieceS PieceType = "S"
	PieceZ PieceType = "Z"
	PieceJ PieceType = "J"
	PieceL PieceType = "L"
)

// pieceTypes 隨機生成時的候選清單（均勻分佈）
var pieceTypes = []PieceType{PieceI, PieceO, PieceT, PieceS, PieceZ, PieceJ, PieceL}

// pieceShape 方塊形狀定義
//
// shape 為位元矩陣（1 = 實心格），color 為鎖定後寫入棋盤的顏色索引（1-7）。
// 形狀本身不可變；旋轉會產生新的矩陣副本。
type pieceShape struct {
	shape [][]int
	color int
}

var pieceCatalog = map[PieceType]pieceShape{
	PieceI: {shape: [][]int{{1, 1, 1, 1}}, color: 1},
	PieceL: {shape: [][]int{{0, 0, 1}, {1, 1, 1}}, color: 2},
	PieceJ: {shape: [][]int{{1, 1, 1}, {0, 0, 1}}, color: 3},
	PieceS: {shape: [][]int{{0, 1, 1}, {1, 1, 0}}, color: 4},
	PieceZ: {shape: [][]int{{1, 1, 0}, {0, 1, 1}}, color: 5},
	PieceT: {shape: [][]int{{1, 1, 1}, {0, 1, 0}}, color: 6},
	PieceO: {shape: [][]int{{1, 1}, {1, 1}}, color: 7},
}

// Piece 下落中的方塊
//
// Shape 與 Color 由類型決定；X/Y 為棋盤座標偏移，隨下落與移動而變。
type Piece struct {
	Type  PieceType `json:"type"`
	Shape [][]int   `json:"shape"`
	Color int       `json:"color"`
	X     int       `json:"x"`
	Y     int       `json:"y"`
}

// Board 棋盤網格
//
// 0 = 空格，1-7 = 已鎖定方塊的顏色索引。
// 棋盤由單一 Session 內的單一玩家獨佔，只有鎖定事件會寫入。
type Board [][]int

// NewBoard 創建空棋盤（全零）
func NewBoard() Board {
	b := make(Board, BoardHeight)
	for i := range b {
		b[i] = make([]int, BoardWidth)
	}
	return b
}

// NewPiece 按類型創建方塊，水平置中、y=0 出生
func NewPiece(t PieceType) *Piece {
	def := pieceCatalog[t]
	return &Piece{
		Type:  t,
		Shape: def.shape,
		Color: def.color,
		X:     BoardWidth/2 - len(def.shape[0])/2,
		Y:     0,
	}
}

// RandomPiece 隨機生成方塊（七種類型均勻分佈）
func RandomPiece() *Piece {
	return NewPiece(pieceTypes[rand.IntN(len(pieceTypes))])
}

// Height 方塊的可見高度（矩陣列數）
func (p *Piece) Height() int {
	return len(p.Shape)
}

// Width 方塊的可見寬度（矩陣行數）
func (p *Piece) Width() int {
	if len(p.Shape) == 0 {
		return 0
	}
	return len(p.Shape[0])
}

// CellCount 方塊的實心格數量
func (p *Piece) CellCount() int {
	count := 0
	for _, row := range p.Shape {
		for _, cell := range row {
			if cell != 0 {
				count++
			}
		}
	}
	return count
}

// Rotate 順時針旋轉，返回新方塊（原方塊不變）
//
// 旋轉是否合法由呼叫方以 Collides 驗證，失敗則棄用副本（revert 語義）。
func (p *Piece) Rotate() *Piece {
	rows := len(p.Shape)
	cols := len(p.Shape[0])

	rotated := make([][]int, cols)
	for i := range rotated {
		rotated[i] = make([]int, rows)
	}
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			rotated[x][rows-1-y] = p.Shape[y][x]
		}
	}

	return &Piece{
		Type:  p.Type,
		Shape: rotated,
		Color: p.Color,
		X:     p.X,
		Y:     p.Y,
	}
}

// Collides 檢查方塊在 (dx, dy) 位移後是否與牆壁、地板或已鎖定格衝突
//
// 邊界規則：
//   - 左右超出棋盤 → 衝突
//   - 超過底部 → 衝突
//   - y < 0 的格子（剛出生、尚未進入棋盤）只檢查水平與地板，不讀取網格
func (b Board) Collides(p *Piece, dx, dy int) bool {
	for r, row := range p.Shape {
		for c, cell := range row {
			if cell == 0 {
				continue
			}
			nx := p.X + c + dx
			ny := p.Y + r + dy

			if nx < 0 || nx >= BoardWidth {
				return true
			}
			if ny >= BoardHeight {
				return true
			}
			if ny >= 0 && b[ny][nx] != 0 {
				return true
			}
		}
	}
	return false
}

// Lock 將方塊的實心格以其顏色索引寫入棋盤
//
// 只寫入界內的格子；y < 0 的格子直接略過，絕不產生負索引寫入。
func (b Board) Lock(p *Piece) {
	for r, row := range p.Shape {
		for c, cell := range row {
			if cell == 0 {
				continue
			}
			nx := p.X + c
			ny := p.Y + r
			if ny < 0 || ny >= BoardHeight || nx < 0 || nx >= BoardWidth {
				continue
			}
			b[ny][nx] = p.Color
		}
	}
}

// ClearFullRows 消除所有填滿的行，上方行整體下移，返回消除行數
func (b Board) ClearFullRows() int {
	cleared := 0
	for y := BoardHeight - 1; y >= 0; y-- {
		full := true
		for x := 0; x < BoardWidth; x++ {
			if b[y][x] == 0 {
				full = false
				break
			}
		}
		if !full {
			continue
		}

		// 將上方所有行下移一格，頂行清空
		copy(b[1:y+1], b[0:y])
		b[0] = make([]int, BoardWidth)
		cleared++
		y++ // 下移後同一行需要重新檢查
	}
	return cleared
}

// Flatten 棋盤攤平為一維序列（長度 = BoardWidth * BoardHeight）
//
// 推送協議使用攤平格式，客戶端以 width*height 還原維度。
func (b Board) Flatten() []int {
	cells := make([]int, 0, BoardWidth*BoardHeight)
	for _, row := range b {
		cells = append(cells, row...)
	}
	return cells
}

// CellsFilled 非零格數量（測試與統計用）
func (b Board) CellsFilled() int {
	count := 0
	for _, row := range b {
		for _, cell := range row {
			if cell != 0 {
				count++
			}
		}
	}
	return count
}
