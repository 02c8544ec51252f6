package internal

import "math/rand"

// Grid 固定大小的 N×N 網格，零索引
//
// 純幾何層：只負責邊界、隨機取樣與佔用查詢，
// 不持有任何玩家或道具狀態。
type Grid struct {
	Size int
}

// NewGrid 創建網格
func NewGrid(size int) Grid {
	return Grid{Size: size}
}

// Contains 檢查座標是否在界內
func (g Grid) Contains(x, y int) bool {
	return x >= 0 && x < g.Size && y >= 0 && y < g.Size
}

// Clamp 將座標夾回界內
//
// 撞牆語義：越界的軸直接不生效（夾回原值），不回報錯誤。
func (g Grid) Clamp(x, y int) (int, int) {
	if x < 0 {
		x = 0
	}
	if x >= g.Size {
		x = g.Size - 1
	}
	if y < 0 {
		y = 0
	}
	if y >= g.Size {
		y = g.Size - 1
	}
	return x, y
}

// RandomCell 均勻取樣一個格子
//
// 取樣彼此獨立，允許（罕見地）與玩家或其他道具重疊，
// 這是接受的折衷：保證空格生成不在本設計的目標內。
func (g Grid) RandomCell(rng *rand.Rand) (int, int) {
	return rng.Intn(g.Size), rng.Intn(g.Size)
}

// occupiedBy 返回佔據 (x, y) 的玩家，排除 excludeID 自己
func occupiedBy(players []*Player, x, y int, excludeID string) *Player {
	for _, p := range players {
		if p.ID == excludeID {
			continue
		}
		if p.X == x && p.Y == y {
			return p
		}
	}
	return nil
}
