package internal

// 系統設計問題：
//   如何建模一場回合制競技場的完整狀態與生命週期？
//
// 核心挑戰：
//   1. 狀態管理：會話有嚴格的階段轉換（lobby → countdown → active → ending）
//   2. 唯一性約束：顏色互斥、格子佔用互斥
//   3. 單一擁有者：所有實體只存在於 Session 中，重置後不得有殘留副本
//
// 有限狀態機設計：
//
//	lobby → countdown → active ⇄ paused → ending → lobby（重置）
//
// 狀態轉換規則：
//   - lobby → countdown：人數到達固定容量
//   - countdown → active：倒數歸零，生成道具，啟動回合計時
//   - active ⇄ paused：玩家斷線或明確的暫停/恢復請求
//   - active/paused → ending：回合計時歸零，或寬限超時強制結束
//   - ending → lobby：結算展示延遲後重置
//
// 任何階段都不可跳過；ending 每回合只進入一次，直到重置前都是終態。

// Phase 會話階段
type Phase string

const (
	PhaseLobby     Phase = "lobby"     // 等待玩家加入
	PhaseCountdown Phase = "countdown" // 人滿，開場倒數中
	PhaseActive    Phase = "active"    // 回合進行中
	PhasePaused    Phase = "paused"    // 暫停（斷線或明確請求）
	PhaseEnding    Phase = "ending"    // 結算中，等待重置
)

// Direction 移動方向（服務端權威解釋客戶端意圖）
type Direction string

const (
	DirUp    Direction = "ArrowUp"
	DirDown  Direction = "ArrowDown"
	DirLeft  Direction = "ArrowLeft"
	DirRight Direction = "ArrowRight"
)

// delta 將方向解釋為座標位移；未知方向返回 false
func (d Direction) delta() (dx, dy int, ok bool) {
	switch d {
	case DirUp, "Up":
		return 0, -1, true
	case DirDown, "Down":
		return 0, 1, true
	case DirLeft, "Left":
		return -1, 0, true
	case DirRight, "Right":
		return 1, 0, true
	}
	return 0, 0, false
}

// Player 場上玩家（服務端權威狀態）
//
// 由 Session 獨佔持有：位置由移動邏輯修改，分數由撿取邏輯修改，
// 斷線或回合重置時移除。RecordID 是持久化存儲中
// 本回合臨時列的主鍵，持久化失敗時為 0（記憶體分數仍是權威）。
type Player struct {
	ID       string `json:"id"` // 連接控制代碼，服務端分配
	Username string `json:"username"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Score    int    `json:"score"`
	Color    string `json:"color"`

	RecordID int64 `json:"-"` // 持久化列主鍵（不序列化）
}

// Item 可撿取的道具，除位置外沒有身份
type Item struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// TopScorers 計算贏家集合（允許並列）
//
// 刻意的特例：所有人都是 0 分時沒有贏家，返回空集合，
// 而不是「零分的最大值」。並列時全部返回，順序即加入順序。
func TopScorers(players []*Player) []*Player {
	max := 0
	for _, p := range players {
		if p.Score > max {
			max = p.Score
		}
	}
	if max == 0 {
		return []*Player{}
	}

	winners := make([]*Player, 0, len(players))
	for _, p := range players {
		if p.Score == max {
			winners = append(winners, p)
		}
	}
	return winners
}

// 對外廣播事件名稱
const (
	EventPlayerInfo   = "playerInfo"
	EventWaitingRoom  = "waitingRoom"
	EventCountdown    = "countdown"
	EventGameStart    = "gameStart"
	EventGameState    = "gameState"
	EventPlayerScored = "playerScored"
	EventTimeLeft     = "timeLeft"
	EventGamePaused   = "gamePaused"
	EventGameResumed  = "gameResumed"
	EventGameOver     = "gameOver"
	EventRoomFull     = "roomFull"
	EventColorError   = "colorError"
)

// PlayerInfoPayload 私發給加入者的席位分配
type PlayerInfoPayload struct {
	Username     string `json:"username"`
	PlayerNumber int    `json:"playerNumber"` // 1 起算的席位編號 = 加入順序
	Color        string `json:"color"`
}

// RosterEntry 等待室名單中的一項
type RosterEntry struct {
	Num      int    `json:"num"`
	Username string `json:"username"`
	Color    string `json:"color"`
}

// WaitingRoomPayload 廣播的等待室名單
type WaitingRoomPayload struct {
	Players     []RosterEntry `json:"players"`
	TakenColors []string      `json:"takenColors"`
}

// CountdownPayload 開場倒數值
type CountdownPayload struct {
	Value int `json:"value"`
}

// GameStatePayload 一次完整的場面快照
//
// 移動與撿取對客戶端是原子可見的：同一次廣播同時帶出
// 新位置與更新後的道具集合，中間狀態不可觀察。
type GameStatePayload struct {
	Players []Player `json:"players"`
	Items   []Item   `json:"items"`
}

// PlayerScoredPayload 分數變更通知
type PlayerScoredPayload struct {
	PlayerID string `json:"playerId"`
	Score    int    `json:"score"`
}

// TimeLeftPayload 剩餘回合秒數
type TimeLeftPayload struct {
	Value int `json:"value"`
}

// GamePausedPayload 暫停通知
type GamePausedPayload struct {
	By     string `json:"by"`
	Reason string `json:"reason,omitempty"` // 斷線暫停時為 "disconnect"
}

// GameOverPayload 結算通知
type GameOverPayload struct {
	IsTie      bool       `json:"isTie"`
	Winners    []Player   `json:"winners"`
	BestPlayer *Player    `json:"bestPlayer"` // 贏家集合的第一位；無贏家時為 null
	Players    []Player   `json:"players"`
	IsRecord   bool       `json:"isRecord"`
	BestRecord *RecordRow `json:"bestRecord"`
}

// ColorErrorPayload 顏色拒絕的說明
type ColorErrorPayload struct {
	Message string `json:"message"`
}
