package internal

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// 系統設計問題：
//   多名玩家與多個計時器同時驅動同一份會話狀態，如何避免競態？
//
// 核心挑戰：
//   1. 單一寫者：外部事件（加入、移動、斷線、暫停）與內部滴答必須序列化
//   2. 鎖內禁止 I/O：持久化呼叫不能拖慢所有玩家的移動
//   3. 計時器取消：被取消的計時器不得在繼任者啟動後再觸發
//
// 設計方案：
//   ✅ 一把 Mutex 守護整份會話狀態，每個處理函數全程持有
//   ✅ 廣播在鎖內送出：發送是非阻塞的緩衝投遞，鎖內廣播保證
//      快照按產生順序進入每個連接的發送隊列
//   ✅ 持久化在鎖外 fire-and-forget，失敗只記錄
//   ✅ 計時器控制代碼比對 - 過期滴答在入口處被丟棄（見 clock.go）

// Emitter 廣播通道的核心側契約
//
// at-most-once、盡力而為，核心不要求投遞確認。會話在持鎖狀態下
// 呼叫，實現必須非阻塞（緩衝發送，滿了就丟棄，不得等待慢客戶端）。
// 由 WebSocket Hub 實現，測試中以記錄呼叫的假實現替代。
type Emitter interface {
	EmitToAll(event string, data any)
	EmitToOne(connID string, event string, data any)
}

// PlayerStore 玩家存儲的核心側契約（回合內臨時列）
type PlayerStore interface {
	CreatePlayer(username string, score int) (PlayerRow, error)
	UpdateScore(id int64, score int) (PlayerRow, error)
	ClearPlayers() ([]PlayerRow, error)
}

// RecordStore 最佳紀錄存儲的核心側契約
//
// 紀錄在概念上至多一行；Best 在發現多行時返回錯誤
// 而不是靜默讀取第一行。
type RecordStore interface {
	Best() (*RecordRow, error)
	CreateRecord(username string, score int) (RecordRow, error)
	ClearRecords() ([]RecordRow, error)
}

// Session 單一競技場的會話協調者
//
// 整個進程至多一個活躍競技場。所有狀態由這裡獨佔持有，
// 推廣到多房間時，變成 map[RoomID]*Session，各自獨立調度。
type Session struct {
	mu      sync.Mutex
	cfg     GameConfig
	logger  *slog.Logger
	emitter Emitter
	players PlayerStore
	records RecordStore
	grid    Grid
	rng     *rand.Rand

	phase     Phase
	roster    []*Player // 插入順序 = 加入順序 = 席位編號
	items     []Item
	timeLeft  int // 剩餘回合秒數
	countLeft int // 剩餘倒數秒數

	countdown  *timerHandle
	roundTimer *timerHandle
	graceTimer *timerHandle
	resetTimer *time.Timer
}

// NewSession 創建會話協調者
func NewSession(cfg GameConfig, emitter Emitter, players PlayerStore, records RecordStore, logger *slog.Logger) *Session {
	return &Session{
		cfg:     cfg,
		logger:  logger,
		emitter: emitter,
		players: players,
		records: records,
		grid:    NewGrid(cfg.GridSize),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		phase:   PhaseLobby,
	}
}

// Join 處理加入請求
//
// 前置檢查有明確順序（同時違反多項時，順序決定回報哪個錯誤）：
// 先檢查顏色互斥，再檢查容量。成功時：
//   1. 先私發席位分配（playerInfo）
//   2. 再廣播更新後的名單（waitingRoom）
//
// 這個順序保證客戶端不會先在廣播裡看不到自己。廣播在鎖內送出，
// 並發入場時名單快照按產生順序投遞，客戶端不會停在過期名單上。
// 人滿時在同一個臨界區內完成 lobby → countdown 的轉換並啟動倒數。
func (s *Session) Join(connID, username, color string) error {
	s.mu.Lock()

	// 回合已開始的會話不可加入；對請求者而言等同房間已滿
	if s.phase != PhaseLobby {
		s.emitter.EmitToOne(connID, EventRoomFull, struct{}{})
		s.mu.Unlock()
		return ErrRoomFull
	}

	if !s.cfg.hasColor(color) {
		s.emitter.EmitToOne(connID, EventColorError, ColorErrorPayload{Message: ErrInvalidColor.Error()})
		s.mu.Unlock()
		return ErrInvalidColor
	}

	// (a) 顏色互斥先於 (b) 容量
	for _, p := range s.roster {
		if p.Color == color {
			s.emitter.EmitToOne(connID, EventColorError, ColorErrorPayload{Message: ErrColorTaken.Error()})
			s.mu.Unlock()
			return ErrColorTaken
		}
	}
	if len(s.roster) >= s.cfg.MaxPlayers {
		s.emitter.EmitToOne(connID, EventRoomFull, struct{}{})
		s.mu.Unlock()
		return ErrRoomFull
	}

	player := &Player{
		ID:       connID,
		Username: username,
		Color:    color,
		// 位置固定從 (0,0) 起步
	}
	s.roster = append(s.roster, player)
	slot := len(s.roster)

	s.emitter.EmitToOne(connID, EventPlayerInfo, PlayerInfoPayload{
		Username:     username,
		PlayerNumber: slot,
		Color:        color,
	})
	s.emitter.EmitToAll(EventWaitingRoom, s.waitingRoomLocked())

	if len(s.roster) == s.cfg.MaxPlayers {
		// 人滿 → 開場倒數（原子轉換，和入場檢查在同一臨界區）
		s.phase = PhaseCountdown
		s.startCountdownLocked()
	}
	s.mu.Unlock()

	// 持久化 fire-and-forget；失敗只記錄，不阻止加入（記憶體狀態是權威）
	go s.persistJoin(player, username)

	s.logger.Info("玩家加入",
		"conn_id", connID,
		"username", username,
		"color", color,
		"slot", slot)
	return nil
}

// persistJoin 為新玩家創建本回合的臨時列
func (s *Session) persistJoin(player *Player, username string) {
	row, err := s.players.CreatePlayer(username, 0)
	if err != nil {
		s.logger.Warn("玩家持久化失敗", "username", username, "error", err)
		return
	}
	s.mu.Lock()
	player.RecordID = row.ID
	s.mu.Unlock()
}

// Move 處理移動請求
//
// 以下情況皆為 no-op 而非錯誤：階段不是 active、玩家未知、
// 撞牆（夾回原位即整步不生效）、目標格被其他玩家佔據（整步拒絕，
// 不是只擋住衝突的軸）。成功時每次呼叫恰好改變一名玩家的位置，
// 撿取判定在廣播前同步完成，場面更新以單次 gameState 送出。
func (s *Session) Move(connID string, dir Direction) {
	dx, dy, ok := dir.delta()
	if !ok {
		return
	}

	s.mu.Lock()
	if s.phase != PhaseActive {
		s.mu.Unlock()
		return
	}
	player := s.findLocked(connID)
	if player == nil {
		s.mu.Unlock()
		return
	}

	nx, ny := s.grid.Clamp(player.X+dx, player.Y+dy)
	if nx == player.X && ny == player.Y {
		s.mu.Unlock()
		return
	}
	if occupiedBy(s.roster, nx, ny, player.ID) != nil {
		s.mu.Unlock()
		return
	}

	player.X, player.Y = nx, ny
	scored, recordID, newScore := s.resolvePickupLocked(player)
	if scored {
		s.emitter.EmitToAll(EventPlayerScored, PlayerScoredPayload{PlayerID: player.ID, Score: newScore})
	}
	s.emitter.EmitToAll(EventGameState, s.gameStateLocked())
	s.mu.Unlock()

	if scored {
		// 持久化 fire-and-forget：失敗只記錄，本回合的記憶體分數仍是權威
		go s.persistScore(recordID, newScore)
	}
}

// resolvePickupLocked 撿取判定：移除命中的道具、加分、一比一補充
//
// 道具數量在 active 階段恆定，移除與補充在同一臨界區內完成，
// 不存在可觀察到的「少一個道具」的間隙。
func (s *Session) resolvePickupLocked(player *Player) (scored bool, recordID int64, newScore int) {
	for i, item := range s.items {
		if item.X == player.X && item.Y == player.Y {
			player.Score++
			s.items = append(s.items[:i], s.items[i+1:]...)
			x, y := s.grid.RandomCell(s.rng)
			s.items = append(s.items, Item{X: x, Y: y})
			return true, player.RecordID, player.Score
		}
	}
	return false, 0, 0
}

// persistScore 將新分數寫入玩家存儲
func (s *Session) persistScore(recordID int64, score int) {
	if recordID == 0 {
		// 加入時的持久化已失敗，本回合此玩家沒有對應列
		s.logger.Debug("略過分數持久化：玩家沒有持久化列", "score", score)
		return
	}
	if _, err := s.players.UpdateScore(recordID, score); err != nil {
		s.logger.Warn("分數持久化失敗", "record_id", recordID, "score", score, "error", err)
	}
}

// Pause 處理明確的暫停請求（僅 active 階段有效）
//
// 與斷線暫停做同樣的計時器停止（剩餘秒數保留），
// 但不移除玩家、不啟動寬限計時。
func (s *Session) Pause(connID string) {
	s.mu.Lock()
	if s.phase != PhaseActive {
		s.mu.Unlock()
		return
	}
	player := s.findLocked(connID)
	if player == nil {
		s.mu.Unlock()
		return
	}
	s.phase = PhasePaused
	s.stopRoundTimerLocked()
	by := player.Username
	s.emitter.EmitToAll(EventGamePaused, GamePausedPayload{By: by})
	s.mu.Unlock()

	s.logger.Info("遊戲暫停", "by", by)
}

// Resume 處理恢復請求（僅 paused 階段有效）
//
// 回合計時從保留的剩餘秒數繼續；同時解除寬限計時
// （斷線暫停後剩餘玩家也可以選擇繼續）。
func (s *Session) Resume(connID string) {
	s.mu.Lock()
	if s.phase != PhasePaused {
		s.mu.Unlock()
		return
	}
	if s.findLocked(connID) == nil {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseActive
	s.stopGraceTimerLocked()
	s.startRoundTimerLocked()
	s.emitter.EmitToAll(EventGameResumed, struct{}{})
	s.mu.Unlock()

	s.logger.Info("遊戲恢復", "conn_id", connID)
}

// Disconnect 處理玩家離開（quit 請求或傳輸層斷線）
//
// 回合前：移除玩家並重新廣播名單（席位按剩餘加入順序重新編號，
// 顏色釋放）。回合中：移除玩家、轉入 paused、停止回合計時
// （剩餘秒數保留）、廣播含離開者與原因的暫停通知，並啟動單一
// 寬限計時；寬限到期仍是 paused 就強制結束回合，這是唯一
// 未到零秒就結束回合的情況。未知玩家靜默忽略。
func (s *Session) Disconnect(connID string) {
	s.mu.Lock()
	idx := -1
	for i, p := range s.roster {
		if p.ID == connID {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return
	}
	player := s.roster[idx]
	s.roster = append(s.roster[:idx], s.roster[idx+1:]...)

	switch s.phase {
	case PhaseLobby, PhaseCountdown:
		// 回合尚未開始：倒數（若在跑）照常進行，剩下的人開局
		s.emitter.EmitToAll(EventWaitingRoom, s.waitingRoomLocked())
		s.mu.Unlock()

	case PhaseActive, PhasePaused:
		s.phase = PhasePaused
		s.stopRoundTimerLocked()
		s.startGraceTimerLocked()
		s.emitter.EmitToAll(EventGamePaused, GamePausedPayload{By: player.Username, Reason: "disconnect"})
		s.mu.Unlock()

	default:
		// ending：結算快照已經送出，重置會清掉所有人
		s.mu.Unlock()
	}

	s.logger.Info("玩家離開", "conn_id", connID, "username", player.Username)
}

// startGame 倒數歸零後開局：生成道具、啟動回合計時
func (s *Session) startGame() {
	s.mu.Lock()
	if s.phase != PhaseCountdown {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseActive
	s.items = make([]Item, 0, s.cfg.ItemCount)
	for i := 0; i < s.cfg.ItemCount; i++ {
		x, y := s.grid.RandomCell(s.rng)
		s.items = append(s.items, Item{X: x, Y: y})
	}
	s.timeLeft = s.cfg.RoundSeconds
	s.startRoundTimerLocked()
	s.emitter.EmitToAll(EventGameStart, struct{}{})
	s.emitter.EmitToAll(EventGameState, s.gameStateLocked())
	playerCount, itemCount := len(s.roster), len(s.items)
	s.mu.Unlock()

	s.logger.Info("回合開始", "players", playerCount, "items", itemCount)
}

// EndRound 結束回合並結算
//
// 冪等保護：已在 ending 階段的呼叫直接忽略，結算、持久化與
// 廣播序列每回合恰好執行一次（回合計時歸零與寬限超時可能競爭觸發）。
func (s *Session) EndRound() {
	s.mu.Lock()
	outcome := s.beginEndingLocked()
	s.mu.Unlock()

	if outcome != nil {
		s.finishRound(outcome)
	}
}

// roundOutcome 在鎖內收集的結算快照，持久化與廣播在鎖外使用
type roundOutcome struct {
	players []Player
	winners []Player
	best    *Player
}

// beginEndingLocked 進入 ending 階段並收集結算快照
//
// 已在 ending 時返回 nil（冪等保護）。所有計時器在這裡停止。
func (s *Session) beginEndingLocked() *roundOutcome {
	if s.phase == PhaseEnding {
		return nil
	}
	s.phase = PhaseEnding
	s.stopCountdownLocked()
	s.stopRoundTimerLocked()
	s.stopGraceTimerLocked()

	winners := TopScorers(s.roster)
	out := &roundOutcome{
		players: make([]Player, 0, len(s.roster)),
		winners: make([]Player, 0, len(winners)),
	}
	for _, p := range s.roster {
		out.players = append(out.players, *p)
	}
	for _, p := range winners {
		out.winners = append(out.winners, *p)
	}
	if len(out.winners) > 0 {
		out.best = &out.winners[0]
	}
	return out
}

// finishRound 結算的鎖外部分：紀錄仲裁、廣播、排程重置
//
// 廣播必須反映持久化決策的結果，而不是過期的讀取：
//   - 剛破紀錄且先前有紀錄 → 廣播被打破的舊紀錄（讓客戶端看到打破了什麼）
//   - 剛破紀錄且先前沒有 → 廣播剛創建的新紀錄
//   - 沒破紀錄 → 廣播現有紀錄，原樣不動
//
// 存儲失敗（包括紀錄表多於一行的大聲失敗）只記錄日誌，
// isRecord 視為 false，回合轉換照常進行。
func (s *Session) finishRound(out *roundOutcome) {
	var bestRecord *RecordRow
	isRecord := false

	existing, err := s.records.Best()
	if err != nil {
		s.logger.Error("讀取最佳紀錄失敗", "error", err)
	} else {
		bestRecord = existing
		if out.best != nil && (existing == nil || out.best.Score > existing.Score) {
			isRecord = true
			// clear-before-create：紀錄表必須保持至多一行
			if _, err := s.records.ClearRecords(); err != nil {
				s.logger.Error("清除舊紀錄失敗", "error", err)
			}
			created, err := s.records.CreateRecord(out.best.Username, out.best.Score)
			if err != nil {
				s.logger.Error("寫入新紀錄失敗", "error", err)
				isRecord = false
				bestRecord = existing
			} else if existing == nil {
				bestRecord = &created
			}
		}
	}

	s.emitter.EmitToAll(EventGameOver, GameOverPayload{
		IsTie:      len(out.winners) > 1,
		Winners:    out.winners,
		BestPlayer: out.best,
		Players:    out.players,
		IsRecord:   isRecord,
		BestRecord: bestRecord,
	})
	s.logger.Info("回合結束",
		"winners", len(out.winners),
		"is_tie", len(out.winners) > 1,
		"is_record", isRecord)

	// 給客戶端展示結算畫面的時間，之後重置回等待室
	s.mu.Lock()
	s.resetTimer = time.AfterFunc(s.cfg.ResetDelay.Std(), s.reset)
	s.mu.Unlock()
}

// reset 回合重置：清空玩家與道具，回到 lobby
//
// 回合內的臨時玩家列整批清除，只有最佳紀錄跨回合存活。
func (s *Session) reset() {
	s.mu.Lock()
	if s.phase != PhaseEnding {
		s.mu.Unlock()
		return
	}
	s.roster = nil
	s.items = nil
	s.timeLeft = 0
	s.phase = PhaseLobby
	s.mu.Unlock()

	if removed, err := s.players.ClearPlayers(); err != nil {
		s.logger.Warn("清除回合玩家列失敗", "error", err)
	} else {
		s.logger.Info("會話已重置", "cleared_players", len(removed))
	}
}

// Stop 停止會話的所有計時器（進程關閉時呼叫）
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCountdownLocked()
	s.stopRoundTimerLocked()
	s.stopGraceTimerLocked()
	if s.resetTimer != nil {
		s.resetTimer.Stop()
		s.resetTimer = nil
	}
}

// findLocked 以連接控制代碼查找在場玩家
func (s *Session) findLocked(connID string) *Player {
	for _, p := range s.roster {
		if p.ID == connID {
			return p
		}
	}
	return nil
}

// waitingRoomLocked 構建等待室名單快照
func (s *Session) waitingRoomLocked() WaitingRoomPayload {
	payload := WaitingRoomPayload{
		Players:     make([]RosterEntry, 0, len(s.roster)),
		TakenColors: make([]string, 0, len(s.roster)),
	}
	for i, p := range s.roster {
		payload.Players = append(payload.Players, RosterEntry{
			Num:      i + 1,
			Username: p.Username,
			Color:    p.Color,
		})
		payload.TakenColors = append(payload.TakenColors, p.Color)
	}
	return payload
}

// gameStateLocked 構建場面快照（玩家與道具的值拷貝）
func (s *Session) gameStateLocked() GameStatePayload {
	state := GameStatePayload{
		Players: make([]Player, 0, len(s.roster)),
		Items:   make([]Item, len(s.items)),
	}
	for _, p := range s.roster {
		state.Players = append(state.Players, *p)
	}
	copy(state.Items, s.items)
	return state
}

// Phase 當前階段
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Players 在場玩家快照（加入順序）
func (s *Session) Players() []Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	players := make([]Player, 0, len(s.roster))
	for _, p := range s.roster {
		players = append(players, *p)
	}
	return players
}

// Items 場上道具快照
func (s *Session) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Item, len(s.items))
	copy(items, s.items)
	return items
}

// TimeLeft 剩餘回合秒數
func (s *Session) TimeLeft() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeLeft
}

// SeedItems 以指定道具集合取代場上道具（公開方法供測試使用）
func (s *Session) SeedItems(items ...Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make([]Item, len(items))
	copy(s.items, items)
}

// Stats 獲取統計資訊
func (s *Session) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"phase":     s.phase,
		"players":   len(s.roster),
		"items":     len(s.items),
		"time_left": s.timeLeft,
	}
}
