package internal

import "time"

// 系統設計問題：
//   計時器回呼如何安全地修改共享的會話狀態？
//
// 核心挑戰：
//   1. 單一寫者：滴答必須和外部事件走同一條序列化路徑
//   2. 取消競態：被取消的計時器不得在繼任者啟動後再生效
//   3. 單一實例：同類計時器同時只能有一個活著
//
// 設計方案：
//   ✅ 每個滴答先取會話鎖，再比對控制代碼，過期滴答在入口處被丟棄
//   ✅ Session 持有唯一的控制代碼，啟動前一律先取消（cancels-before-start）
//   ✅ 停止回合計時不清剩餘秒數（暫停/恢復語義）

// timerHandle 一個計時器實例的控制代碼
//
// 取消的原子性：控制代碼的替換發生在會話鎖內，滴答生效前
// 也必須在鎖內確認自己仍是當前控制代碼。關閉 stop 只是讓
// goroutine 盡快退出，正確性不依賴它。
type timerHandle struct {
	stop chan struct{}
}

func newTimerHandle() *timerHandle {
	return &timerHandle{stop: make(chan struct{})}
}

// startCountdownLocked 啟動開場倒數（需要持有鎖）
//
// 起始值（5, 4, ..., 1, 0 的第一個）在鎖內立即廣播，
// 和觸發它的名單廣播保持投遞順序。
func (s *Session) startCountdownLocked() {
	s.stopCountdownLocked()
	s.countLeft = s.cfg.CountdownSeconds
	s.emitter.EmitToAll(EventCountdown, CountdownPayload{Value: s.countLeft})
	h := newTimerHandle()
	s.countdown = h
	go s.runCountdown(h)
}

// stopCountdownLocked 取消開場倒數（需要持有鎖）
func (s *Session) stopCountdownLocked() {
	if s.countdown != nil {
		close(s.countdown.stop)
		s.countdown = nil
	}
}

// runCountdown 倒數 goroutine：每秒廣播一個值，歸零後開局
func (s *Session) runCountdown(h *timerHandle) {
	ticker := time.NewTicker(s.cfg.TickInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			if !s.countdownTick(h) {
				return
			}
		}
	}
}

// countdownTick 處理一次倒數滴答；返回 false 表示倒數結束
func (s *Session) countdownTick(h *timerHandle) bool {
	s.mu.Lock()
	if s.countdown != h {
		// 過期滴答：這個計時器已被取消
		s.mu.Unlock()
		return false
	}
	s.countLeft--
	done := s.countLeft <= 0
	if done {
		// 歸零即取消自己；開局交給 startGame（它會啟動回合計時）
		s.countdown = nil
	}
	s.emitter.EmitToAll(EventCountdown, CountdownPayload{Value: s.countLeft})
	s.mu.Unlock()

	if done {
		s.startGame()
		return false
	}
	return true
}

// startRoundTimerLocked 啟動回合計時（需要持有鎖）
//
// 一律先取消既有實例：同時只有一個回合計時活著是結構性保證，
// 不是呼叫方的約定。剩餘秒數（timeLeft）不在這裡設置：
// 開局時設滿，恢復時沿用暫停前的值。
func (s *Session) startRoundTimerLocked() {
	s.stopRoundTimerLocked()
	h := newTimerHandle()
	s.roundTimer = h
	go s.runRoundTimer(h)
}

// stopRoundTimerLocked 停止回合計時，剩餘秒數保留（需要持有鎖）
func (s *Session) stopRoundTimerLocked() {
	if s.roundTimer != nil {
		close(s.roundTimer.stop)
		s.roundTimer = nil
	}
}

// runRoundTimer 回合計時 goroutine：每秒廣播剩餘時間，歸零結算
func (s *Session) runRoundTimer(h *timerHandle) {
	ticker := time.NewTicker(s.cfg.TickInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			if !s.roundTick(h) {
				return
			}
		}
	}
}

// roundTick 處理一次回合滴答；返回 false 表示計時結束
//
// 每個滴答都廣播剩餘秒數，包括歸零的最後一個（客戶端看到 0
// 再收到結算），之後才走結束路徑。
func (s *Session) roundTick(h *timerHandle) bool {
	s.mu.Lock()
	if s.roundTimer != h {
		s.mu.Unlock()
		return false
	}
	s.timeLeft--
	value := s.timeLeft
	s.emitter.EmitToAll(EventTimeLeft, TimeLeftPayload{Value: value})
	if value <= 0 {
		s.roundTimer = nil
		outcome := s.beginEndingLocked()
		s.mu.Unlock()
		if outcome != nil {
			s.finishRound(outcome)
		}
		return false
	}
	s.mu.Unlock()
	return true
}

// startGraceTimerLocked 啟動斷線寬限計時（需要持有鎖）
//
// 斷線暫停後的強制推進機制：寬限到期時仍是 paused，
// 就強制結束回合。這是唯一未到零秒就結束回合的情況。
func (s *Session) startGraceTimerLocked() {
	s.stopGraceTimerLocked()
	h := newTimerHandle()
	s.graceTimer = h
	go s.runGrace(h)
}

// stopGraceTimerLocked 解除寬限計時（需要持有鎖）
func (s *Session) stopGraceTimerLocked() {
	if s.graceTimer != nil {
		close(s.graceTimer.stop)
		s.graceTimer = nil
	}
}

// runGrace 寬限 goroutine：單次觸發
func (s *Session) runGrace(h *timerHandle) {
	timer := time.NewTimer(s.cfg.GraceTimeout.Std())
	defer timer.Stop()

	select {
	case <-h.stop:
		return
	case <-timer.C:
	}

	s.mu.Lock()
	if s.graceTimer != h || s.phase != PhasePaused {
		s.mu.Unlock()
		return
	}
	s.graceTimer = nil
	s.logger.Info("斷線寬限超時，強制結束回合")
	outcome := s.beginEndingLocked()
	s.mu.Unlock()

	if outcome != nil {
		s.finishRound(outcome)
	}
}
