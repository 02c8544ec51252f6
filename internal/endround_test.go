package internal_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/koopa0/grid-arena/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// soloConfig 單人房間，最快速度跑完一回合的規則
func soloConfig() internal.GameConfig {
	cfg := testGameConfig()
	cfg.MaxPlayers = 1
	cfg.Colors = []string{"red"}
	return cfg
}

// soloSession 單人入場並等到回合開始
func soloSession(t *testing.T, cfg internal.GameConfig) (*internal.Session, *fakeEmitter, *fakeRecordStore) {
	t.Helper()
	emitter := &fakeEmitter{}
	players := &fakePlayerStore{}
	records := &fakeRecordStore{}
	session := internal.NewSession(cfg, emitter, players, records, testLogger())
	t.Cleanup(session.Stop)

	require.NoError(t, session.Join("conn1", "玩家一", "red"))
	waitActive(t, session)
	return session, emitter, records
}

// scoreN 讓 conn1 連續撿取 n 次（每次把道具放在右邊一格）
func scoreN(t *testing.T, session *internal.Session, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		session.SeedItems(internal.Item{X: i, Y: 0})
		session.Move("conn1", internal.DirRight)
	}
	require.Equal(t, n, session.Players()[0].Score)
}

// TestTopScorers 測試贏家計算
func TestTopScorers(t *testing.T) {
	tests := []struct {
		name     string
		scores   []int
		wantIdxs []int // 期望的贏家在輸入中的下標
	}{
		{
			name:     "all zero means no winner",
			scores:   []int{0, 0, 0},
			wantIdxs: []int{},
		},
		{
			name:     "single max",
			scores:   []int{1, 3, 2},
			wantIdxs: []int{1},
		},
		{
			name:     "tie keeps join order",
			scores:   []int{3, 1, 3},
			wantIdxs: []int{0, 2},
		},
		{
			name:     "empty roster",
			scores:   []int{},
			wantIdxs: []int{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			players := make([]*internal.Player, 0, len(tt.scores))
			for i, score := range tt.scores {
				players = append(players, &internal.Player{
					ID:    fmt.Sprintf("conn%d", i+1),
					Score: score,
				})
			}

			winners := internal.TopScorers(players)

			require.Len(t, winners, len(tt.wantIdxs))
			for i, idx := range tt.wantIdxs {
				assert.Same(t, players[idx], winners[i])
			}
		})
	}
}

// TestSession_EndRoundRecordArbitration 測試結算時的紀錄仲裁
//
// 廣播的 bestRecord 必須反映持久化決策的結果：
// 破紀錄時展示被打破的舊紀錄，首次創建時展示新紀錄，
// 沒破時原樣展示現有紀錄。
func TestSession_EndRoundRecordArbitration(t *testing.T) {
	tests := []struct {
		name     string
		existing []internal.RecordRow
		score    int
		validate func(t *testing.T, payload internal.GameOverPayload, records *fakeRecordStore)
	}{
		{
			name:  "empty store creates first record",
			score: 2,
			validate: func(t *testing.T, payload internal.GameOverPayload, records *fakeRecordStore) {
				assert.True(t, payload.IsRecord)
				assert.Equal(t, 1, records.creates())
				// 先前沒有紀錄：廣播剛創建的那一行
				require.NotNil(t, payload.BestRecord)
				assert.Equal(t, "玩家一", payload.BestRecord.Username)
				assert.Equal(t, 2, payload.BestRecord.Score)
			},
		},
		{
			name:     "higher score replaces record and shows the beaten one",
			existing: []internal.RecordRow{{ID: 7, Username: "舊紀錄保持者", Score: 1}},
			score:    2,
			validate: func(t *testing.T, payload internal.GameOverPayload, records *fakeRecordStore) {
				assert.True(t, payload.IsRecord)
				assert.Equal(t, 1, records.creates())
				// 廣播被打破的舊紀錄，讓客戶端看到打破了什麼
				require.NotNil(t, payload.BestRecord)
				assert.Equal(t, "舊紀錄保持者", payload.BestRecord.Username)
				assert.Equal(t, 1, payload.BestRecord.Score)
			},
		},
		{
			name:     "equal score does not replace",
			existing: []internal.RecordRow{{ID: 7, Username: "舊紀錄保持者", Score: 2}},
			score:    2,
			validate: func(t *testing.T, payload internal.GameOverPayload, records *fakeRecordStore) {
				assert.False(t, payload.IsRecord)
				assert.Equal(t, 0, records.creates())
				require.NotNil(t, payload.BestRecord)
				assert.Equal(t, "舊紀錄保持者", payload.BestRecord.Username)
			},
		},
		{
			name:     "no winner leaves record untouched",
			existing: []internal.RecordRow{{ID: 7, Username: "舊紀錄保持者", Score: 5}},
			score:    0,
			validate: func(t *testing.T, payload internal.GameOverPayload, records *fakeRecordStore) {
				assert.Empty(t, payload.Winners)
				assert.Nil(t, payload.BestPlayer)
				assert.False(t, payload.IsTie)
				assert.False(t, payload.IsRecord)
				assert.Equal(t, 0, records.creates())
				require.NotNil(t, payload.BestRecord)
				assert.Equal(t, 5, payload.BestRecord.Score)
			},
		},
		{
			name: "corrupt store fails loudly",
			existing: []internal.RecordRow{
				{ID: 1, Username: "甲", Score: 3},
				{ID: 2, Username: "乙", Score: 4},
			},
			score: 9,
			validate: func(t *testing.T, payload internal.GameOverPayload, records *fakeRecordStore) {
				// 多於一行 → Best 返回錯誤 → 只記錄日誌，回合照常結束
				assert.False(t, payload.IsRecord)
				assert.Nil(t, payload.BestRecord)
				assert.Equal(t, 0, records.creates())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, emitter, records := soloSession(t, soloConfig())
			records.mu.Lock()
			records.rows = append(records.rows, tt.existing...)
			records.mu.Unlock()

			if tt.score > 0 {
				scoreN(t, session, tt.score)
			}

			session.EndRound()

			require.Equal(t, 1, emitter.count(internal.EventGameOver))
			over, _ := emitter.last(internal.EventGameOver)
			tt.validate(t, over.Data.(internal.GameOverPayload), records)
		})
	}
}

// TestSession_EndRoundTie 測試平手結算
func TestSession_EndRoundTie(t *testing.T) {
	cfg := testGameConfig()
	cfg.MaxPlayers = 2
	cfg.Colors = []string{"red", "blue"}

	session, emitter, _, _ := newTestSession(cfg)
	defer session.Stop()

	require.NoError(t, session.Join("conn1", "玩家一", "red"))
	require.NoError(t, session.Join("conn2", "玩家二", "blue"))
	waitActive(t, session)

	// 兩人各撿一個道具
	session.SeedItems(internal.Item{X: 1, Y: 0})
	session.Move("conn1", internal.DirRight)
	session.SeedItems(internal.Item{X: 0, Y: 1})
	session.Move("conn2", internal.DirDown)

	session.EndRound()

	over, ok := emitter.last(internal.EventGameOver)
	require.True(t, ok)
	payload := over.Data.(internal.GameOverPayload)

	assert.True(t, payload.IsTie)
	require.Len(t, payload.Winners, 2)
	// 並列贏家按加入順序排列，bestPlayer 是第一位
	assert.Equal(t, "玩家一", payload.Winners[0].Username)
	assert.Equal(t, "玩家二", payload.Winners[1].Username)
	require.NotNil(t, payload.BestPlayer)
	assert.Equal(t, "玩家一", payload.BestPlayer.Username)
	require.Len(t, payload.Players, 2)
}

// TestSession_EndRoundIdempotent 測試結算只執行一次
//
// 回合計時歸零與寬限超時可能競爭觸發結束，
// 第二次呼叫必須被冪等保護吸收。
func TestSession_EndRoundIdempotent(t *testing.T) {
	session, emitter, records := soloSession(t, soloConfig())

	scoreN(t, session, 1)

	session.EndRound()
	session.EndRound()

	assert.Equal(t, 1, emitter.count(internal.EventGameOver))
	assert.Equal(t, 1, records.creates())
}

// TestSession_RoundTimerExpiry 測試回合計時自然歸零
func TestSession_RoundTimerExpiry(t *testing.T) {
	cfg := soloConfig()
	cfg.RoundSeconds = 2

	session, emitter, _ := soloSession(t, cfg)

	// 計時歸零 → 自動結算
	require.Eventually(t, func() bool {
		return emitter.count(internal.EventGameOver) == 1
	}, time.Second, time.Millisecond)

	// 每秒廣播剩餘秒數，包括歸零的最後一個滴答
	timeLefts := emitter.all(internal.EventTimeLeft)
	require.NotEmpty(t, timeLefts)
	last := timeLefts[len(timeLefts)-1].Data.(internal.TimeLeftPayload)
	assert.Equal(t, 0, last.Value)

	// 歸零滴答先於結算廣播
	lastTimeIdx, overIdx := -1, -1
	for i, name := range emitter.sequence() {
		switch name {
		case internal.EventTimeLeft:
			lastTimeIdx = i
		case internal.EventGameOver:
			if overIdx == -1 {
				overIdx = i
			}
		}
	}
	assert.Less(t, lastTimeIdx, overIdx)

	// 結算展示延遲後回到等待室，可以開下一回合
	require.Eventually(t, func() bool {
		return session.Phase() == internal.PhaseLobby
	}, time.Second, time.Millisecond)
	assert.Empty(t, session.Players())
	assert.Zero(t, session.TimeLeft())
}

// TestSession_JoinPersistFailure 測試持久化失敗不阻止加入
func TestSession_JoinPersistFailure(t *testing.T) {
	emitter := &fakeEmitter{}
	players := &fakePlayerStore{failCreate: true}
	records := &fakeRecordStore{}
	session := internal.NewSession(testGameConfig(), emitter, players, records, testLogger())
	defer session.Stop()

	// 記憶體狀態是權威：存儲失敗只記錄，加入照常成功
	require.NoError(t, session.Join("conn1", "玩家一", "red"))
	require.Len(t, session.Players(), 1)
	assert.Equal(t, 1, emitter.count(internal.EventPlayerInfo))
	assert.Equal(t, 1, emitter.count(internal.EventWaitingRoom))
}
