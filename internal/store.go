package internal

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
)

// 系統設計問題：
//   回合間需要存活的資料（最佳紀錄）與回合內的臨時資料（玩家分數列）
//   如何持久化？
//
// 設計方案：
//   ✅ 嵌入式 SQLite - 單進程競技場不需要外部資料庫服務
//   ✅ players 表：每回合的臨時列，回合重置時整批清除
//   ✅ records 表：跨回合的最佳紀錄，概念上至多一行
//   ✅ 存儲失敗永遠不阻塞回合轉換（記憶體狀態是回合內的權威）

// PlayerRow 玩家存儲中的一列
type PlayerRow struct {
	ID       int64  `json:"idPlayer"`
	Username string `json:"username"`
	Score    int    `json:"score"`
}

// RecordRow 紀錄存儲中的一列
type RecordRow struct {
	ID       int64  `json:"idRecord"`
	Username string `json:"username"`
	Score    int    `json:"score"`
}

// Store SQLite 持久化存儲，同時實現 PlayerStore 與 RecordStore
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS players (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT    NOT NULL UNIQUE,
	score    INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS records (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT    NOT NULL,
	score    INTEGER NOT NULL DEFAULT 0
);
`

// NewStore 打開資料庫並確保表結構存在
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger.Info("持久化存儲就緒", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close 關閉資料庫
func (s *Store) Close() error {
	return s.db.Close()
}

// --- PlayerStore ---

// CreatePlayer 創建玩家列；名稱重複時失敗
func (s *Store) CreatePlayer(username string, score int) (PlayerRow, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM players WHERE username = ?`, username).Scan(&exists); err != nil {
		return PlayerRow{}, fmt.Errorf("check username: %w", err)
	}
	if exists > 0 {
		return PlayerRow{}, fmt.Errorf("%w: %s", ErrDuplicateUsername, username)
	}

	result, err := s.db.Exec(`INSERT INTO players (username, score) VALUES (?, ?)`, username, score)
	if err != nil {
		return PlayerRow{}, fmt.Errorf("insert player: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return PlayerRow{}, fmt.Errorf("last insert id: %w", err)
	}
	return PlayerRow{ID: id, Username: username, Score: score}, nil
}

// UpdateScore 更新玩家分數
func (s *Store) UpdateScore(id int64, score int) (PlayerRow, error) {
	result, err := s.db.Exec(`UPDATE players SET score = ? WHERE id = ?`, score, id)
	if err != nil {
		return PlayerRow{}, fmt.Errorf("update score: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return PlayerRow{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return PlayerRow{}, fmt.Errorf("%w: id=%d", ErrPlayerNotFound, id)
	}
	return s.FindPlayer(id)
}

// FindPlayers 列出所有玩家列
func (s *Store) FindPlayers() ([]PlayerRow, error) {
	rows, err := s.db.Query(`SELECT id, username, score FROM players ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query players: %w", err)
	}
	defer rows.Close()

	players := make([]PlayerRow, 0)
	for rows.Next() {
		var p PlayerRow
		if err := rows.Scan(&p.ID, &p.Username, &p.Score); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

// FindPlayer 以主鍵查找玩家列
func (s *Store) FindPlayer(id int64) (PlayerRow, error) {
	var p PlayerRow
	err := s.db.QueryRow(`SELECT id, username, score FROM players WHERE id = ?`, id).
		Scan(&p.ID, &p.Username, &p.Score)
	if err == sql.ErrNoRows {
		return PlayerRow{}, fmt.Errorf("%w: id=%d", ErrPlayerNotFound, id)
	}
	if err != nil {
		return PlayerRow{}, fmt.Errorf("query player: %w", err)
	}
	return p, nil
}

// UpdatePlayer 更新玩家列（名稱與分數皆可選）
func (s *Store) UpdatePlayer(id int64, username string, score *int) (PlayerRow, error) {
	p, err := s.FindPlayer(id)
	if err != nil {
		return PlayerRow{}, err
	}
	if username != "" {
		p.Username = username
	}
	if score != nil {
		p.Score = *score
	}
	if _, err := s.db.Exec(`UPDATE players SET username = ?, score = ? WHERE id = ?`, p.Username, p.Score, id); err != nil {
		return PlayerRow{}, fmt.Errorf("update player: %w", err)
	}
	return p, nil
}

// RemovePlayer 刪除玩家列，返回被刪除的列
func (s *Store) RemovePlayer(id int64) (PlayerRow, error) {
	p, err := s.FindPlayer(id)
	if err != nil {
		return PlayerRow{}, err
	}
	if _, err := s.db.Exec(`DELETE FROM players WHERE id = ?`, id); err != nil {
		return PlayerRow{}, fmt.Errorf("delete player: %w", err)
	}
	return p, nil
}

// ClearPlayers 整批清除玩家列，返回被清除的列
func (s *Store) ClearPlayers() ([]PlayerRow, error) {
	players, err := s.FindPlayers()
	if err != nil {
		return nil, err
	}
	if _, err := s.db.Exec(`DELETE FROM players`); err != nil {
		return nil, fmt.Errorf("clear players: %w", err)
	}
	return players, nil
}

// --- RecordStore ---

// Records 列出所有紀錄列
func (s *Store) Records() ([]RecordRow, error) {
	rows, err := s.db.Query(`SELECT id, username, score FROM records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := make([]RecordRow, 0)
	for rows.Next() {
		var r RecordRow
		if err := rows.Scan(&r.ID, &r.Username, &r.Score); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Best 讀取「那一行」最佳紀錄
//
// 返回 nil 表示還沒有紀錄。多於一行代表 clear-before-create
// 的約定被違反，這裡大聲失敗而不是靜默讀第一行。
func (s *Store) Best() (*RecordRow, error) {
	records, err := s.Records()
	if err != nil {
		return nil, err
	}
	switch len(records) {
	case 0:
		return nil, nil
	case 1:
		return &records[0], nil
	default:
		return nil, fmt.Errorf("%w: %d 筆", ErrMultipleRecords, len(records))
	}
}

// CreateRecord 創建紀錄列
func (s *Store) CreateRecord(username string, score int) (RecordRow, error) {
	result, err := s.db.Exec(`INSERT INTO records (username, score) VALUES (?, ?)`, username, score)
	if err != nil {
		return RecordRow{}, fmt.Errorf("insert record: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return RecordRow{}, fmt.Errorf("last insert id: %w", err)
	}
	return RecordRow{ID: id, Username: username, Score: score}, nil
}

// FindRecord 以主鍵查找紀錄列
func (s *Store) FindRecord(id int64) (RecordRow, error) {
	var r RecordRow
	err := s.db.QueryRow(`SELECT id, username, score FROM records WHERE id = ?`, id).
		Scan(&r.ID, &r.Username, &r.Score)
	if err == sql.ErrNoRows {
		return RecordRow{}, fmt.Errorf("%w: id=%d", ErrRecordNotFound, id)
	}
	if err != nil {
		return RecordRow{}, fmt.Errorf("query record: %w", err)
	}
	return r, nil
}

// UpdateRecord 更新紀錄列（名稱與分數皆可選）
func (s *Store) UpdateRecord(id int64, username string, score *int) (RecordRow, error) {
	r, err := s.FindRecord(id)
	if err != nil {
		return RecordRow{}, err
	}
	if username != "" {
		r.Username = username
	}
	if score != nil {
		r.Score = *score
	}
	if _, err := s.db.Exec(`UPDATE records SET username = ?, score = ? WHERE id = ?`, r.Username, r.Score, id); err != nil {
		return RecordRow{}, fmt.Errorf("update record: %w", err)
	}
	return r, nil
}

// RemoveRecord 刪除紀錄列，返回被刪除的列
func (s *Store) RemoveRecord(id int64) (RecordRow, error) {
	r, err := s.FindRecord(id)
	if err != nil {
		return RecordRow{}, err
	}
	if _, err := s.db.Exec(`DELETE FROM records WHERE id = ?`, id); err != nil {
		return RecordRow{}, fmt.Errorf("delete record: %w", err)
	}
	return r, nil
}

// ClearRecords 整批清除紀錄列，返回被清除的列
func (s *Store) ClearRecords() ([]RecordRow, error) {
	records, err := s.Records()
	if err != nil {
		return nil, err
	}
	if _, err := s.db.Exec(`DELETE FROM records`); err != nil {
		return nil, fmt.Errorf("clear records: %w", err)
	}
	return records, nil
}
