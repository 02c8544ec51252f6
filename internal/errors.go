package internal

import "errors"

// 錯誤分類設計：
//
// 遊戲系統的錯誤分為四類，處理策略各不相同：
//   1. 入場拒絕（ColorTaken / RoomFull）：只回報給請求者，會話狀態不變
//   2. 過期事件（UnknownPlayer）：斷線或重置後的殘留事件，靜默忽略
//   3. 持久化失敗：記錄日誌，記憶體狀態仍是本回合的權威，不回滾任何轉換
//   4. 非法階段操作：視為 no-op，永遠不是致命錯誤
//
// 任何錯誤都不應終止進程；最壞情況是回合卡住，
// 由斷線寬限超時作為強制推進機制兜底。
var (
	// ErrColorTaken 顏色已被在場玩家佔用
	ErrColorTaken = errors.New("顏色已被其他玩家選擇")

	// ErrRoomFull 房間已滿，或回合進行中不接受加入
	ErrRoomFull = errors.New("房間已滿")

	// ErrInvalidColor 顏色不在固定的可選集合內
	ErrInvalidColor = errors.New("無效的顏色")

	// ErrUnknownPlayer 玩家不存在（斷線或重置後的過期事件）
	ErrUnknownPlayer = errors.New("玩家不在遊戲中")

	// ErrDuplicateUsername 玩家名稱已存在於持久化存儲
	ErrDuplicateUsername = errors.New("玩家名稱已存在")

	// ErrPlayerNotFound 持久化存儲中找不到玩家
	ErrPlayerNotFound = errors.New("找不到玩家")

	// ErrRecordNotFound 持久化存儲中找不到紀錄
	ErrRecordNotFound = errors.New("找不到紀錄")

	// ErrMultipleRecords 紀錄表出現多於一行
	//
	// 最佳紀錄在設計上是「至多一行」的單值。出現多行代表
	// 某處違反了 clear-before-create 的約定，此時必須大聲失敗，
	// 而不是靜默讀取第一行。
	ErrMultipleRecords = errors.New("紀錄表存在多於一筆資料")
)
