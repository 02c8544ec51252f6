// Package internal 實現了一個回合制網格競技場的遊戲服務器核心。
//
// 固定數量的玩家加入等待室、被分配唯一的顏色與席位，人滿後
// 經過開場倒數進入限時回合：在離散的 2D 網格上移動、撿取
// 隨機生成的道具、累積分數。回合結束時計算贏家集合（允許並列）、
// 仲裁跨回合的最佳紀錄，然後重置回等待室。
//
// 會話狀態機
//
// 核心是 Session：一座競技場的記憶體模型（玩家、道具、計時器、
// 階段）以及推進它的規則：
//   - 入場：顏色互斥先於容量檢查，人滿原子轉入倒數
//   - 移動：撞牆靜默夾回、玩家互斥佔格，撿取與移動原子廣播
//   - 暫停：斷線觸發暫停與寬限超時，明確請求可暫停/恢復
//   - 結算：並列感知的贏家集合、clear-before-create 的紀錄替換
//
// 併發模型
//
// 單一寫者：所有外部事件與計時器滴答都序列化通過同一把會話鎖；
// 持久化與廣播發生在鎖外，慢 I/O 不會卡住其他玩家的移動。
// 計時器以控制代碼比對實現無競態取消。
//
// 分層架構
//
//   - Handler 層：玩家/紀錄的薄 CRUD HTTP 外層
//   - Session 層：競技場業務邏輯（本套件的核心）
//   - WebSocket 層：即時通信，實現核心的 Emitter 契約
//   - Store 層：SQLite 持久化（回合內臨時列 + 跨回合最佳紀錄）
//
// 每層都有明確的職責邊界，透過介面進行交互，便於測試與擴展。
package internal
