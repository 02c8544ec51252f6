package internal

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 支援 "10s" 這類帶單位字串的 yaml 時長
type Duration time.Duration

// UnmarshalYAML 以 time.ParseDuration 解析帶單位的時長字串
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std 轉回標準庫的時長型別
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port         int      `yaml:"port"`
		ReadTimeout  Duration `yaml:"read_timeout"`
		WriteTimeout Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Game GameConfig `yaml:"game"`

	Store struct {
		Path string `yaml:"path"` // SQLite 資料庫檔案路徑
	} `yaml:"store"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// GameConfig 競技場規則配置
//
// 預設值即來源遊戲的固定常數（3 人、20×20、5 個道具、
// 5 秒倒數、30 秒回合）。tick_interval 獨立可調，
// 讓測試可以用毫秒級的快時鐘跑完整個回合流程。
type GameConfig struct {
	MaxPlayers       int      `yaml:"max_players"`       // 固定容量
	GridSize         int      `yaml:"grid_size"`         // N×N 網格
	ItemCount        int      `yaml:"item_count"`        // 場上道具固定數量
	Colors           []string `yaml:"colors"`            // 可選顏色集合
	CountdownSeconds int      `yaml:"countdown_seconds"` // 開場倒數秒數
	RoundSeconds     int      `yaml:"round_seconds"`     // 回合時長（秒）
	GraceTimeout     Duration `yaml:"grace_timeout"`     // 斷線寬限時間
	ResetDelay       Duration `yaml:"reset_delay"`       // 結算展示後重置的延遲
	TickInterval     Duration `yaml:"tick_interval"`     // 計時器滴答間隔（正式環境 1s）
}

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = Duration(15 * time.Second)
	cfg.Server.WriteTimeout = Duration(15 * time.Second)
	cfg.Game = GameConfig{
		MaxPlayers:       3,
		GridSize:         20,
		ItemCount:        5,
		Colors:           []string{"red", "blue", "green"},
		CountdownSeconds: 5,
		RoundSeconds:     30,
		GraceTimeout:     Duration(10 * time.Second),
		ResetDelay:       Duration(15 * time.Second),
		TickInterval:     Duration(time.Second),
	}
	cfg.Store.Path = "arena.db"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// LoadConfig 從 YAML 檔案載入配置，未設定的欄位保留預設值
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 驗證配置的一致性
func (c *Config) Validate() error {
	g := c.Game
	if g.MaxPlayers < 1 {
		return fmt.Errorf("max_players 必須至少為 1")
	}
	// 顏色互斥是入場規則的一部分，顏色數不足會讓房間永遠無法滿員
	if len(g.Colors) < g.MaxPlayers {
		return fmt.Errorf("顏色數量 (%d) 不能少於最大玩家數 (%d)", len(g.Colors), g.MaxPlayers)
	}
	if g.GridSize < 1 {
		return fmt.Errorf("grid_size 必須至少為 1")
	}
	if g.ItemCount < 0 {
		return fmt.Errorf("item_count 不能為負數")
	}
	if g.CountdownSeconds < 1 || g.RoundSeconds < 1 {
		return fmt.Errorf("countdown_seconds 與 round_seconds 必須至少為 1")
	}
	if g.TickInterval <= 0 {
		return fmt.Errorf("tick_interval 必須為正數")
	}
	return nil
}

// hasColor 檢查顏色是否在可選集合內
func (g GameConfig) hasColor(color string) bool {
	for _, c := range g.Colors {
		if c == color {
			return true
		}
	}
	return false
}
