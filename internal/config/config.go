package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Recording RecordingConfig `yaml:"recording"`
	Encoder   EncoderConfig   `yaml:"encoder"`
	Source    SourceConfig    `yaml:"source"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト
}

// RecordingConfig は録画セッションの設定
type RecordingConfig struct {
	CaptureInterval time.Duration `yaml:"capture_interval"` // サンプリング間隔 (デフォルト: 100ms)
	MaxDuration     time.Duration `yaml:"max_duration"`     // 最大録画時間 (デフォルト: 60秒)
	Quality         float64       `yaml:"quality"`          // 静止画品質係数 (0-1]
	Width           int           `yaml:"width"`            // フレーム幅
	Height          int           `yaml:"height"`           // フレーム高さ
}

// EncoderConfig は動画エンコーダーの設定
type EncoderConfig struct {
	Backend   string `yaml:"backend"`    // "mp4" (ffmpeg) または "avi" (純Go MJPEG)
	OutputFPS int    `yaml:"output_fps"` // 出力フレームレート (デフォルト: 30)
	OutputDir string `yaml:"output_dir"` // 成果物の出力先ディレクトリ
}

// SourceConfig は映像ソースの設定
type SourceConfig struct {
	Kind    string `yaml:"kind"`    // "x11", "v4l2" または "synthetic"
	Display string `yaml:"display"` // X11ディスプレイ (例: :0)
	Device  string `yaml:"device"`  // V4L2デバイスパス (例: /dev/video0)
}

// エンコーダーバックエンドの定数
const (
	BackendMP4 = "mp4" // ffmpeg + libx264
	BackendAVI = "avi" // 純Go MJPEG AVI
)

// UnmarshalYAML は"100ms"のような時間表記を解釈する
// 指定されていない項目は既存の値(デフォルト)を保持する
func (s *ServerConfig) UnmarshalYAML(node *yaml.Node) error {
	raw := struct {
		Host         *string `yaml:"host"`
		Port         *int    `yaml:"port"`
		ReadTimeout  string  `yaml:"read_timeout"`
		WriteTimeout string  `yaml:"write_timeout"`
	}{}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	if raw.Host != nil {
		s.Host = *raw.Host
	}
	if raw.Port != nil {
		s.Port = *raw.Port
	}
	if raw.ReadTimeout != "" {
		d, err := time.ParseDuration(raw.ReadTimeout)
		if err != nil {
			return fmt.Errorf("read_timeoutの解釈に失敗: %w", err)
		}
		s.ReadTimeout = d
	}
	if raw.WriteTimeout != "" {
		d, err := time.ParseDuration(raw.WriteTimeout)
		if err != nil {
			return fmt.Errorf("write_timeoutの解釈に失敗: %w", err)
		}
		s.WriteTimeout = d
	}
	return nil
}

// UnmarshalYAML は"100ms"のような時間表記を解釈する
func (r *RecordingConfig) UnmarshalYAML(node *yaml.Node) error {
	raw := struct {
		CaptureInterval string   `yaml:"capture_interval"`
		MaxDuration     string   `yaml:"max_duration"`
		Quality         *float64 `yaml:"quality"`
		Width           *int     `yaml:"width"`
		Height          *int     `yaml:"height"`
	}{}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	if raw.CaptureInterval != "" {
		d, err := time.ParseDuration(raw.CaptureInterval)
		if err != nil {
			return fmt.Errorf("capture_intervalの解釈に失敗: %w", err)
		}
		r.CaptureInterval = d
	}
	if raw.MaxDuration != "" {
		d, err := time.ParseDuration(raw.MaxDuration)
		if err != nil {
			return fmt.Errorf("max_durationの解釈に失敗: %w", err)
		}
		r.MaxDuration = d
	}
	if raw.Quality != nil {
		r.Quality = *raw.Quality
	}
	if raw.Width != nil {
		r.Width = *raw.Width
	}
	if raw.Height != nil {
		r.Height = *raw.Height
	}
	return nil
}

// Load は設定を読み込む
// デフォルト値 → 設定ファイル(ROKUGA_CONFIG) → 環境変数 の順で上書きされる
func Load() (*Config, error) {
	// デフォルト設定を作成
	cfg := &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // 成果物ダウンロード用にタイムアウト無効化
		},
		Recording: RecordingConfig{
			CaptureInterval: 100 * time.Millisecond,
			MaxDuration:     60 * time.Second,
			Quality:         0.8,
			Width:           1280,
			Height:          720,
		},
		Encoder: EncoderConfig{
			Backend:   BackendMP4,
			OutputFPS: 30,
			OutputDir: "recordings",
		},
		Source: SourceConfig{
			Kind:    "synthetic",
			Display: getEnvOrDefault("DISPLAY", ":0"),
			Device:  "/dev/video0",
		},
	}

	// 設定ファイルがあれば読み込む
	if path := os.Getenv("ROKUGA_CONFIG"); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	// 環境変数による上書き
	applyEnv(cfg)

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// loadFile はYAML設定ファイルを読み込んで上書きする
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnv は環境変数による設定の上書きを適用する
func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvAsIntOrDefault("PORT", cfg.Server.Port)

	if v := getEnvAsIntOrDefault("CAPTURE_INTERVAL_MS", 0); v > 0 {
		cfg.Recording.CaptureInterval = time.Duration(v) * time.Millisecond
	}
	if v := getEnvAsIntOrDefault("MAX_DURATION_SECONDS", 0); v > 0 {
		cfg.Recording.MaxDuration = time.Duration(v) * time.Second
	}
	if v := getEnvAsFloatOrDefault("JPEG_QUALITY", 0); v > 0 {
		cfg.Recording.Quality = v
	}

	cfg.Encoder.Backend = getEnvOrDefault("ENCODER_BACKEND", cfg.Encoder.Backend)
	cfg.Encoder.OutputDir = getEnvOrDefault("OUTPUT_DIR", cfg.Encoder.OutputDir)
	cfg.Source.Kind = getEnvOrDefault("SOURCE", cfg.Source.Kind)
	cfg.Source.Device = getEnvOrDefault("SOURCE_DEVICE", cfg.Source.Device)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	// 録画設定の検証
	if c.Recording.CaptureInterval < 10*time.Millisecond {
		return fmt.Errorf("サンプリング間隔が短すぎます: %v", c.Recording.CaptureInterval)
	}
	if c.Recording.MaxDuration <= 0 {
		return fmt.Errorf("無効な最大録画時間: %v", c.Recording.MaxDuration)
	}
	if c.Recording.Quality <= 0 || c.Recording.Quality > 1 {
		return fmt.Errorf("品質係数は(0,1]の範囲で指定してください: %f", c.Recording.Quality)
	}
	if c.Recording.Width <= 0 || c.Recording.Height <= 0 {
		return fmt.Errorf("無効な解像度: %dx%d", c.Recording.Width, c.Recording.Height)
	}

	// エンコーダー設定の検証
	if c.Encoder.Backend != BackendMP4 && c.Encoder.Backend != BackendAVI {
		return fmt.Errorf("未知のエンコーダーバックエンド: %s", c.Encoder.Backend)
	}
	if c.Encoder.OutputFPS <= 0 {
		return fmt.Errorf("無効な出力フレームレート: %d", c.Encoder.OutputFPS)
	}
	if c.Encoder.OutputDir == "" {
		return fmt.Errorf("出力ディレクトリが設定されていません")
	}

	return nil
}

// MinFrameInterval は1フレームあたりの最小表示時間を返す
// ゼロ長フレームがエンコーダーを停止・混乱させるのを防ぐ下限値
func (c *Config) MinFrameInterval() time.Duration {
	return time.Second / time.Duration(c.Encoder.OutputFPS)
}

// JPEGQuality は品質係数(0-1]をJPEGの品質値(1-100)に変換する
func (c *Config) JPEGQuality() int {
	q := int(c.Recording.Quality * 100)
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}
	return q
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsFloatOrDefault は環境変数を実数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var floatVal float64
		if _, err := fmt.Sscanf(value, "%g", &floatVal); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
