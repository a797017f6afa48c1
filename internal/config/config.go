// Package config はnotifystreamの設定を読み込む。
//
// 設定は既定値、設定ファイル（YAML/JSON/TOML）、環境変数の順に上書きされる。
// 環境変数は NOTIFYSTREAM_ を接頭辞とし、キーの "." を "_" に置き換えた名前で指定する。
// 例: stream.write_timeout は NOTIFYSTREAM_STREAM_WRITE_TIMEOUT。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nao1215/notifystream/internal/retention"
	"github.com/nao1215/notifystream/pkg/logger"
)

// EnvPrefix は環境変数の接頭辞。
const EnvPrefix = "NOTIFYSTREAM"

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	// Port はリッスンポート。
	Port string `mapstructure:"port"`
	// ShutdownTimeout はグレースフルシャットダウンの待ち時間。
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig は通知ストアの設定。
type StoreConfig struct {
	// DSN はSQLiteの接続文字列。
	DSN string `mapstructure:"dsn"`
}

// DispatchConfig は配信コアの設定。
type DispatchConfig struct {
	// Shards はシャード数。
	Shards int `mapstructure:"shards"`
	// QueueSize はシャードごとのキュー長。
	QueueSize int `mapstructure:"queue_size"`
}

// StreamConfig はストリームセッションの設定。
type StreamConfig struct {
	MailboxSize       int           `mapstructure:"mailbox_size"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	BackfillPageSize  int           `mapstructure:"backfill_page_size"`
}

// RetentionConfig は保持期間ジョブの設定。
type RetentionConfig struct {
	// MaxAge は通知の保持期間。0の場合はジョブを起動しない。
	MaxAge time.Duration `mapstructure:"max_age"`
	// Schedule は実行スケジュール（cron式）。
	Schedule string `mapstructure:"schedule"`
}

// AuthConfig はストリーム接続の認証設定。
type AuthConfig struct {
	// JWTSecret はJWTの署名鍵。空の場合はストリームを認証なしで公開する。
	JWTSecret string `mapstructure:"jwt_secret"`
}

// CORSConfig はCORSの設定。
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LogConfig はログの設定。
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config はnotifystreamの全設定。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Retention RetentionConfig `mapstructure:"retention"`
	Auth      AuthConfig      `mapstructure:"auth"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Log       LogConfig       `mapstructure:"log"`
}

// Default は既定の設定を返す。
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			DSN: "file:notifystream.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		},
		Dispatch: DispatchConfig{
			Shards:    8,
			QueueSize: 1024,
		},
		Stream: StreamConfig{
			MailboxSize:       256,
			WriteTimeout:      5 * time.Second,
			HeartbeatInterval: 15 * time.Second,
			BackfillPageSize:  500,
		},
		Retention: RetentionConfig{
			MaxAge:   0,
			Schedule: "@hourly",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: string(logger.FormatJSON),
		},
	}
}

// SetDefaults は既定値をviperに登録する。
// 環境変数による上書きはviperが既定値を知っているキーに対してのみ効くため、全キーを登録する。
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("dispatch.shards", d.Dispatch.Shards)
	v.SetDefault("dispatch.queue_size", d.Dispatch.QueueSize)
	v.SetDefault("stream.mailbox_size", d.Stream.MailboxSize)
	v.SetDefault("stream.write_timeout", d.Stream.WriteTimeout)
	v.SetDefault("stream.heartbeat_interval", d.Stream.HeartbeatInterval)
	v.SetDefault("stream.backfill_page_size", d.Stream.BackfillPageSize)
	v.SetDefault("retention.max_age", d.Retention.MaxAge)
	v.SetDefault("retention.schedule", d.Retention.Schedule)
	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("cors.allowed_origins", d.CORS.AllowedOrigins)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load は既定値、設定ファイル、環境変数から設定を読み込んで検証する。
// fileが空の場合は設定ファイルを読まない。
func Load(v *viper.Viper, file string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("設定ファイルの読み込みに失敗: %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("設定の解析に失敗: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate は設定値を検証する。問題があればすべてまとめて返す。
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port が空です"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout は正の値でなければなりません"))
	}
	if c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn が空です"))
	}
	if c.Dispatch.Shards <= 0 {
		errs = append(errs, errors.New("dispatch.shards は1以上でなければなりません"))
	}
	if c.Dispatch.QueueSize <= 0 {
		errs = append(errs, errors.New("dispatch.queue_size は1以上でなければなりません"))
	}
	if c.Stream.MailboxSize <= 0 {
		errs = append(errs, errors.New("stream.mailbox_size は1以上でなければなりません"))
	}
	if c.Stream.WriteTimeout <= 0 {
		errs = append(errs, errors.New("stream.write_timeout は正の値でなければなりません"))
	}
	if c.Stream.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("stream.heartbeat_interval は正の値でなければなりません"))
	}
	if c.Stream.BackfillPageSize <= 0 {
		errs = append(errs, errors.New("stream.backfill_page_size は1以上でなければなりません"))
	}
	if c.Retention.MaxAge < 0 {
		errs = append(errs, errors.New("retention.max_age は0以上でなければなりません"))
	}
	if c.Retention.MaxAge > 0 {
		if _, err := retention.ParseSchedule(c.Retention.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("retention.schedule: %w", err))
		}
	}
	switch logger.Format(c.Log.Format) {
	case logger.FormatJSON, logger.FormatConsole:
	default:
		errs = append(errs, fmt.Errorf("log.format は json か console でなければなりません: %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
