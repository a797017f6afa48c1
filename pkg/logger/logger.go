// Package logger はzerologベースの構造化ロガーを生成する。
//
// 全コンポーネントはこのパッケージで生成したzerolog.Loggerを受け取り、
// component フィールドを付与して使用する。
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Format はログの出力形式。
type Format string

const (
	// FormatJSON は1行1JSONで出力する。本番環境向け。
	FormatJSON Format = "json"
	// FormatConsole は人間が読みやすい形式で出力する。開発環境向け。
	FormatConsole Format = "console"
)

// Options はロガーの生成オプション。
type Options struct {
	// Level はログレベル（debug, info, warn, error）。空の場合はinfo。
	Level string
	// Format は出力形式。空の場合はjson。
	Format Format
	// Writer は出力先。nilの場合は標準エラー出力。
	Writer io.Writer
}

// New はオプションに従ってzerolog.Loggerを生成する。
func New(opts Options) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("ログレベルが不正です: %q: %w", opts.Level, err)
		}
		level = parsed
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	switch opts.Format {
	case "", FormatJSON:
	case FormatConsole:
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	default:
		return zerolog.Nop(), fmt.Errorf("ログ形式が不正です: %q", opts.Format)
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// Component はコンポーネント名を付与した子ロガーを返す。
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
