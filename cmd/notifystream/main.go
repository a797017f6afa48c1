// notifystreamのエントリポイント。
// 通知を受け付けてユーザーごとのストリームへプッシュ配信するサーバーと、
// 通知の送信やストリームの購読を行うクライアントコマンドを提供する。
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nao1215/notifystream/internal/config"
	"github.com/nao1215/notifystream/pkg/logger"
)

// defaultServerURL はクライアントコマンドの接続先の既定値。
const defaultServerURL = "http://localhost:8080"

// app はコマンド間で共有する設定の読み込み元。
type app struct {
	v       *viper.Viper
	cfgFile string
}

// load は設定を読み込み、設定に従ったロガーを生成する。
func (a *app) load() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	log, err := logger.New(logger.Options{
		Level:  cfg.Log.Level,
		Format: logger.Format(cfg.Log.Format),
	})
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	return cfg, log, nil
}

// newRootCmd はルートコマンドを生成する。
func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "notifystream",
		Short:         "Push-based notification fan-out service",
		Long:          "Notifications are stored and pushed to every open SSE or WebSocket stream of the target user.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "Configuration file path (yaml, json or toml)")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (json, console)")
	bindFlag(a.v, "log.level", flags.Lookup("log-level"))
	bindFlag(a.v, "log.format", flags.Lookup("log-format"))

	rootCmd.AddCommand(
		newServeCmd(a),
		newSendCmd(),
		newTailCmd(),
		newTokenCmd(a),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "エラー: %v\n", err)
		os.Exit(1)
	}
}
