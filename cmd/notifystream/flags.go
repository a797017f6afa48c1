package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bindFlag はフラグをviperのキーに結び付ける。
// フラグが明示的に指定された場合のみ、設定ファイルと環境変数より優先される。
func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		fmt.Fprintf(os.Stderr, "フラグ%sの登録に失敗: %v\n", flag.Name, err)
	}
}
