package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/nao1215/notifystream/pkg/event"
	"github.com/nao1215/notifystream/pkg/httpclient"
)

func newTailCmd() *cobra.Command {
	var (
		serverURL string
		token     string
		lastID    int64
	)

	cmd := &cobra.Command{
		Use:   "tail <userId>",
		Short: "Follow a user's notification stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if token != "" {
				ctx = httpclient.WithToken(ctx, token)
			}

			client := httpclient.New(serverURL)
			path := "/notifications/stream/" + url.PathEscape(args[0])
			err := client.Stream(ctx, path, lastID, func(e event.Event) error {
				return printEvent(cmd, e)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&serverURL, "server", "s", defaultServerURL, "Server base URL")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token for authenticated streams")
	cmd.Flags().Int64Var(&lastID, "last-id", 0, "Resume after this notification id")
	return cmd
}

// printEvent は受信したイベントを1行ずつ出力する。
// エラーイベントを受信した場合はストリームを終了する。
func printEvent(cmd *cobra.Command, e event.Event) error {
	switch e.Type {
	case event.TypeNotification:
		fmt.Fprintln(cmd.OutOrStdout(), string(e.Data))
	case event.TypeError:
		data, err := event.DecodeData[event.ErrorData](&e)
		if err != nil {
			return err
		}
		return fmt.Errorf("サーバーがストリームを終了しました: %s", data.Error)
	}
	return nil
}
