package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/notifystream/internal/store"
	"github.com/nao1215/notifystream/pkg/httpclient"
)

// sendRequest は通知作成APIのリクエストボディ。
type sendRequest struct {
	UserID  string          `json:"userId"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newSendCmd() *cobra.Command {
	var (
		serverURL string
		payload   string
	)

	cmd := &cobra.Command{
		Use:   "send <userId>",
		Short: "Send a notification to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := sendRequest{UserID: args[0]}
			if payload != "" {
				if !json.Valid([]byte(payload)) {
					return errors.New("--payload はJSONでなければなりません")
				}
				req.Payload = json.RawMessage(payload)
			}

			var n store.Notification
			client := httpclient.New(serverURL)
			if err := client.PostJSON(cmd.Context(), "/notifications", req, &n); err != nil {
				return fmt.Errorf("通知の送信に失敗: %w", err)
			}

			out, err := json.Marshal(n)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&serverURL, "server", "s", defaultServerURL, "Server base URL")
	cmd.Flags().StringVar(&payload, "payload", "", "Notification payload as JSON")
	return cmd
}
