// Package notification は通知サービスのHTTPサーバーを提供する。
//
// 通知の受け付け（POST /notifications）と、ユーザーごとのストリーム配信
// （SSEおよびWebSocket）を行う。受け付けた通知はストアに保存した直後に
// 配信コアへ渡され、購読中のストリームへ即座にプッシュされる。
package notification
