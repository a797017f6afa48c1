// Package stream はストリーム接続1本分の配信セッションを実装する。
//
// セッションは購読を登録してからストアのバックフィルを送出し、
// 欠落も重複もなくライブ配信へ切り替える。送出先はSSEとWebSocketのどちらでもよく、
// Sinkインターフェースで抽象化している。
package stream
