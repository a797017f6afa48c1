// Package store は通知ストアを提供する。
//
// 通知は追記のみ（append-only）で保存され、IDはストアが単調増加で採番する。
// 削除されたIDが再利用されることはないため、クライアントは最後に受信したIDを
// カーソルとしてバックフィルを再開できる。
package store
