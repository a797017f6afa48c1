// Package subscription はストリーム購読とその登録簿（Registry）を提供する。
//
// Subscriptionは1本のストリーム接続を表し、配信カーソルとメールボックスを持つ。
// Registryはユーザーごとのアクティブな購読集合を管理し、登録・解除・スナップショット取得を
// ユーザー単位で線形化可能な操作として提供する。
package subscription
