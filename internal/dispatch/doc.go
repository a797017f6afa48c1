// Package dispatch は保存済みの通知を購読者へプッシュ配信するコアを提供する。
//
// 通知はユーザーIDのハッシュで選ばれたシャードのキューに積まれ、シャードごとに
// 1本のワーカーが順番に処理する。同じユーザーの通知は常に同じシャードを通るため、
// ユーザー単位のFIFO順序が保たれる。購読者への受け渡しはブロックしないので、
// 遅い購読者が他の購読者の配信を遅らせることはない。
package dispatch
