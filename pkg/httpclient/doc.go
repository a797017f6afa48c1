// Package httpclient はnotifystreamサーバーを呼び出すHTTPクライアントを提供する。
//
// 通知の登録（POST /notifications）と、SSEストリームの購読を
// CLIや他のサービスから同じ形で行えるようにする。
package httpclient
