// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンの検証、構造化アクセスログ、パニックリカバリ、
// CORS設定など、ingestとストリームの両エンドポイントで共通して使用する。
package middleware
