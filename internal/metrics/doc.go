// Package metrics は配信パイプラインのメトリクス収集を提供する。
//
// Collectorインターフェースに対して、何もしないNopと
// Prometheusへ記録するPrometheusの2つの実装を持つ。
package metrics
