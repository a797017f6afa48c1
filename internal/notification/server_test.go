package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/notifystream/internal/dispatch"
	"github.com/nao1215/notifystream/internal/metrics"
	"github.com/nao1215/notifystream/internal/store"
	"github.com/nao1215/notifystream/internal/subscription"
	"github.com/nao1215/notifystream/pkg/event"
	"github.com/nao1215/notifystream/pkg/httpclient"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupTestServer はテスト用の通知サーバーをインメモリSQLiteで構築する。
func setupTestServer(t *testing.T, opts Options) (*Server, *store.SQLite) {
	t.Helper()

	st, err := store.OpenSQLite(context.Background(), ":memory:", zerolog.Nop())
	require.NoError(t, err, "インメモリDBの作成に失敗")
	t.Cleanup(func() { st.Close() })

	d := dispatch.New(subscription.NewRegistry(), dispatch.Options{
		Metrics: opts.Metrics,
		Logger:  zerolog.Nop(),
	})
	t.Cleanup(d.Close)

	opts.Logger = zerolog.Nop()
	return NewServer(st, d, opts), st
}

// doRequest はテスト用のHTTPリクエストを実行する。
func doRequest(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var reqBody io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reqBody = strings.NewReader(b)
	default:
		jsonBytes, _ := json.Marshal(b)
		reqBody = bytes.NewReader(jsonBytes)
	}

	req := httptest.NewRequest(method, path, reqBody)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// parseNotification はレスポンスボディを通知としてデコードする。
func parseNotification(t *testing.T, w *httptest.ResponseRecorder) store.Notification {
	t.Helper()
	var n store.Notification
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &n), "レスポンスのパースに失敗: %s", w.Body.String())
	return n
}

func TestHandleCreate(t *testing.T) {
	t.Parallel()

	t.Run("正常に通知を作成できること", func(t *testing.T) {
		t.Parallel()

		s, _ := setupTestServer(t, Options{})
		w := doRequest(s, http.MethodPost, "/notifications", map[string]any{
			"userId":  "u1",
			"payload": map[string]any{"title": "hello"},
		})

		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		n := parseNotification(t, w)
		assert.Equal(t, int64(1), n.ID)
		assert.Equal(t, "u1", n.UserID)
		assert.JSONEq(t, `{"title":"hello"}`, string(n.Payload))
		assert.False(t, n.CreatedAt.IsZero())
		assert.Equal(t, "/notifications/1", w.Header().Get("Location"))
	})

	t.Run("IDが単調増加で採番されること", func(t *testing.T) {
		t.Parallel()

		s, _ := setupTestServer(t, Options{})
		var last int64
		for _, user := range []string{"u1", "u2", "u1"} {
			w := doRequest(s, http.MethodPost, "/notifications", map[string]any{"userId": user})
			require.Equal(t, http.StatusCreated, w.Code)
			n := parseNotification(t, w)
			assert.Greater(t, n.ID, last)
			last = n.ID
		}
	})

	t.Run("不正なJSONで400エラーになること", func(t *testing.T) {
		t.Parallel()

		s, _ := setupTestServer(t, Options{})
		w := doRequest(s, http.MethodPost, "/notifications", `{"userId":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("userIdが無い場合は400エラーになること", func(t *testing.T) {
		t.Parallel()

		s, _ := setupTestServer(t, Options{})
		w := doRequest(s, http.MethodPost, "/notifications", map[string]any{"payload": 1})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = doRequest(s, http.MethodPost, "/notifications", map[string]any{"userId": "  "})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("ストアが利用できない場合は503エラーになること", func(t *testing.T) {
		t.Parallel()

		s, st := setupTestServer(t, Options{})
		require.NoError(t, st.Close())

		w := doRequest(s, http.MethodPost, "/notifications", map[string]any{"userId": "u1"})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestHandleGet(t *testing.T) {
	t.Parallel()

	s, _ := setupTestServer(t, Options{})
	w := doRequest(s, http.MethodPost, "/notifications", map[string]any{"userId": "u1", "payload": "x"})
	require.Equal(t, http.StatusCreated, w.Code)
	created := parseNotification(t, w)

	t.Run("作成した通知を取得できること", func(t *testing.T) {
		t.Parallel()

		w := doRequest(s, http.MethodGet, fmt.Sprintf("/notifications/%d", created.ID), nil)
		require.Equal(t, http.StatusOK, w.Code)
		got := parseNotification(t, w)
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, "u1", got.UserID)
		assert.JSONEq(t, `"x"`, string(got.Payload))
	})

	t.Run("存在しない通知は404エラーになること", func(t *testing.T) {
		t.Parallel()

		w := doRequest(s, http.MethodGet, "/notifications/999", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("数値でないIDは400エラーになること", func(t *testing.T) {
		t.Parallel()

		w := doRequest(s, http.MethodGet, "/notifications/abc", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	t.Run("ストアに接続できれば200を返すこと", func(t *testing.T) {
		t.Parallel()

		s, _ := setupTestServer(t, Options{})
		w := doRequest(s, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp healthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, serviceName, resp.Service)
		assert.Equal(t, 0, resp.Subscriptions)
	})

	t.Run("ストアに接続できなければ503を返すこと", func(t *testing.T) {
		t.Parallel()

		s, st := setupTestServer(t, Options{})
		require.NoError(t, st.Close())

		w := doRequest(s, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewPrometheus(reg, "")
	require.NoError(t, err)
	s, _ := setupTestServer(t, Options{Gatherer: reg, Metrics: m})

	w := doRequest(s, http.MethodPost, "/notifications", map[string]any{"userId": "u1"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "notifystream_ingest_notifications_total 1")
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	t.Parallel()

	s, _ := setupTestServer(t, Options{})
	w := doRequest(s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORS_Preflight(t *testing.T) {
	t.Parallel()

	s, _ := setupTestServer(t, Options{AllowedOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/notifications/stream/u1", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCheckOrigin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "Originなしは許可", allowed: nil, origin: "", want: true},
		{name: "ワイルドカードは全て許可", allowed: []string{"*"}, origin: "https://evil.example.com", want: true},
		{name: "一致するOriginは許可", allowed: []string{"https://app.example.com"}, origin: "https://app.example.com", want: true},
		{name: "一致しないOriginは拒否", allowed: []string{"https://app.example.com"}, origin: "https://evil.example.com", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/notifications/ws/u1", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checkOrigin(tt.allowed)(req))
		})
	}
}

func TestServe_Shutdown(t *testing.T) {
	t.Parallel()

	s, _ := setupTestServer(t, Options{ShutdownTimeout: 3 * time.Second})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	client := httpclient.New("http://" + ln.Addr().String())

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Serve(ctx, ln) }()

	streamErr := make(chan error, 1)
	go func() {
		streamErr <- client.Stream(context.Background(), "/notifications/stream/u1", 0, func(_ event.Event) error { return nil })
	}()
	require.Eventually(t, func() bool { return s.dispatcher.Registry().Count() == 1 }, 3*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-streamErr:
		assert.NoError(t, err, "サーバー停止でストリームが正常に閉じる")
	case <-time.After(5 * time.Second):
		t.Fatal("ストリームが閉じませんでした")
	}
	select {
	case err := <-serveErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("サーバーが停止しませんでした")
	}
	assert.Equal(t, 0, s.dispatcher.Registry().Count())
}
