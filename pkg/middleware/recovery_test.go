package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// TestRecovery はRecoveryミドルウェアを検証する。
func TestRecovery(t *testing.T) {
	t.Parallel()

	t.Run("パニックが発生した場合500が返りログが出力されること", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		router := gin.New()
		router.Use(Recovery(zerolog.New(&buf)))
		router.GET("/panic", func(_ *gin.Context) {
			panic("テスト用パニック")
		})

		req := httptest.NewRequest(http.MethodGet, "/panic", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusInternalServerError)
		}

		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("レスポンスボディのパースに失敗: %v", err)
		}
		if body["error"] != "内部サーバーエラーが発生しました" {
			t.Errorf("error = %q, want %q", body["error"], "内部サーバーエラーが発生しました")
		}
		if !strings.Contains(buf.String(), "テスト用パニック") {
			t.Errorf("ログにパニック値が含まれない: %s", buf.String())
		}
	})

	t.Run("パニック後もサーバーが次のリクエストを処理できること", func(t *testing.T) {
		t.Parallel()

		router := gin.New()
		router.Use(Recovery(zerolog.Nop()))
		router.GET("/panic", func(_ *gin.Context) {
			panic(42)
		})
		router.GET("/ok", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "recovered"})
		})

		w1 := httptest.NewRecorder()
		router.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "/panic", nil))
		if w1.Code != http.StatusInternalServerError {
			t.Errorf("1回目のステータスコード = %d, want %d", w1.Code, http.StatusInternalServerError)
		}

		w2 := httptest.NewRecorder()
		router.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/ok", nil))
		if w2.Code != http.StatusOK {
			t.Errorf("2回目のステータスコード = %d, want %d", w2.Code, http.StatusOK)
		}
	})
}

// TestLogger はアクセスログミドルウェアを検証する。
func TestLogger(t *testing.T) {
	t.Parallel()

	t.Run("ステータスに応じたレベルでアクセスログが出力されること", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		router := gin.New()
		router.Use(Logger(zerolog.New(&buf)))
		router.GET("/missing", func(c *gin.Context) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		})

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

		var line map[string]any
		if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
			t.Fatalf("ログのパースに失敗: %v, log=%s", err, buf.String())
		}
		if line["level"] != "warn" {
			t.Errorf("level = %v, want warn", line["level"])
		}
		if line["path"] != "/missing" {
			t.Errorf("path = %v, want /missing", line["path"])
		}
		if line["status"] != float64(http.StatusNotFound) {
			t.Errorf("status = %v, want %d", line["status"], http.StatusNotFound)
		}
	})
}
