package notification

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nao1215/notifystream/internal/dispatch"
	"github.com/nao1215/notifystream/internal/metrics"
	"github.com/nao1215/notifystream/internal/store"
	"github.com/nao1215/notifystream/internal/stream"
	"github.com/nao1215/notifystream/pkg/middleware"
)

// serviceName はヘルスチェックで返すサービス名。
const serviceName = "notifystream"

// Store は通知サーバーが使用するストア。
type Store interface {
	store.Store
	// Ping はストアへの疎通を確認する。
	Ping(ctx context.Context) error
}

// Options は通知サーバーの生成オプション。
type Options struct {
	// Port はリッスンポート。
	Port string
	// ShutdownTimeout はグレースフルシャットダウンの待ち時間。
	ShutdownTimeout time.Duration
	// JWTSecret が空でない場合、ストリーム接続にJWT認証を要求する。
	JWTSecret string
	// AllowedOrigins はCORSとWebSocketで許可するオリジン。"*" で全て許可する。
	AllowedOrigins []string
	// Stream はストリームセッションの設定。
	Stream stream.Config
	// Gatherer がnilでない場合、/metrics でPrometheus形式のメトリクスを公開する。
	Gatherer prometheus.Gatherer
	// Metrics はメトリクスの記録先。
	Metrics metrics.Collector
	// Logger はロガー。
	Logger zerolog.Logger
}

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// shutdownTimeout はグレースフルシャットダウンの待ち時間。
	shutdownTimeout time.Duration
	// store は通知ストア。
	store Store
	// dispatcher は保存済み通知を購読者へ配信する。
	dispatcher *dispatch.Dispatcher
	// gateway はストリーム接続ごとのセッションを実行する。
	gateway *stream.Gateway
	// upgrader はWebSocketへのアップグレードを行う。
	upgrader websocket.Upgrader
	// log はロガー。
	log zerolog.Logger
}

// NewServer は新しい通知サーバーを生成する。
// dispatcherの停止は呼び出し側が行う。
func NewServer(st Store, d *dispatch.Dispatcher, opts Options) *Server {
	if opts.Port == "" {
		opts.Port = "8080"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}

	router := gin.New()
	router.Use(middleware.Recovery(opts.Logger))
	router.Use(middleware.Logger(opts.Logger))
	router.Use(middleware.CORS(opts.AllowedOrigins))

	s := &Server{
		router:          router,
		port:            opts.Port,
		shutdownTimeout: opts.ShutdownTimeout,
		store:           st,
		dispatcher:      d,
		gateway:         stream.NewGateway(st, d.Registry(), opts.Stream, opts.Metrics, opts.Logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(opts.AllowedOrigins),
		},
		log: opts.Logger,
	}
	s.setupRoutes(opts)

	return s
}

// Handler はHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxが終了したらグレースフルシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.port)
	if err != nil {
		return fmt.Errorf("ポート%sのリッスンに失敗: %w", s.port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve はlnで接続を受け付け、ctxが終了したらグレースフルシャットダウンする。
//
// ストリーム接続は自分からは終わらないため、シャットダウン時は先に全リクエストの
// 親コンテキストをstream.ErrShutdownでキャンセルしてセッションを閉じる。
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	baseCtx, cancelBase := context.WithCancelCause(context.Background())
	defer cancelBase(nil)

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("通知サーバーを起動しました")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("サーバーが異常終了しました: %w", err)
	case <-ctx.Done():
	}

	s.log.Info().Msg("シャットダウンを開始します")
	cancelBase(stream.ErrShutdown)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("グレースフルシャットダウンに失敗: %w", err)
	}
	s.log.Info().Msg("通知サーバーを停止しました")
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(opts Options) {
	notifications := s.router.Group("/notifications")
	{
		// 通知の受け付け
		notifications.POST("", s.handleCreate())
		// 通知の取得
		notifications.GET("/:id", s.handleGet())

		streams := notifications.Group("")
		if opts.JWTSecret != "" {
			streams.Use(middleware.JWTAuth(opts.JWTSecret))
			streams.Use(middleware.RequireSameUser("userId"))
		}
		// SSEストリーム
		streams.GET("/stream/:userId", s.handleStream())
		// WebSocketストリーム
		streams.GET("/ws/:userId", s.handleWebSocket())
	}

	// ヘルスチェック
	s.router.GET("/health", s.handleHealth())

	if opts.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
}

// handleCreate は通知を保存して配信するハンドラ。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if strings.TrimSpace(req.UserID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userIdが必要です"})
			return
		}

		n, err := s.dispatcher.Ingest(c.Request.Context(), s.store, store.NewNotification{
			UserID:  req.UserID,
			Payload: req.Payload,
		})
		if err != nil {
			s.log.Error().Err(err).Str("user_id", req.UserID).Msg("通知の保存に失敗しました")
			if errors.Is(err, store.ErrUnavailable) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "通知ストアが利用できません"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の作成に失敗しました"})
			return
		}

		c.Header("Location", "/notifications/"+strconv.FormatInt(n.ID, 10))
		c.JSON(http.StatusCreated, n)
	}
}

// handleGet は通知を1件返すハンドラ。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "通知IDが不正です"})
			return
		}

		n, err := s.store.Get(c.Request.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
			case errors.Is(err, store.ErrUnavailable):
				s.log.Error().Err(err).Int64("id", id).Msg("通知の取得に失敗しました")
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "通知ストアが利用できません"})
			default:
				s.log.Error().Err(err).Int64("id", id).Msg("通知の取得に失敗しました")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の取得に失敗しました"})
			}
			return
		}

		c.JSON(http.StatusOK, n)
	}
}

// handleHealth はストアの疎通と接続中のストリーム数を返すハンドラ。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		registry := s.dispatcher.Registry()
		resp := healthResponse{
			Status:        "ok",
			Service:       serviceName,
			Subscriptions: registry.Count(),
			Users:         registry.Users(),
		}

		if err := s.store.Ping(c.Request.Context()); err != nil {
			s.log.Warn().Err(err).Msg("ヘルスチェックでストアに接続できません")
			resp.Status = "unavailable"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// checkOrigin はWebSocketのOriginヘッダーを許可リストで検証する関数を返す。
// Originヘッダーの無いリクエスト（ブラウザ以外）は常に許可する。
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}
