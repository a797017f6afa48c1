package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
}

const (
	// issuer はトークン発行者。
	issuer = "notifystream"
	// queryKeyToken はクエリパラメータでトークンを渡す際のキー。
	// ブラウザのEventSourceはヘッダーを設定できないため、こちらも受け付ける。
	queryKeyToken = "access_token"
	// contextKeyUserID はGinコンテキストにユーザーIDを格納するキー。
	contextKeyUserID = "user_id"
)

// GenerateJWT はユーザーIDからJWTトークンを生成する。
func GenerateJWT(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   userID,
		},
		UserID: userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// トークンはAuthorizationヘッダー（Bearer）またはaccess_tokenクエリパラメータから取得する。
// 検証に成功した場合、コンテキストに "user_id" を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := extractToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "認証トークンが必要です",
			})
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid || claims.UserID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Set(contextKeyUserID, claims.UserID)
		c.Next()
	}
}

// extractToken はリクエストから生のトークン文字列を取り出す。
func extractToken(c *gin.Context) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || tokenString == "" {
			return "", false
		}
		return tokenString, true
	}
	if tokenString := c.Query(queryKeyToken); tokenString != "" {
		return tokenString, true
	}
	return "", false
}

// RequireSameUser はパスパラメータのユーザーIDと認証済みユーザーIDの一致を要求する。
// JWTAuthの後に適用する。一致しない場合は403を返す。
func RequireSameUser(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetUserID(c) != c.Param(param) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "他のユーザーのストリームは購読できません",
			})
			return
		}
		c.Next()
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get(contextKeyUserID)
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}
