package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrKeyNotFound = errors.New("api key not found")

const cacheTTL = 5 * time.Minute

type APIKey struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	KeyHash   string    `json:"key_hash"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (a *APIKey) MarshalBinary() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (a *APIKey) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, a)
}

type Store interface {
	GetByKey(ctx context.Context, key string) (*APIKey, error)
	Create(ctx context.Context, apiKey *APIKey) error
	Revoke(ctx context.Context, keyID string) error
}

type Middleware func(next http.Handler) http.Handler

type contextKey string

const (
	tenantIDKey  contextKey = "tenant_id"
	apiKeyIDKey  contextKey = "api_key_id"
	requestIDKey contextKey = "request_id"
)

// HashKey is the stored form of a raw API key.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// NewMiddleware authenticates Bearer keys against store. cache may be nil,
// in which case every request reads the store.
func NewMiddleware(store Store, cache redis.Cmdable, log *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}
			ctx = context.WithValue(ctx, requestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
				return
			}
			key := strings.TrimPrefix(authHeader, "Bearer ")
			redisKey := fmt.Sprintf("auth:%s", HashKey(key))

			if cache != nil {
				var apiKey APIKey
				err := cache.Get(ctx, redisKey).Scan(&apiKey)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(withKey(ctx, &apiKey)))
					return
				} else if !errors.Is(err, redis.Nil) {
					log.Warn("auth cache read failed", zap.Error(err))
				}
			}

			apiKey, err := store.GetByKey(ctx, key)
			if err != nil {
				if errors.Is(err, ErrKeyNotFound) {
					writeError(w, http.StatusUnauthorized, "invalid API key")
					return
				}
				log.Error("api key lookup failed", zap.String("request_id", requestID), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			if cache != nil {
				if err := cache.Set(ctx, redisKey, apiKey, cacheTTL).Err(); err != nil {
					log.Warn("auth cache write failed", zap.Error(err))
				}
			}

			next.ServeHTTP(w, r.WithContext(withKey(ctx, apiKey)))
		})
	}
}

func withKey(ctx context.Context, k *APIKey) context.Context {
	ctx = context.WithValue(ctx, tenantIDKey, k.TenantID)
	return context.WithValue(ctx, apiKeyIDKey, k.ID)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Helpers to extract from context
func GetTenantID(ctx context.Context) string {
	if id, ok := ctx.Value(tenantIDKey).(string); ok {
		return id
	}
	return ""
}

func GetAPIKeyID(ctx context.Context) string {
	if id, ok := ctx.Value(apiKeyIDKey).(string); ok {
		return id
	}
	return ""
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Helpers for testing
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}
