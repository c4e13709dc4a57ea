package middleware

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/google/uuid"
	"github.com/hertz-contrib/sessions"
	"github.com/hertz-contrib/sessions/cookie"
	"go.uber.org/zap"

	"ShuttleSignup/internal/service"
	"ShuttleSignup/pkg/logger"
)

const (
	SessionName = "shuttle_session"

	deviceIDKey  = "device_id"
	sessionIDKey = "session_id"
)

// SessionMiddleware 基于签名 cookie 的会话，只保存设备 ID 和向导会话 ID
func SessionMiddleware(secret string, secure bool) app.HandlerFunc {
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   30 * 24 * 3600,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return sessions.New(SessionName, store)
}

// WizardSessionMiddleware 第一次访问时分配设备 ID，之后从 cookie 读取
func WizardSessionMiddleware() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		session := sessions.Default(c)

		deviceID, _ := session.Get(deviceIDKey).(string)
		if deviceID == "" {
			deviceID = uuid.NewString()
			session.Set(deviceIDKey, deviceID)
			if err := session.Save(); err != nil {
				logger.Logger.Warn("Failed to save wizard session", zap.Error(err))
			}
		}
		sessionID, _ := session.Get(sessionIDKey).(string)

		c.Set(deviceIDKey, deviceID)
		c.Set(sessionIDKey, sessionID)
		c.Next(ctx)
	}
}

// GetSessionRef 当前请求的向导会话
func GetSessionRef(c *app.RequestContext) service.SessionRef {
	return service.SessionRef{
		DeviceID:  c.GetString(deviceIDKey),
		SessionID: c.GetString(sessionIDKey),
	}
}

// RememberSession 会话 ID 变化（新建、恢复、重置）时写回 cookie
func RememberSession(c *app.RequestContext, sessionID string) {
	if sessionID == "" || sessionID == c.GetString(sessionIDKey) {
		return
	}
	session := sessions.Default(c)
	session.Set(sessionIDKey, sessionID)
	if err := session.Save(); err != nil {
		logger.Logger.Warn("Failed to save wizard session", zap.Error(err))
		return
	}
	c.Set(sessionIDKey, sessionID)
}
