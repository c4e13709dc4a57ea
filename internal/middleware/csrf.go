package middleware

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/csrf"
	"go.uber.org/zap"

	pkgerrors "ShuttleSignup/pkg/errors"
	"ShuttleSignup/pkg/logger"
	"ShuttleSignup/pkg/response"
)

const CSRFHeader = "X-CSRF-Token"

// CSRFMiddleware 依赖 SessionMiddleware，GET 请求不校验
func CSRFMiddleware(secret string) app.HandlerFunc {
	return csrf.New(
		csrf.WithSecret(secret),
		csrf.WithKeyLookUp("header:"+CSRFHeader),
		csrf.WithErrorFunc(func(ctx context.Context, c *app.RequestContext) {
			logger.Logger.Debug("CSRF check failed",
				zap.String("path", string(c.Path())),
				zap.String("client_ip", c.ClientIP()),
			)
			response.Error(ctx, c, pkgerrors.CSRFInvalid)
			c.Abort()
		}),
	)
}

// ExposeCSRFToken 在响应头里下发 token，前端在修改类请求中带回
func ExposeCSRFToken() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if token := csrf.GetToken(c); token != "" {
			c.Header(CSRFHeader, token)
		}
		c.Next(ctx)
	}
}
