package middleware

import (
	"context"
	"testing"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newEngine() *route.Engine {
	return route.NewEngine(config.NewOptions([]config.Option{}))
}

func TestRecoverMiddleware(t *testing.T) {
	for _, tc := range []struct {
		name       string
		production bool
		hasDetails bool
	}{
		{"development", false, true},
		{"production", true, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			engine := newEngine()
			engine.Use(RecoverMiddleware(NewRecoverConfig(tc.production)))
			engine.GET("/boom", func(ctx context.Context, c *app.RequestContext) {
				panic("boom")
			})

			resp := ut.PerformRequest(engine, "GET", "/boom", nil).Result()
			assert.Equal(t, 500, resp.StatusCode())
			assert.Equal(t, "INTERNAL_ERROR", gjson.GetBytes(resp.Body(), "error.code").String())
			assert.Equal(t, tc.hasDetails, gjson.GetBytes(resp.Body(), "error.details.panic").Exists())
		})
	}
}

func TestWizardSessionAssignsDeviceOnce(t *testing.T) {
	engine := newEngine()
	engine.Use(SessionMiddleware("test-secret", false), WizardSessionMiddleware())
	engine.GET("/who", func(ctx context.Context, c *app.RequestContext) {
		ref := GetSessionRef(c)
		RememberSession(c, "session-1")
		c.JSON(200, map[string]string{"device_id": ref.DeviceID, "session_id": ref.SessionID})
	})

	first := ut.PerformRequest(engine, "GET", "/who", nil).Result()
	require.Equal(t, 200, first.StatusCode())
	deviceID := gjson.GetBytes(first.Body(), "device_id").String()
	require.NotEmpty(t, deviceID)
	assert.Empty(t, gjson.GetBytes(first.Body(), "session_id").String())

	var cookie string
	first.Header.VisitAllCookie(func(key, value []byte) {
		if string(key) == SessionName {
			cookie = string(value)
		}
	})
	require.NotEmpty(t, cookie)
	for i, ch := range cookie {
		if ch == ';' {
			cookie = cookie[:i]
			break
		}
	}

	second := ut.PerformRequest(engine, "GET", "/who", nil, ut.Header{Key: "Cookie", Value: cookie}).Result()
	assert.Equal(t, deviceID, gjson.GetBytes(second.Body(), "device_id").String())
	assert.Equal(t, "session-1", gjson.GetBytes(second.Body(), "session_id").String())
}
