package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"ShuttleSignup/internal/middleware"
	"ShuttleSignup/internal/model/dto"
	"ShuttleSignup/internal/service"
	"ShuttleSignup/pkg/response"
)

// 向导接口都返回完整状态，会话 ID 变化时同步写回 cookie

func writeState(ctx context.Context, c *app.RequestContext, data dto.FlowStateData, err error) {
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	middleware.RememberSession(c, data.SessionID)
	response.Success(ctx, c, data)
}

// GetRegistration 当前状态，新会话会先尝试恢复 24 小时内的进度
func GetRegistration(ctx context.Context, c *app.RequestContext) {
	data, err := service.Registration().State(ctx, middleware.GetSessionRef(c))
	writeState(ctx, c, data, err)
}

func GoToStep(ctx context.Context, c *app.RequestContext) {
	data, err := service.Registration().GoTo(ctx, middleware.GetSessionRef(c), c.Param("step"))
	writeState(ctx, c, data, err)
}

func NextStep(ctx context.Context, c *app.RequestContext) {
	data, err := service.Registration().Next(ctx, middleware.GetSessionRef(c))
	writeState(ctx, c, data, err)
}

func PreviousStep(ctx context.Context, c *app.RequestContext) {
	data, err := service.Registration().Previous(ctx, middleware.GetSessionRef(c))
	writeState(ctx, c, data, err)
}

func SetRole(ctx context.Context, c *app.RequestContext) {
	var req dto.SetRoleRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}
	data, err := service.Registration().SetRole(ctx, middleware.GetSessionRef(c), req.Role)
	writeState(ctx, c, data, err)
}

func SetEvent(ctx context.Context, c *app.RequestContext) {
	var req dto.SetEventRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}
	data, err := service.Registration().SetEvent(ctx, middleware.GetSessionRef(c), req.EventID)
	writeState(ctx, c, data, err)
}

func SetPersonalInfo(ctx context.Context, c *app.RequestContext) {
	var req dto.SetPersonalInfoRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}
	data, err := service.Registration().SetPersonalInfo(ctx, middleware.GetSessionRef(c), req.ToModel())
	writeState(ctx, c, data, err)
}

// GetTransportOptions 上车点列表和当前选择
func GetTransportOptions(ctx context.Context, c *app.RequestContext) {
	data, err := service.Registration().TransportOptions(ctx, middleware.GetSessionRef(c))
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, data)
}

// SelectTransport 再次选择同一个上车点会取消选择
func SelectTransport(ctx context.Context, c *app.RequestContext) {
	var req dto.SelectTransportRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}
	data, err := service.Registration().SelectTransport(ctx, middleware.GetSessionRef(c), req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, data)
}

// ConfirmTransport 冲突时返回 409，详情里带候选上车点
func ConfirmTransport(ctx context.Context, c *app.RequestContext) {
	data, err := service.Registration().ConfirmTransport(ctx, middleware.GetSessionRef(c))
	if err != nil {
		if data == nil {
			response.Error(ctx, c, err)
			return
		}
		response.ErrorWithDetails(ctx, c, err, map[string]interface{}{
			"state":        data.State,
			"transport":    data.Transport,
			"alternatives": data.Alternatives,
		})
		return
	}
	middleware.RememberSession(c, data.State.SessionID)
	response.Success(ctx, c, data)
}

func SubmitRegistration(ctx context.Context, c *app.RequestContext) {
	data, err := service.Registration().Submit(ctx, middleware.GetSessionRef(c))
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, data)
}

// ResetRegistration 放弃当前进度，下发新的会话 ID
func ResetRegistration(ctx context.Context, c *app.RequestContext) {
	data, err := service.Registration().Reset(ctx, middleware.GetSessionRef(c))
	writeState(ctx, c, data, err)
}
