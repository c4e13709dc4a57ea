package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"ShuttleSignup/internal/model/dto"
	"ShuttleSignup/internal/service"
	"ShuttleSignup/pkg/response"
)

// ListPickupLocations 活动的上车点，按出发时间排序
func ListPickupLocations(ctx context.Context, c *app.RequestContext) {
	eventID := c.Param("event_id")

	resources, err := service.Seats().ListResources(ctx, eventID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.SuccessWithMeta(ctx, c, dto.NewPickupLocationList(resources), map[string]interface{}{
		"count": len(resources),
	})
}

// GetPickupLocation 单个上车点的最新余量
func GetPickupLocation(ctx context.Context, c *app.RequestContext) {
	res, err := service.Seats().Get(ctx, c.Param("id"))
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, dto.NewPickupLocationItem(*res))
}

// BatchPickupLocations 一次查询多个上车点，不存在的 ID 被忽略
func BatchPickupLocations(ctx context.Context, c *app.RequestContext) {
	var req dto.BatchPickupLocationsRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	resources, err := service.Seats().BatchRefresh(ctx, req.IDs)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, dto.NewPickupLocationList(resources))
}

// ReserveSeat 名额已满返回 409，上车点不存在返回 404
func ReserveSeat(ctx context.Context, c *app.RequestContext) {
	var req dto.ReserveSeatRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	res, err := service.Seats().Reserve(ctx, c.Param("id"), req.ParticipantRef)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, dto.NewPickupLocationItem(*res))
}

// ReleaseSeat 重复释放返回 released=false
func ReleaseSeat(ctx context.Context, c *app.RequestContext) {
	released, err := service.Seats().Release(ctx, c.Param("id"), c.Param("participant_ref"))
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, dto.ReleaseSeatData{Released: released})
}

// TransferSeat 失败时在错误详情中返回新的接驳状态
func TransferSeat(ctx context.Context, c *app.RequestContext) {
	var req dto.TransferSeatRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	result, err := service.Seats().Transfer(ctx, req.FromID, req.ToID, req.ParticipantRef)
	if err != nil {
		if result != nil && result.Transport != nil {
			response.ErrorWithDetails(ctx, c, err, map[string]interface{}{
				"transport": result.Transport,
			})
			return
		}
		response.Error(ctx, c, err)
		return
	}

	data := dto.TransferSeatData{Transport: result.Transport}
	if result.Resource != nil {
		item := dto.NewPickupLocationItem(*result.Resource)
		data.Location = &item
	}
	response.Success(ctx, c, data)
}
