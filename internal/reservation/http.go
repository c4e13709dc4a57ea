package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/tidwall/gjson"

	"ShuttleSignup/internal/model"
	"ShuttleSignup/internal/model/dto"
	"ShuttleSignup/internal/seat"
	"ShuttleSignup/pkg/breaker"
	pkgerrors "ShuttleSignup/pkg/errors"
)

// HTTPAPI 通过 /v1 接口访问远端名额服务
// 网络错误和超时统一返回 pkgerrors.ServiceUnavailable，客户端不做自动重试
type HTTPAPI struct {
	baseURL string
	client  *client.Client
	timeout time.Duration
	breaker *breaker.CircuitBreaker
}

func NewHTTPAPI(baseURL string, timeout time.Duration) (*HTTPAPI, error) {
	c, err := client.NewClient(
		client.WithDialTimeout(timeout),
		client.WithClientReadTimeout(timeout),
		client.WithWriteTimeout(timeout),
	)
	if err != nil {
		return nil, err
	}
	return &HTTPAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  c,
		timeout: timeout,
		breaker: breaker.New("seat_api", 5, 15*time.Second),
	}, nil
}

func (a *HTTPAPI) List(ctx context.Context, eventID string) ([]model.SeatResource, error) {
	var items []dto.PickupLocationItem
	if err := a.do(ctx, consts.MethodGet, "/v1/events/"+url.PathEscape(eventID)+"/pickup-locations", nil, &items); err != nil {
		return nil, err
	}
	return toModels(items), nil
}

func (a *HTTPAPI) Get(ctx context.Context, id string) (*model.SeatResource, error) {
	var item dto.PickupLocationItem
	if err := a.do(ctx, consts.MethodGet, "/v1/pickup-locations/"+url.PathEscape(id), nil, &item); err != nil {
		return nil, err
	}
	res := item.ToModel()
	return &res, nil
}

func (a *HTTPAPI) ReserveAttempt(ctx context.Context, id, participantRef string) (*model.SeatResource, error) {
	var item dto.PickupLocationItem
	body := dto.ReserveSeatRequest{ParticipantRef: participantRef}
	if err := a.do(ctx, consts.MethodPost, "/v1/pickup-locations/"+url.PathEscape(id)+"/reservations", body, &item); err != nil {
		return nil, err
	}
	res := item.ToModel()
	return &res, nil
}

func (a *HTTPAPI) Release(ctx context.Context, id, participantRef string) (bool, error) {
	var out dto.ReleaseSeatData
	path := "/v1/pickup-locations/" + url.PathEscape(id) + "/reservations/" + url.PathEscape(participantRef)
	if err := a.do(ctx, consts.MethodDelete, path, nil, &out); err != nil {
		return false, err
	}
	return out.Released, nil
}

func (a *HTTPAPI) Batch(ctx context.Context, ids []string) ([]model.SeatResource, error) {
	if len(ids) == 0 {
		return []model.SeatResource{}, nil
	}
	var items []dto.PickupLocationItem
	if err := a.do(ctx, consts.MethodPost, "/v1/pickup-locations/batch", dto.BatchPickupLocationsRequest{IDs: ids}, &items); err != nil {
		return nil, err
	}
	return toModels(items), nil
}

// Transfer 目标上车点失败时服务端返回 409/404，错误详情里带有新的接驳状态
func (a *HTTPAPI) Transfer(ctx context.Context, fromID, toID, participantRef string) (*seat.TransferResult, error) {
	var data dto.TransferSeatData
	body := dto.TransferSeatRequest{FromID: fromID, ToID: toID, ParticipantRef: participantRef}
	err := a.do(ctx, consts.MethodPost, "/v1/pickup-locations/transfer", body, &data)
	if err != nil {
		var re *remoteError
		if errors.As(err, &re) && re.transport != nil {
			return &seat.TransferResult{Transport: re.transport}, err
		}
		return nil, err
	}

	result := &seat.TransferResult{Transport: data.Transport, Transferred: data.Location != nil}
	if data.Location != nil {
		res := data.Location.ToModel()
		result.Resource = &res
	}
	return result, nil
}

func (a *HTTPAPI) do(ctx context.Context, method, path string, in, out interface{}) error {
	return a.breaker.Call(ctx, func(ctx context.Context) error {
		return a.roundTrip(ctx, method, path, in, out)
	}, isRemote)
}

func (a *HTTPAPI) roundTrip(ctx context.Context, method, path string, in, out interface{}) error {
	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer protocol.ReleaseRequest(req)
	defer protocol.ReleaseResponse(resp)

	req.SetRequestURI(a.baseURL + path)
	req.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		req.Header.SetContentTypeBytes([]byte("application/json"))
		req.SetBody(body)
	}

	if err := a.client.DoTimeout(ctx, req, resp, a.timeout); err != nil {
		return fmt.Errorf("%w: %s %s: %v", pkgerrors.ServiceUnavailable, method, path, err)
	}

	body := resp.Body()
	status := resp.StatusCode()
	if status >= 400 {
		return decodeError(status, body)
	}
	if out == nil || status == consts.StatusNoContent {
		return nil
	}

	data := gjson.GetBytes(body, "data")
	if !data.Exists() {
		return fmt.Errorf("%w: response without data envelope", pkgerrors.Internal)
	}
	if err := json.Unmarshal([]byte(data.Raw), out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// remoteError 服务端返回的业务错误，可用 errors.Is 与错误码目录比较
type remoteError struct {
	def       pkgerrors.Definition
	message   string
	status    int
	transport *model.TransportSelection
}

func (e *remoteError) Error() string {
	return fmt.Sprintf("seat api %d %s: %s", e.status, e.def.Code, e.message)
}

func (e *remoteError) Unwrap() error {
	return e.def
}

func decodeError(status int, body []byte) error {
	re := &remoteError{status: status}

	code := gjson.GetBytes(body, "error.code").String()
	switch {
	case code != "":
		re.def = pkgerrors.Get(code)
	case status >= 500:
		re.def = pkgerrors.ServiceUnavailable
	default:
		re.def = pkgerrors.Internal
	}

	re.message = gjson.GetBytes(body, "error.message").String()
	if re.message == "" {
		re.message = re.def.Message
	}

	if raw := gjson.GetBytes(body, "error.details.transport"); raw.Exists() {
		var t model.TransportSelection
		if err := json.Unmarshal([]byte(raw.Raw), &t); err == nil {
			re.transport = &t
		}
	}
	return re
}

// isRemote 4xx 业务结果不计入熔断
func isRemote(err error) bool {
	var re *remoteError
	return errors.As(err, &re) && re.status < 500
}

func toModels(items []dto.PickupLocationItem) []model.SeatResource {
	out := make([]model.SeatResource, 0, len(items))
	for _, item := range items {
		out = append(out, item.ToModel())
	}
	return out
}
