package errors

func (d Definition) Error() string {
	return d.Message
}

// Definition 表示业务错误码及默认信息。
// 值类型可比较，包装后可直接用 errors.Is 判断。
type Definition struct {
	Code    string
	Message string
}

// 通用错误。
var (
	InvalidRequest     = Definition{Code: "INVALID_REQUEST", Message: "Invalid request"}
	ServiceUnavailable = Definition{Code: "SERVICE_UNAVAILABLE", Message: "Service temporarily unavailable, please retry"}
	TooManyRequests    = Definition{Code: "TOO_MANY_REQUESTS", Message: "Too many requests"}
	Internal           = Definition{Code: "INTERNAL_ERROR", Message: "Internal error"}
	CSRFInvalid        = Definition{Code: "CSRF_TOKEN_INVALID", Message: "Missing or invalid CSRF token"}
)

// 报名流程错误。
var (
	InvalidStep     = Definition{Code: "INVALID_STEP", Message: "Invalid step"}
	InvalidRole     = Definition{Code: "INVALID_ROLE", Message: "Invalid role"}
	StepIncomplete  = Definition{Code: "STEP_INCOMPLETE", Message: "Previous steps must be completed first"}
	SessionNotFound = Definition{Code: "SESSION_NOT_FOUND", Message: "Registration session not found"}
	FlowStorage     = Definition{Code: "FLOW_STORAGE_ERROR", Message: "Failed to persist registration progress"}
)

// 接驳座位错误。
var (
	ReservationConflict = Definition{Code: "RESERVATION_CONFLICT", Message: "This pickup location is already full, please pick another"}
	ReservationNotFound = Definition{Code: "RESERVATION_NOT_FOUND", Message: "Pickup location not found, please refresh"}
	SeatUnavailable     = Definition{Code: "SEAT_UNAVAILABLE", Message: "Pickup location is no longer available"}
	InvalidCapacity     = Definition{Code: "INVALID_CAPACITY", Message: "Capacity must not be negative"}
)

// Lookup 提供错误码查询能力。
var Lookup = map[string]Definition{
	InvalidRequest.Code:      InvalidRequest,
	ServiceUnavailable.Code:  ServiceUnavailable,
	TooManyRequests.Code:     TooManyRequests,
	Internal.Code:            Internal,
	CSRFInvalid.Code:         CSRFInvalid,
	InvalidStep.Code:         InvalidStep,
	InvalidRole.Code:         InvalidRole,
	StepIncomplete.Code:      StepIncomplete,
	SessionNotFound.Code:     SessionNotFound,
	FlowStorage.Code:         FlowStorage,
	ReservationConflict.Code: ReservationConflict,
	ReservationNotFound.Code: ReservationNotFound,
	SeatUnavailable.Code:     SeatUnavailable,
	InvalidCapacity.Code:     InvalidCapacity,
}

// Get 根据错误码返回 Definition，若不存在则返回空 Definition。
func Get(code string) Definition {
	if def, ok := Lookup[code]; ok {
		return def
	}
	return Definition{Code: code, Message: "Unexpected error"}
}
