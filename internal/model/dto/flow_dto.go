package dto

import (
	"time"

	"ShuttleSignup/internal/model"
)

// FlowStateData 报名向导状态响应
type FlowStateData struct {
	SessionID          string                    `json:"session_id"`
	CurrentStep        model.Step                `json:"current_step"`
	CompletedSteps     []model.Step              `json:"completed_steps"`
	NavigableSteps     []model.Step              `json:"navigable_steps"`
	Progress           int                       `json:"progress"`
	Role               *model.Role               `json:"role"`
	SelectedEventID    *string                   `json:"selected_event_id"`
	PersonalInfo       *model.PersonalInfo       `json:"personal_info"`
	TransportSelection *model.TransportSelection `json:"transport_selection"`
	LastSavedAt        *time.Time                `json:"last_saved_at"`
	Resumed            bool                      `json:"resumed"`
	LastError          string                    `json:"last_error,omitempty"`
}

// SetRoleRequest 选择身份
type SetRoleRequest struct {
	Role string `json:"role" vd:"len($)>0"`
}

// SetEventRequest 选择活动
type SetEventRequest struct {
	EventID string `json:"event_id" vd:"len($)>0"`
}

// SetPersonalInfoRequest 填写个人信息
type SetPersonalInfoRequest struct {
	FirstName    string `json:"first_name" vd:"len($)>0"`
	LastName     string `json:"last_name" vd:"len($)>0"`
	Email        string `json:"email" vd:"email($)"`
	Phone        string `json:"phone"`
	Organization string `json:"organization"`
	DietaryNotes string `json:"dietary_notes"`
}

// SelectTransportRequest 选择上车点；NoTransport=true 表示不需要接驳
type SelectTransportRequest struct {
	LocationID  string `json:"location_id"`
	NoTransport bool   `json:"no_transport"`
}

// TransportOptionsData 上车点选项与当前选择
type TransportOptionsData struct {
	Locations []PickupLocationItem      `json:"locations"`
	Selection *model.TransportSelection `json:"selection"`
	Selected  string                    `json:"selected,omitempty"`
}

// SubmitData 提交结果
type SubmitData struct {
	ParticipantRef string `json:"participant_ref"`
	SubmittedAt    string `json:"submitted_at"`
}

// ConfirmTransportData 确认上车点的结果；冲突时 Alternatives 为其余仍有空位的上车点
type ConfirmTransportData struct {
	State        FlowStateData             `json:"state"`
	Location     *PickupLocationItem       `json:"location,omitempty"`
	Transport    *model.TransportSelection `json:"transport"`
	Alternatives []PickupLocationItem      `json:"alternatives,omitempty"`
}

// NewFlowStateData 由流程状态构造响应
func NewFlowStateData(state model.FlowState, navigable []model.Step, progress int, resumed bool) FlowStateData {
	return FlowStateData{
		SessionID:          state.SessionID,
		CurrentStep:        state.CurrentStep,
		CompletedSteps:     state.CompletedList(),
		NavigableSteps:     navigable,
		Progress:           progress,
		Role:               state.Role,
		SelectedEventID:    state.SelectedEventID,
		PersonalInfo:       state.PersonalInfo,
		TransportSelection: state.TransportSelection,
		LastSavedAt:        state.LastSavedAt,
		Resumed:            resumed,
		LastError:          state.LastError,
	}
}

// ToModel 转换为领域模型
func (r SetPersonalInfoRequest) ToModel() model.PersonalInfo {
	return model.PersonalInfo{
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		Email:        r.Email,
		Phone:        r.Phone,
		Organization: r.Organization,
		DietaryNotes: r.DietaryNotes,
	}
}
