package model

import (
	"time"
)

// Step 报名向导的步骤，顺序固定
type Step string

const (
	StepIdentity     Step = "identity"
	StepEvent        Step = "event"
	StepPersonalInfo Step = "personal-info"
	StepTransport    Step = "transport"
	StepConfirmation Step = "confirmation"
	StepSuccess      Step = "success" // 终态，不能再向前
)

// Steps 规范顺序
var Steps = []Step{
	StepIdentity,
	StepEvent,
	StepPersonalInfo,
	StepTransport,
	StepConfirmation,
	StepSuccess,
}

// Index 返回步骤在规范顺序中的位置，未知步骤返回 -1
func (s Step) Index() int {
	for i, step := range Steps {
		if step == s {
			return i
		}
	}
	return -1
}

func (s Step) Valid() bool {
	return s.Index() >= 0
}

// Next 返回后继步骤，终态返回 false
func (s Step) Next() (Step, bool) {
	i := s.Index()
	if i < 0 || i+1 >= len(Steps) {
		return "", false
	}
	return Steps[i+1], true
}

// Previous 返回前驱步骤，第一步返回 false
func (s Step) Previous() (Step, bool) {
	i := s.Index()
	if i <= 0 {
		return "", false
	}
	return Steps[i-1], true
}

// Role 报名身份
type Role string

const (
	RoleParticipant Role = "participant"
	RoleVolunteer   Role = "volunteer"
	RoleStaff       Role = "staff"
)

var Roles = []Role{RoleParticipant, RoleVolunteer, RoleStaff}

func (r Role) Valid() bool {
	for _, role := range Roles {
		if role == r {
			return true
		}
	}
	return false
}

// PersonalInfo 个人信息
type PersonalInfo struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone,omitempty"`
	Organization string `json:"organization,omitempty"`
	DietaryNotes string `json:"dietary_notes,omitempty"`
}

// TransportSelection 接驳选择
// nil 表示尚未选择；Required=false 且 LocationID 为空表示明确不需要接驳
type TransportSelection struct {
	LocationID string `json:"location_id,omitempty"`
	Required   bool   `json:"required"`
	// Notice 需要展示给报名者的提示，例如换乘失败后被置为不需要接驳
	Notice string `json:"notice,omitempty"`
}

// NoTransport 明确不需要接驳的哨兵值
func NoTransport() *TransportSelection {
	return &TransportSelection{Required: false}
}

// IsNoTransport 是否为"不需要接驳"
func (t *TransportSelection) IsNoTransport() bool {
	return t != nil && !t.Required && t.LocationID == ""
}

// FlowState 报名向导的完整状态
type FlowState struct {
	CurrentStep        Step                `json:"current_step"`
	CompletedSteps     map[Step]bool       `json:"-"`
	Role               *Role               `json:"role"`
	SelectedEventID    *string             `json:"selected_event_id"`
	PersonalInfo       *PersonalInfo       `json:"personal_info"`
	TransportSelection *TransportSelection `json:"transport_selection"`
	SessionID          string              `json:"session_id"`
	LastSavedAt        *time.Time          `json:"last_saved_at"`
	Loading            bool                `json:"loading"`
	LastError          string              `json:"last_error,omitempty"`
}

// NewFlowState 零值状态
func NewFlowState(sessionID string) FlowState {
	return FlowState{
		CurrentStep:    StepIdentity,
		CompletedSteps: make(map[Step]bool),
		SessionID:      sessionID,
	}
}

// IsCompleted 步骤是否已完成
func (s *FlowState) IsCompleted(step Step) bool {
	return s.CompletedSteps[step]
}

// CompletedList 按规范顺序返回已完成步骤
func (s *FlowState) CompletedList() []Step {
	out := make([]Step, 0, len(s.CompletedSteps))
	for _, step := range Steps {
		if s.CompletedSteps[step] {
			out = append(out, step)
		}
	}
	return out
}

// Clone 深拷贝，调用方拿到的快照不会与控制器共享指针
func (s FlowState) Clone() FlowState {
	out := s
	out.CompletedSteps = make(map[Step]bool, len(s.CompletedSteps))
	for k, v := range s.CompletedSteps {
		out.CompletedSteps[k] = v
	}
	if s.Role != nil {
		r := *s.Role
		out.Role = &r
	}
	if s.SelectedEventID != nil {
		id := *s.SelectedEventID
		out.SelectedEventID = &id
	}
	if s.PersonalInfo != nil {
		p := *s.PersonalInfo
		out.PersonalInfo = &p
	}
	if s.TransportSelection != nil {
		t := *s.TransportSelection
		out.TransportSelection = &t
	}
	if s.LastSavedAt != nil {
		ts := *s.LastSavedAt
		out.LastSavedAt = &ts
	}
	return out
}

// FlowRecord 持久化的记录格式
// 新增字段必须是可选的（omitempty），保证旧记录可以继续加载
type FlowRecord struct {
	CurrentStep        Step                `json:"currentStep"`
	CompletedSteps     []Step              `json:"completedSteps"`
	Role               *Role               `json:"role"`
	SelectedEventID    *string             `json:"selectedEventId"`
	PersonalInfo       *PersonalInfo       `json:"personalInfo"`
	TransportSelection *TransportSelection `json:"transportSelection"`
	SessionID          string              `json:"sessionId"`
	LastSavedAt        *time.Time          `json:"lastSavedAt"`
}

// ToRecord 转换为持久化记录
func (s FlowState) ToRecord() FlowRecord {
	c := s.Clone()
	return FlowRecord{
		CurrentStep:        c.CurrentStep,
		CompletedSteps:     c.CompletedList(),
		Role:               c.Role,
		SelectedEventID:    c.SelectedEventID,
		PersonalInfo:       c.PersonalInfo,
		TransportSelection: c.TransportSelection,
		SessionID:          c.SessionID,
		LastSavedAt:        c.LastSavedAt,
	}
}

// ToState 从持久化记录恢复，未知步骤被丢弃
func (r FlowRecord) ToState() FlowState {
	state := NewFlowState(r.SessionID)
	if r.CurrentStep.Valid() {
		state.CurrentStep = r.CurrentStep
	}
	for _, step := range r.CompletedSteps {
		if step.Valid() {
			state.CompletedSteps[step] = true
		}
	}
	if r.Role != nil && r.Role.Valid() {
		state.Role = r.Role
	}
	state.SelectedEventID = r.SelectedEventID
	state.PersonalInfo = r.PersonalInfo
	state.TransportSelection = r.TransportSelection
	state.LastSavedAt = r.LastSavedAt
	return state
}
