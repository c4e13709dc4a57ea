package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	ri "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ShuttleSignup/internal/cache"
	"ShuttleSignup/internal/model"
	"ShuttleSignup/internal/model/dto"
	"ShuttleSignup/internal/reservation"
	"ShuttleSignup/internal/seat"
	pkgerrors "ShuttleSignup/pkg/errors"
)

var pickup = time.Date(2026, 6, 12, 7, 0, 0, 0, time.UTC)

type recordingSubmitter struct {
	mu   sync.Mutex
	msgs []model.RegistrationSubmittedMessage
	err  error
}

func (r *recordingSubmitter) PublishRegistrationSubmitted(_ context.Context, msg model.RegistrationSubmittedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

type fixture struct {
	svc       *RegistrationService
	inv       *seat.Inventory
	redis     *miniredis.Miniredis
	submitter *recordingSubmitter
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	client := ri.NewClient(&ri.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inv := seat.NewInventory(seat.NewRedisRepository(client, "test"))
	ctx := context.Background()
	for i, r := range []struct {
		id       string
		capacity int
	}{{"north", 2}, {"south", 1}, {"west", 3}} {
		require.NoError(t, inv.CreateResource(ctx, &model.SeatResource{
			ID:         r.id,
			EventID:    "evt-1",
			Label:      r.id,
			PickupTime: pickup.Add(time.Duration(i) * 10 * time.Minute),
			Capacity:   r.capacity,
		}))
	}
	require.NoError(t, inv.CreateResource(ctx, &model.SeatResource{
		ID: "harbour", EventID: "evt-2", Label: "harbour", PickupTime: pickup, Capacity: 5,
	}))

	f := &fixture{
		inv:       inv,
		redis:     server,
		submitter: &recordingSubmitter{},
		now:       time.Now(),
	}
	f.svc = NewRegistrationService(
		RedisStores(client, "test", 2*time.Hour, 24*time.Hour),
		reservation.NewLocalAPI(inv),
		f.submitter,
		RegistrationOptions{
			SaveDebounce:   time.Hour,
			SaveTimeout:    time.Second,
			IdleEvictAfter: 30 * time.Minute,
			PollInterval:   time.Hour,
			RequestTimeout: time.Second,
			Alternatives:   3,
			Submissions:    cache.NewSubmittedRegistry(client, "test", 24*time.Hour),
		},
	)
	f.svc.now = func() time.Time { return f.now }
	t.Cleanup(func() { f.svc.Close(context.Background()) })
	return f
}

// walkToTransport 完成前三步，返回会话标识
func (f *fixture) walkToTransport(t *testing.T, device, event string) SessionRef {
	t.Helper()
	ctx := context.Background()
	ref := SessionRef{DeviceID: device}

	data, err := f.svc.State(ctx, ref)
	require.NoError(t, err)
	ref.SessionID = data.SessionID

	_, err = f.svc.SetRole(ctx, ref, "participant")
	require.NoError(t, err)
	_, err = f.svc.SetEvent(ctx, ref, event)
	require.NoError(t, err)
	data, err = f.svc.SetPersonalInfo(ctx, ref, model.PersonalInfo{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"})
	require.NoError(t, err)
	require.Equal(t, model.StepTransport, data.CurrentStep)
	return ref
}

func (f *fixture) reserved(t *testing.T, id string) int {
	t.Helper()
	res, err := f.inv.Get(context.Background(), id)
	require.NoError(t, err)
	return res.ReservedCount
}

func TestRegistrationHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	data, err := f.svc.State(ctx, SessionRef{DeviceID: "dev-1"})
	require.NoError(t, err)
	assert.Equal(t, model.StepIdentity, data.CurrentStep)
	assert.Equal(t, 17, data.Progress)
	assert.False(t, data.Resumed)
	ref := SessionRef{DeviceID: "dev-1", SessionID: data.SessionID}

	data, err = f.svc.SetRole(ctx, ref, "volunteer")
	require.NoError(t, err)
	assert.Equal(t, model.StepEvent, data.CurrentStep)
	assert.Equal(t, 33, data.Progress)

	data, err = f.svc.SetEvent(ctx, ref, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, model.StepPersonalInfo, data.CurrentStep)

	data, err = f.svc.SetPersonalInfo(ctx, ref, model.PersonalInfo{FirstName: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, model.StepTransport, data.CurrentStep)

	options, err := f.svc.TransportOptions(ctx, ref)
	require.NoError(t, err)
	require.Len(t, options.Locations, 3)
	assert.Equal(t, "north", options.Locations[0].ID)
	assert.Nil(t, options.Selection)

	options, err = f.svc.SelectTransport(ctx, ref, dto.SelectTransportRequest{LocationID: "north"})
	require.NoError(t, err)
	assert.Equal(t, "north", options.Selected)
	assert.Equal(t, 0, f.reserved(t, "north"), "selecting does not reserve")

	confirm, err := f.svc.ConfirmTransport(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.StepConfirmation, confirm.State.CurrentStep)
	assert.Equal(t, "north", confirm.Location.ID)
	assert.Equal(t, 1, f.reserved(t, "north"))

	submit, err := f.svc.Submit(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, ref.SessionID, submit.ParticipantRef)

	require.Len(t, f.submitter.msgs, 1)
	msg := f.submitter.msgs[0]
	assert.Equal(t, model.RoleVolunteer, msg.Role)
	assert.Equal(t, "evt-1", msg.EventID)
	assert.Equal(t, "north", msg.Transport.LocationID)

	data, err = f.svc.State(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.StepSuccess, data.CurrentStep)
	assert.Equal(t, 100, data.Progress)

	// 提交后持久化副本被删除
	assert.False(t, f.redis.Exists("test:flow:session:registration_flow_"+ref.SessionID))
	assert.False(t, f.redis.Exists("test:flow:device:dev-1:registration_flow_state"))
}

func TestRegistrationRejectsSkippingAhead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	data, err := f.svc.State(ctx, SessionRef{DeviceID: "dev-1"})
	require.NoError(t, err)
	ref := SessionRef{DeviceID: "dev-1", SessionID: data.SessionID}

	_, err = f.svc.SetPersonalInfo(ctx, ref, model.PersonalInfo{FirstName: "Ada"})
	assert.ErrorIs(t, err, pkgerrors.StepIncomplete)

	_, err = f.svc.TransportOptions(ctx, ref)
	assert.ErrorIs(t, err, pkgerrors.StepIncomplete)

	_, err = f.svc.Submit(ctx, ref)
	assert.ErrorIs(t, err, pkgerrors.StepIncomplete)

	// 守卫不满足的跳转静默忽略
	data, err = f.svc.GoTo(ctx, ref, "confirmation")
	require.NoError(t, err)
	assert.Equal(t, model.StepIdentity, data.CurrentStep)

	_, err = f.svc.GoTo(ctx, ref, "payment")
	assert.ErrorIs(t, err, pkgerrors.InvalidStep)

	_, err = f.svc.SetRole(ctx, ref, "admin")
	assert.ErrorIs(t, err, pkgerrors.InvalidRole)
}

func TestRegistrationMissingDevice(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.State(context.Background(), SessionRef{})
	assert.ErrorIs(t, err, pkgerrors.SessionNotFound)
}

func TestRegistrationNavigateBackAndForth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.walkToTransport(t, "dev-1", "evt-1")

	data, err := f.svc.GoTo(ctx, ref, "identity")
	require.NoError(t, err)
	assert.Equal(t, model.StepIdentity, data.CurrentStep)

	// 修改已完成的步骤不会改变当前位置
	data, err = f.svc.SetRole(ctx, ref, "staff")
	require.NoError(t, err)
	assert.Equal(t, model.StepIdentity, data.CurrentStep)

	data, err = f.svc.Next(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.StepEvent, data.CurrentStep)

	data, err = f.svc.GoTo(ctx, ref, "transport")
	require.NoError(t, err)
	assert.Equal(t, model.StepTransport, data.CurrentStep)

	data, err = f.svc.Next(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.StepTransport, data.CurrentStep, "transport is not completed yet")

	data, err = f.svc.Previous(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.StepPersonalInfo, data.CurrentStep)
}

func TestRegistrationConfirmRechecksSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.walkToTransport(t, "dev-1", "evt-1")

	_, err := f.svc.TransportOptions(ctx, ref)
	require.NoError(t, err)
	_, err = f.svc.SelectTransport(ctx, ref, dto.SelectTransportRequest{LocationID: "south"})
	require.NoError(t, err)

	_, err = f.inv.Reserve(ctx, "south", "someone-else")
	require.NoError(t, err)

	confirm, err := f.svc.ConfirmTransport(ctx, ref)
	assert.ErrorIs(t, err, pkgerrors.SeatUnavailable)
	require.NotNil(t, confirm)
	assert.Equal(t, model.StepTransport, confirm.State.CurrentStep)
	assert.Equal(t, pkgerrors.SeatUnavailable.Message, confirm.State.LastError)
	assert.Nil(t, confirm.State.TransportSelection)
	require.NotNil(t, confirm.Location)
	assert.False(t, confirm.Location.Available)
	assert.Equal(t, 1, f.reserved(t, "south"), "no reservation attempted")

	ids := []string{}
	for _, alt := range confirm.Alternatives {
		ids = append(ids, alt.ID)
	}
	assert.Equal(t, []string{"north", "west"}, ids)

	// 不自动改选
	options, err := f.svc.TransportOptions(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, options.Selection)
	for _, loc := range options.Locations {
		if loc.ID == "south" {
			assert.False(t, loc.Available)
		}
	}

	_, err = f.svc.SelectTransport(ctx, ref, dto.SelectTransportRequest{LocationID: "west"})
	require.NoError(t, err)
	confirm, err = f.svc.ConfirmTransport(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.StepConfirmation, confirm.State.CurrentStep)
	assert.Empty(t, confirm.State.LastError)
	assert.Equal(t, 1, f.reserved(t, "south"))
	assert.Equal(t, 1, f.reserved(t, "west"))
}

// racingAPI 在复查之后、占座之前让别人抢走最后一个座位
type racingAPI struct {
	reservation.API
	inv    *seat.Inventory
	target string
	once   sync.Once
}

func (r *racingAPI) Get(ctx context.Context, id string) (*model.SeatResource, error) {
	res, err := r.API.Get(ctx, id)
	if id == r.target {
		r.once.Do(func() { _, _ = r.inv.Reserve(ctx, id, "someone-else") })
	}
	return res, err
}

// raceOn 换成 racingAPI 重新构造服务
func (f *fixture) raceOn(t *testing.T, target string) {
	t.Helper()
	f.svc.Close(context.Background())
	f.svc = NewRegistrationService(f.svc.stores, &racingAPI{API: f.svc.seats, inv: f.inv, target: target}, f.submitter, f.svc.opts)
	f.svc.now = func() time.Time { return f.now }
}

func TestRegistrationConfirmConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.raceOn(t, "south")
	ref := f.walkToTransport(t, "dev-1", "evt-1")

	_, err := f.svc.TransportOptions(ctx, ref)
	require.NoError(t, err)
	_, err = f.svc.SelectTransport(ctx, ref, dto.SelectTransportRequest{LocationID: "south"})
	require.NoError(t, err)

	confirm, err := f.svc.ConfirmTransport(ctx, ref)
	assert.ErrorIs(t, err, seat.ErrConflict)
	require.NotNil(t, confirm)
	assert.Equal(t, model.StepTransport, confirm.State.CurrentStep)
	assert.Equal(t, pkgerrors.ReservationConflict.Message, confirm.State.LastError)
	assert.Nil(t, confirm.State.TransportSelection)
	assert.Equal(t, 1, f.reserved(t, "south"))

	ids := []string{}
	for _, alt := range confirm.Alternatives {
		ids = append(ids, alt.ID)
	}
	assert.Equal(t, []string{"north", "west"}, ids)

	options, err := f.svc.TransportOptions(ctx, ref)
	require.NoError(t, err)
	assert.Nil(t, options.Selection)
	for _, loc := range options.Locations {
		if loc.ID == "south" {
			assert.False(t, loc.Available)
		}
	}

	// 改选其他上车点后可以继续
	_, err = f.svc.SelectTransport(ctx, ref, dto.SelectTransportRequest{LocationID: "west"})
	require.NoError(t, err)
	confirm, err = f.svc.ConfirmTransport(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.StepConfirmation, confirm.State.CurrentStep)
	assert.Empty(t, confirm.State.LastError)
}

func TestRegistrationNoTransport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.walkToTransport(t, "dev-1", "evt-1")

	options, err := f.svc.SelectTransport(ctx, ref, dto.SelectTransportRequest{NoTransport: true})
	require.NoError(t, err)
	assert.True(t, options.Selection.IsNoTransport())

	confirm, err := f.svc.ConfirmTransport(ctx, ref)
	require.NoError(t, err)
	assert.True(t, confirm.Transport.IsNoTransport())

	_, err = f.svc.Submit(ctx, ref)
	require.NoError(t, err)
	require.Len(t, f.submitter.msgs, 1)
	assert.False(t, f.submitter.msgs[0].Transport.Required)
}

func TestRegistrationChangingLocationTransfersSeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.walkToTransport(t, "dev-1", "evt-1")

	_, err := f.svc.SelectTransport(ctx, ref, dto.SelectTransportRequest{LocationID: "north"})
	require.NoError(t, err)
	_, err = f.svc.ConfirmTransport(ctx, ref)
	require.NoError(t, err)

	_, err = f.svc.GoTo(ctx, ref, "transport")
	require.NoError(t, err)
	_, err = f.svc.SelectTransport(ctx, ref, dto.SelectTransportRequest{LocationID: "west"})
	require.NoError(t, err)
	confirm, err := f.svc.ConfirmTransport(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "west", confirm.Transport.LocationID)

	assert.Equal(t, 0, f.reserved(t, "north"))
	assert.Equal(t, 1, f.reserved(t, "west"))
}

func TestRegistrationTransferToFullLocationKeepsHeldSeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.walkToTransport(t, "dev-1", "evt-1")

	_, err := f.svc.SelectTransport(ctx, ref, dto.SelectTransportRequest{LocationID: "north"})
	require.NoError(t, err)
	_, err = f.svc.ConfirmTransport(ctx, ref)
	require.NoError(t, err)

	_, err = f.inv.Reserve(ctx, "south", "someone-else")
	require.NoError(t, err)

	_, err = f.svc.GoTo(ctx, ref, "transport")
	require.NoError(t, err)
	_, err = f.svc.SelectTransport(ctx, ref, dto.SelectTransportRequest{LocationID: "south"})
	require.NoError(t, err)

	confirm, err := f.svc.ConfirmTransport(ctx, ref)
	assert.ErrorIs(t, err, pkgerrors.SeatUnavailable)
	require.NotNil(t, confirm.State.TransportSelection)
	assert.Equal(t, "north", confirm.State.TransportSelection.LocationID)
	assert.Equal(t, 1, f.reserved(t, "north"), "held seat is kept")
	assert.Equal(t, 1, f.reserved(t, "south"))
}

func TestRegistrationFailedTransferLeavesNotice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.raceOn(t, "south")
	ref := f.walkToTransport(t, "dev-1", "evt-1")

	_, err := f.svc.SelectTransport(ctx, ref, dto.SelectTransportRequest{LocationID: "north"})
	require.NoError(t, err)
	_, err = f.svc.ConfirmTransport(ctx, ref)
	require.NoError(t, err)

	_, err = f.svc.GoTo(ctx, ref, "transport")
	require.NoError(t, err)
	_, err = f.svc.SelectTransport(ctx, ref, dto.SelectTransportRequest{LocationID: "south"})
	require.NoError(t, err)

	confirm, err := f.svc.ConfirmTransport(ctx, ref)
	assert.ErrorIs(t, err, seat.ErrConflict)
	require.NotNil(t, confirm.State.TransportSelection)
	assert.True(t, confirm.State.TransportSelection.IsNoTransport())
	assert.Equal(t, seat.TransferFailedNotice, confirm.State.TransportSelection.Notice)
	assert.Equal(t, 0, f.reserved(t, "north"), "previous seat is not returned")
}

func TestRegistrationSubmitPublishFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.walkToTransport(t, "dev-1", "evt-1")

	_, err := f.svc.SelectTransport(ctx, ref, dto.SelectTransportRequest{NoTransport: true})
	require.NoError(t, err)
	_, err = f.svc.ConfirmTransport(ctx, ref)
	require.NoError(t, err)

	f.submitter.err = errors.New("broker down")
	_, err = f.svc.Submit(ctx, ref)
	assert.ErrorIs(t, err, pkgerrors.ServiceUnavailable)

	data, err := f.svc.State(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.StepConfirmation, data.CurrentStep)

	f.submitter.err = nil
	_, err = f.svc.Submit(ctx, ref)
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, ref)
	assert.ErrorIs(t, err, pkgerrors.InvalidRequest, "second submit is rejected")
}

func TestRegistrationResumesAfterEviction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.walkToTransport(t, "dev-1", "evt-1")
	assert.Equal(t, 1, f.svc.Sessions())

	f.now = f.now.Add(time.Hour)
	assert.Equal(t, 1, f.svc.EvictIdle(ctx))
	assert.Equal(t, 0, f.svc.Sessions())

	data, err := f.svc.State(ctx, ref)
	require.NoError(t, err)
	assert.True(t, data.Resumed)
	assert.Equal(t, ref.SessionID, data.SessionID)
	assert.Equal(t, model.StepTransport, data.CurrentStep)
	require.NotNil(t, data.Role)
	assert.Equal(t, model.RoleParticipant, *data.Role)
}

func TestRegistrationResumesOnSameDeviceInNewSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.walkToTransport(t, "dev-1", "evt-1")
	f.svc.Close(ctx)

	f.svc = NewRegistrationService(f.svc.stores, f.svc.seats, f.submitter, f.svc.opts)

	data, err := f.svc.State(ctx, SessionRef{DeviceID: "dev-1"})
	require.NoError(t, err)
	assert.True(t, data.Resumed)
	assert.Equal(t, ref.SessionID, data.SessionID)
	assert.Equal(t, model.StepTransport, data.CurrentStep)

	other, err := f.svc.State(ctx, SessionRef{DeviceID: "dev-2"})
	require.NoError(t, err)
	assert.False(t, other.Resumed)
	assert.Equal(t, model.StepIdentity, other.CurrentStep)
}

func TestRegistrationResetReleasesSeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.walkToTransport(t, "dev-1", "evt-1")

	_, err := f.svc.SelectTransport(ctx, ref, dto.SelectTransportRequest{LocationID: "north"})
	require.NoError(t, err)
	_, err = f.svc.ConfirmTransport(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, 1, f.reserved(t, "north"))

	data, err := f.svc.Reset(ctx, ref)
	require.NoError(t, err)
	assert.NotEqual(t, ref.SessionID, data.SessionID)
	assert.Equal(t, model.StepIdentity, data.CurrentStep)
	assert.Empty(t, data.CompletedSteps)
	assert.Equal(t, 0, f.reserved(t, "north"))
	assert.Equal(t, 1, f.svc.Sessions())

	again, err := f.svc.State(ctx, SessionRef{DeviceID: "dev-1", SessionID: data.SessionID})
	require.NoError(t, err)
	assert.Equal(t, model.StepIdentity, again.CurrentStep)
}

func TestRegistrationChangingEventReleasesSeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.walkToTransport(t, "dev-1", "evt-1")

	_, err := f.svc.SelectTransport(ctx, ref, dto.SelectTransportRequest{LocationID: "north"})
	require.NoError(t, err)
	_, err = f.svc.ConfirmTransport(ctx, ref)
	require.NoError(t, err)

	_, err = f.svc.GoTo(ctx, ref, "event")
	require.NoError(t, err)
	data, err := f.svc.SetEvent(ctx, ref, "evt-2")
	require.NoError(t, err)
	assert.Nil(t, data.TransportSelection)
	assert.Equal(t, 0, f.reserved(t, "north"))

	options, err := f.svc.TransportOptions(ctx, ref)
	require.NoError(t, err)
	require.Len(t, options.Locations, 1)
	assert.Equal(t, "harbour", options.Locations[0].ID)

	_, err = f.svc.Submit(ctx, ref)
	assert.ErrorIs(t, err, pkgerrors.StepIncomplete, "transport selection was cleared")
}

func TestRegistrationNavigationFrozenAfterSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.walkToTransport(t, "dev-1", "evt-1")

	_, err := f.svc.SelectTransport(ctx, ref, dto.SelectTransportRequest{NoTransport: true})
	require.NoError(t, err)
	_, err = f.svc.ConfirmTransport(ctx, ref)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, ref)
	require.NoError(t, err)

	data, err := f.svc.Previous(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.StepSuccess, data.CurrentStep)

	_, err = f.svc.SetRole(ctx, ref, "staff")
	assert.ErrorIs(t, err, pkgerrors.InvalidRequest)
}

func TestRegistrationSubmittedSessionIsNotReused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.walkToTransport(t, "dev-1", "evt-1")

	_, err := f.svc.SelectTransport(ctx, ref, dto.SelectTransportRequest{LocationID: "north"})
	require.NoError(t, err)
	_, err = f.svc.ConfirmTransport(ctx, ref)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, ref)
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	require.Equal(t, 1, f.svc.EvictIdle(ctx))

	// 浏览器仍然带着旧 cookie
	data, err := f.svc.State(ctx, ref)
	require.NoError(t, err)
	assert.NotEqual(t, ref.SessionID, data.SessionID)
	assert.False(t, data.Resumed)
	assert.Equal(t, model.StepIdentity, data.CurrentStep)

	next := SessionRef{DeviceID: ref.DeviceID, SessionID: data.SessionID}
	_, err = f.svc.SetRole(ctx, next, "participant")
	require.NoError(t, err)
	_, err = f.svc.SetEvent(ctx, next, "evt-1")
	require.NoError(t, err)
	_, err = f.svc.SetPersonalInfo(ctx, next, model.PersonalInfo{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"})
	require.NoError(t, err)
	_, err = f.svc.SelectTransport(ctx, next, dto.SelectTransportRequest{LocationID: "west"})
	require.NoError(t, err)
	_, err = f.svc.ConfirmTransport(ctx, next)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, next)
	require.NoError(t, err)

	assert.Equal(t, 1, f.reserved(t, "north"))
	assert.Equal(t, 1, f.reserved(t, "west"))
	require.Len(t, f.submitter.msgs, 2)
	assert.Equal(t, ref.SessionID, f.submitter.msgs[0].ParticipantRef)
	assert.Equal(t, next.SessionID, f.submitter.msgs[1].ParticipantRef)
	assert.NotEqual(t, f.submitter.msgs[0].ParticipantRef, f.submitter.msgs[1].ParticipantRef)

	// 旧标识只持有原来的座位
	released, err := f.inv.Release(ctx, "west", ref.SessionID)
	require.NoError(t, err)
	assert.False(t, released)
}

func TestSubmittedRegistryFailsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.walkToTransport(t, "dev-1", "evt-1")

	f.redis.SetError("LOADING")
	assert.True(t, f.svc.wasSubmitted(ctx, ref.SessionID))
	f.redis.SetError("")
	assert.False(t, f.svc.wasSubmitted(ctx, ref.SessionID))
}
