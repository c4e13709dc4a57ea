package reservation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ShuttleSignup/internal/model/dto"
	"ShuttleSignup/internal/seat"
	pkgerrors "ShuttleSignup/pkg/errors"
)

const northJSON = `{"id":"north","event_id":"evt-1","label":"North gate","address":"1 North St",
"pickup_time":"2026-06-12T07:00:00Z","capacity":2,"reserved_count":1,"remaining":1,"available":true,
"geolocation":{"lat":52.1,"lng":4.3}}`

func newHTTPAPI(t *testing.T, handler http.HandlerFunc) *HTTPAPI {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	api, err := NewHTTPAPI(server.URL, time.Second)
	require.NoError(t, err)
	return api
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestHTTPAPIList(t *testing.T) {
	api := newHTTPAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/events/evt-1/pickup-locations", r.URL.Path)
		writeJSON(w, http.StatusOK, `{"data":[`+northJSON+`]}`)
	})

	list, err := api.List(context.Background(), "evt-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "north", list[0].ID)
	assert.Equal(t, 2, list[0].Capacity)
	assert.Equal(t, 1, list[0].ReservedCount)
	assert.Equal(t, 52.1, list[0].Lat)
	assert.Equal(t, time.Date(2026, 6, 12, 7, 0, 0, 0, time.UTC), list[0].PickupTime.UTC())
}

func TestHTTPAPIReserveSendsParticipant(t *testing.T) {
	api := newHTTPAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/pickup-locations/north/reservations", r.URL.Path)
		var req dto.ReserveSeatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "p1", req.ParticipantRef)
		writeJSON(w, http.StatusOK, `{"data":`+northJSON+`}`)
	})

	res, err := api.ReserveAttempt(context.Background(), "north", "p1")
	require.NoError(t, err)
	assert.Equal(t, "north", res.ID)
}

func TestHTTPAPIReserveConflict(t *testing.T) {
	api := newHTTPAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, `{"error":{"code":"RESERVATION_CONFLICT","message":"full"}}`)
	})

	_, err := api.ReserveAttempt(context.Background(), "north", "p1")
	assert.ErrorIs(t, err, seat.ErrConflict)
	assert.NotErrorIs(t, err, seat.ErrNotFound)
	assert.Contains(t, err.Error(), "full")
}

func TestHTTPAPIReserveNotFound(t *testing.T) {
	api := newHTTPAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"error":{"code":"RESERVATION_NOT_FOUND","message":"gone"}}`)
	})

	_, err := api.ReserveAttempt(context.Background(), "ghost", "p1")
	assert.ErrorIs(t, err, seat.ErrNotFound)
}

func TestHTTPAPIServerErrorWithoutEnvelope(t *testing.T) {
	api := newHTTPAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := api.Get(context.Background(), "north")
	assert.ErrorIs(t, err, pkgerrors.ServiceUnavailable)
}

func TestHTTPAPIRelease(t *testing.T) {
	api := newHTTPAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v1/pickup-locations/north/reservations/p1", r.URL.Path)
		writeJSON(w, http.StatusOK, `{"data":{"released":true}}`)
	})

	released, err := api.Release(context.Background(), "north", "p1")
	require.NoError(t, err)
	assert.True(t, released)
}

func TestHTTPAPIBatch(t *testing.T) {
	calls := 0
	api := newHTTPAPI(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req dto.BatchPickupLocationsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"north", "ghost"}, req.IDs)
		writeJSON(w, http.StatusOK, `{"data":[`+northJSON+`]}`)
	})

	empty, err := api.Batch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.Equal(t, 0, calls)

	list, err := api.Batch(context.Background(), []string{"north", "ghost"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, calls)
}

func TestHTTPAPITransferFailureCarriesTransport(t *testing.T) {
	api := newHTTPAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/pickup-locations/transfer", r.URL.Path)
		writeJSON(w, http.StatusConflict, `{"error":{"code":"RESERVATION_CONFLICT","message":"full",
"details":{"transport":{"required":false,"notice":"`+seat.TransferFailedNotice+`"}}}}`)
	})

	result, err := api.Transfer(context.Background(), "north", "south", "p1")
	assert.ErrorIs(t, err, seat.ErrConflict)
	require.NotNil(t, result)
	assert.True(t, result.Transport.IsNoTransport())
	assert.Equal(t, seat.TransferFailedNotice, result.Transport.Notice)
	assert.False(t, result.Transferred)
}

func TestHTTPAPITransferSucceeds(t *testing.T) {
	api := newHTTPAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data":{"location":`+northJSON+`,"transport":{"location_id":"north","required":true}}}`)
	})

	result, err := api.Transfer(context.Background(), "south", "north", "p1")
	require.NoError(t, err)
	assert.True(t, result.Transferred)
	assert.Equal(t, "north", result.Resource.ID)
	assert.Equal(t, "north", result.Transport.LocationID)
}

func TestHTTPAPIMissingEnvelope(t *testing.T) {
	api := newHTTPAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, northJSON)
	})

	_, err := api.Get(context.Background(), "north")
	assert.ErrorIs(t, err, pkgerrors.Internal)
}

func TestHTTPAPIUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	api, err := NewHTTPAPI(url, 200*time.Millisecond)
	require.NoError(t, err)

	_, err = api.List(context.Background(), "evt-1")
	assert.ErrorIs(t, err, pkgerrors.ServiceUnavailable)
}

func TestIsRemoteOnlyForClientErrors(t *testing.T) {
	assert.True(t, isRemote(decodeError(http.StatusConflict, []byte(`{"error":{"code":"RESERVATION_CONFLICT"}}`))))
	assert.False(t, isRemote(decodeError(http.StatusServiceUnavailable, nil)))
	assert.False(t, isRemote(pkgerrors.ServiceUnavailable))
}
