package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuehub/seat-holds/internal/handler"
	"github.com/venuehub/seat-holds/internal/hold"
	"github.com/venuehub/seat-holds/internal/model"
	"github.com/venuehub/seat-holds/internal/router"
)

const testSecret = "test-secret"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeHoldService lets each test script exactly one lifecycle call.
type fakeHoldService struct {
	requestFn func(ctx context.Context, in hold.RequestHoldInput) (*hold.HoldResult, error)
	confirmFn func(ctx context.Context, holdID string, ownerID uint64) (*hold.ConfirmResult, error)
	releaseFn func(ctx context.Context, holdID string, reason model.ReleaseReason) (*hold.ReleaseResult, error)
	extendFn  func(ctx context.Context, holdID string, ownerID uint64, additional time.Duration) (*hold.ExtendResult, error)
}

func (f *fakeHoldService) RequestHold(ctx context.Context, in hold.RequestHoldInput) (*hold.HoldResult, error) {
	if f.requestFn == nil {
		return nil, errors.New("unexpected RequestHold call")
	}
	return f.requestFn(ctx, in)
}

func (f *fakeHoldService) ConfirmHold(ctx context.Context, holdID string, ownerID uint64) (*hold.ConfirmResult, error) {
	if f.confirmFn == nil {
		return nil, errors.New("unexpected ConfirmHold call")
	}
	return f.confirmFn(ctx, holdID, ownerID)
}

func (f *fakeHoldService) ReleaseHold(ctx context.Context, holdID string, reason model.ReleaseReason) (*hold.ReleaseResult, error) {
	if f.releaseFn == nil {
		return nil, errors.New("unexpected ReleaseHold call")
	}
	return f.releaseFn(ctx, holdID, reason)
}

func (f *fakeHoldService) ExtendHold(ctx context.Context, holdID string, ownerID uint64, additional time.Duration) (*hold.ExtendResult, error) {
	if f.extendFn == nil {
		return nil, errors.New("unexpected ExtendHold call")
	}
	return f.extendFn(ctx, holdID, ownerID, additional)
}

func newHoldsApp(t *testing.T, svc handler.HoldService) *echo.Echo {
	t.Helper()
	e := echo.New()
	router.RegisterHolds(e, handler.NewHoldHandler(discardLogger(), svc), testSecret)
	return e
}

func token(t *testing.T, sub uint64, role string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return tok
}

func doJSON(t *testing.T, e *echo.Echo, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRequestHoldEndpoint(t *testing.T) {
	t.Parallel()
	expires := time.Date(2026, 3, 14, 10, 1, 30, 0, time.UTC)

	t.Run("created", func(t *testing.T) {
		t.Parallel()
		var got hold.RequestHoldInput
		svc := &fakeHoldService{
			requestFn: func(_ context.Context, in hold.RequestHoldInput) (*hold.HoldResult, error) {
				got = in
				return &hold.HoldResult{HoldID: "h-1", EventID: in.EventID, SeatIDs: []uint64{5, 7}, ExpiresAt: expires}, nil
			},
		}
		e := newHoldsApp(t, svc)

		rec := doJSON(t, e, http.MethodPost, "/v1/events/9/holds", token(t, 42, "CUSTOMER"), map[string]any{
			"seat_ids":    []uint64{7, 5},
			"ttl_seconds": 120,
		})

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{
			"hold_id": "h-1",
			"event_id": 9,
			"seat_ids": [5, 7],
			"expires_at": "2026-03-14T10:01:30Z"
		}`, rec.Body.String())

		assert.Equal(t, uint64(9), got.EventID)
		assert.Equal(t, uint64(42), got.OwnerID, "owner comes from the token")
		assert.Equal(t, []uint64{7, 5}, got.SeatIDs)
		assert.Equal(t, 2*time.Minute, got.TTL)
	})

	t.Run("supersede is forwarded", func(t *testing.T) {
		t.Parallel()
		var got hold.RequestHoldInput
		svc := &fakeHoldService{
			requestFn: func(_ context.Context, in hold.RequestHoldInput) (*hold.HoldResult, error) {
				got = in
				return &hold.HoldResult{HoldID: "h-2", EventID: in.EventID, SeatIDs: in.SeatIDs, ExpiresAt: expires}, nil
			},
		}
		e := newHoldsApp(t, svc)

		rec := doJSON(t, e, http.MethodPost, "/v1/events/9/holds", token(t, 42, "CUSTOMER"), map[string]any{
			"seat_ids":          []uint64{1},
			"supersede_hold_id": "h-1",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "h-1", got.SupersedeHoldID)
	})

	t.Run("missing token", func(t *testing.T) {
		t.Parallel()
		e := newHoldsApp(t, &fakeHoldService{})
		rec := doJSON(t, e, http.MethodPost, "/v1/events/9/holds", "", map[string]any{"seat_ids": []uint64{1}})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong role", func(t *testing.T) {
		t.Parallel()
		e := newHoldsApp(t, &fakeHoldService{})
		rec := doJSON(t, e, http.MethodPost, "/v1/events/9/holds", token(t, 42, "SERVICE"), map[string]any{"seat_ids": []uint64{1}})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("bad event id", func(t *testing.T) {
		t.Parallel()
		e := newHoldsApp(t, &fakeHoldService{})
		for _, path := range []string{"/v1/events/abc/holds", "/v1/events/0/holds"} {
			rec := doJSON(t, e, http.MethodPost, path, token(t, 42, "CUSTOMER"), map[string]any{"seat_ids": []uint64{1}})
			assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		}
	})

	t.Run("empty seat list", func(t *testing.T) {
		t.Parallel()
		e := newHoldsApp(t, &fakeHoldService{})
		rec := doJSON(t, e, http.MethodPost, "/v1/events/9/holds", token(t, 42, "CUSTOMER"), map[string]any{"seat_ids": []uint64{}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("contested seats map to 409 with the seat list", func(t *testing.T) {
		t.Parallel()
		svc := &fakeHoldService{
			requestFn: func(context.Context, hold.RequestHoldInput) (*hold.HoldResult, error) {
				return nil, &hold.SeatUnavailableError{EventID: 9, SeatIDs: []uint64{4, 5}}
			},
		}
		e := newHoldsApp(t, svc)

		rec := doJSON(t, e, http.MethodPost, "/v1/events/9/holds", token(t, 42, "CUSTOMER"), map[string]any{"seat_ids": []uint64{4, 5, 6}})
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.JSONEq(t, `{"error":"seats_unavailable","seat_ids":[4,5]}`, rec.Body.String())
	})

	t.Run("service errors map to statuses", func(t *testing.T) {
		t.Parallel()
		cases := []struct {
			name string
			err  error
			code int
		}{
			{"owner limit", hold.ErrOwnerHoldLimit, http.StatusTooManyRequests},
			{"invalid request", hold.ErrInvalidRequest, http.StatusBadRequest},
			{"conflict", hold.ErrConflict, http.StatusServiceUnavailable},
			{"store down", hold.ErrStoreUnavailable, http.StatusServiceUnavailable},
			{"unknown", errors.New("boom"), http.StatusInternalServerError},
		}
		for _, tc := range cases {
			tc := tc
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()
				svc := &fakeHoldService{
					requestFn: func(context.Context, hold.RequestHoldInput) (*hold.HoldResult, error) {
						return nil, tc.err
					},
				}
				e := newHoldsApp(t, svc)
				rec := doJSON(t, e, http.MethodPost, "/v1/events/9/holds", token(t, 42, "CUSTOMER"), map[string]any{"seat_ids": []uint64{1}})
				assert.Equal(t, tc.code, rec.Code)
				if tc.code == http.StatusServiceUnavailable {
					assert.Equal(t, "1", rec.Header().Get("Retry-After"))
				}
			})
		}
	})
}

func TestConfirmHoldEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("confirmed", func(t *testing.T) {
		t.Parallel()
		svc := &fakeHoldService{
			confirmFn: func(_ context.Context, holdID string, ownerID uint64) (*hold.ConfirmResult, error) {
				assert.Equal(t, "h-1", holdID)
				assert.Equal(t, uint64(42), ownerID)
				return &hold.ConfirmResult{HoldID: "h-1", EventID: 9, SeatIDs: []uint64{5, 7}}, nil
			},
		}
		e := newHoldsApp(t, svc)

		rec := doJSON(t, e, http.MethodPost, "/v1/holds/h-1/confirm", token(t, 42, "CUSTOMER"), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{
			"hold_id": "h-1",
			"event_id": 9,
			"seat_ids": [5, 7],
			"status": "confirmed",
			"already_confirmed": false
		}`, rec.Body.String())
	})

	t.Run("repeat reports already_confirmed", func(t *testing.T) {
		t.Parallel()
		svc := &fakeHoldService{
			confirmFn: func(context.Context, string, uint64) (*hold.ConfirmResult, error) {
				return &hold.ConfirmResult{HoldID: "h-1", EventID: 9, SeatIDs: []uint64{5}, AlreadyConfirmed: true}, nil
			},
		}
		e := newHoldsApp(t, svc)

		rec := doJSON(t, e, http.MethodPost, "/v1/holds/h-1/confirm", token(t, 42, "CUSTOMER"), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			AlreadyConfirmed bool `json:"already_confirmed"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.AlreadyConfirmed)
	})

	t.Run("errors map to statuses", func(t *testing.T) {
		t.Parallel()
		cases := []struct {
			name string
			err  error
			code int
		}{
			{"not found", hold.ErrHoldNotFound, http.StatusNotFound},
			{"not owner", hold.ErrNotOwner, http.StatusForbidden},
			{"expired", hold.ErrHoldExpired, http.StatusGone},
			{"released earlier", hold.ErrHoldInvalid, http.StatusConflict},
		}
		for _, tc := range cases {
			tc := tc
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()
				svc := &fakeHoldService{
					confirmFn: func(context.Context, string, uint64) (*hold.ConfirmResult, error) {
						return nil, tc.err
					},
				}
				e := newHoldsApp(t, svc)
				rec := doJSON(t, e, http.MethodPost, "/v1/holds/h-1/confirm", token(t, 42, "CUSTOMER"), nil)
				assert.Equal(t, tc.code, rec.Code)
			})
		}
	})
}

func TestExtendHoldEndpoint(t *testing.T) {
	t.Parallel()
	expires := time.Date(2026, 3, 14, 10, 5, 0, 0, time.UTC)

	t.Run("extended", func(t *testing.T) {
		t.Parallel()
		svc := &fakeHoldService{
			extendFn: func(_ context.Context, holdID string, ownerID uint64, additional time.Duration) (*hold.ExtendResult, error) {
				assert.Equal(t, "h-1", holdID)
				assert.Equal(t, uint64(42), ownerID)
				assert.Equal(t, 90*time.Second, additional)
				return &hold.ExtendResult{HoldID: "h-1", ExpiresAt: expires, Capped: true}, nil
			},
		}
		e := newHoldsApp(t, svc)

		rec := doJSON(t, e, http.MethodPost, "/v1/holds/h-1/extend", token(t, 42, "CUSTOMER"), map[string]any{
			"additional_seconds": 90,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"hold_id":"h-1","expires_at":"2026-03-14T10:05:00Z","capped":true}`, rec.Body.String())
	})

	t.Run("non-positive extension", func(t *testing.T) {
		t.Parallel()
		e := newHoldsApp(t, &fakeHoldService{})
		for _, secs := range []int64{0, -30} {
			rec := doJSON(t, e, http.MethodPost, "/v1/holds/h-1/extend", token(t, 42, "CUSTOMER"), map[string]any{
				"additional_seconds": secs,
			})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("lifetime cap reached", func(t *testing.T) {
		t.Parallel()
		svc := &fakeHoldService{
			extendFn: func(context.Context, string, uint64, time.Duration) (*hold.ExtendResult, error) {
				return nil, hold.ErrHoldLifetimeExceeded
			},
		}
		e := newHoldsApp(t, svc)
		rec := doJSON(t, e, http.MethodPost, "/v1/holds/h-1/extend", token(t, 42, "CUSTOMER"), map[string]any{
			"additional_seconds": 60,
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestReleaseHoldEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("released", func(t *testing.T) {
		t.Parallel()
		svc := &fakeHoldService{
			releaseFn: func(_ context.Context, holdID string, reason model.ReleaseReason) (*hold.ReleaseResult, error) {
				assert.Equal(t, "h-1", holdID)
				assert.Equal(t, model.ReasonUserCancelled, reason)
				return &hold.ReleaseResult{HoldID: "h-1", EventID: 9, Released: true, FreedSeats: []uint64{5, 7}}, nil
			},
		}
		e := newHoldsApp(t, svc)

		rec := doJSON(t, e, http.MethodDelete, "/v1/holds/h-1", token(t, 42, "CUSTOMER"), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"hold_id":"h-1","released":true,"freed_seats":[5,7]}`, rec.Body.String())
	})

	t.Run("already ended", func(t *testing.T) {
		t.Parallel()
		svc := &fakeHoldService{
			releaseFn: func(context.Context, string, model.ReleaseReason) (*hold.ReleaseResult, error) {
				return &hold.ReleaseResult{HoldID: "h-1", EventID: 9, Released: false}, nil
			},
		}
		e := newHoldsApp(t, svc)

		rec := doJSON(t, e, http.MethodDelete, "/v1/holds/h-1", token(t, 42, "CUSTOMER"), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"hold_id":"h-1","released":false,"freed_seats":null}`, rec.Body.String())
	})

	t.Run("unknown hold", func(t *testing.T) {
		t.Parallel()
		svc := &fakeHoldService{
			releaseFn: func(context.Context, string, model.ReleaseReason) (*hold.ReleaseResult, error) {
				return nil, hold.ErrHoldNotFound
			},
		}
		e := newHoldsApp(t, svc)
		rec := doJSON(t, e, http.MethodDelete, "/v1/holds/h-1", token(t, 42, "CUSTOMER"), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
