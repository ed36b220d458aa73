package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/h2non/gock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testBaseURL = "http://nexus.test/api"

func newTestClient(t *testing.T) (*Client, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	c, err := New(Config{BaseURL: testBaseURL, Token: "secret", Timeout: 5 * time.Second}, zap.New(core).Sugar())
	require.NoError(t, err)
	t.Cleanup(gock.Off)
	return c, logs
}

func TestNewValidatesBaseURL(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "nexus.test/api"}, nil)
	assert.Error(t, err)

	c, err := New(Config{BaseURL: testBaseURL}, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://nexus.test/api/", c.baseURL.String())
	assert.Equal(t, DefaultTimeout, c.http.Timeout)
}

func TestSendUsers(t *testing.T) {
	c, logs := newTestClient(t)
	users := []any{map[string]any{"id": "1", "email": "a@example.org"}}

	gock.New(testBaseURL).
		Post("/users").
		MatchHeader("Authorization", "^Token secret$").
		BodyString(`[{"email":"a@example.org","id":"1"}]`).
		Reply(http.StatusOK).
		JSON(map[string]any{})

	before := testutil.ToFloat64(requestsTotal.WithLabelValues("push users", outcomeOK))
	require.NoError(t, c.SendUsers(context.Background(), users))
	assert.True(t, gock.IsDone())
	assert.Equal(t, 0, logs.Len())
	assert.Equal(t, before+1, testutil.ToFloat64(requestsTotal.WithLabelValues("push users", outcomeOK)))
}

func TestDeleteStructuresSendsIDObjects(t *testing.T) {
	c, _ := newTestClient(t)

	gock.New(testBaseURL).
		Delete("/structures").
		BodyString(`[{"id":"7"},{"id":"9"}]`).
		Reply(http.StatusOK)

	require.NoError(t, c.DeleteStructures(context.Background(), []string{"7", "9"}))
	assert.True(t, gock.IsDone())
}

func TestSendMembershipsNilSendsEmptyArray(t *testing.T) {
	c, _ := newTestClient(t)

	gock.New(testBaseURL).
		Post("/memberships").
		BodyString(`^\[\]$`).
		Reply(http.StatusOK)

	require.NoError(t, c.SendMemberships(context.Background(), nil))
	assert.True(t, gock.IsDone())
}

func TestSoftErrorsAreLoggedNotReturned(t *testing.T) {
	c, logs := newTestClient(t)

	gock.New(testBaseURL).
		Post("/users").
		Reply(http.StatusOK).
		JSON(map[string]any{"errors": map[string]any{"1": "bad email"}})

	before := testutil.ToFloat64(requestsTotal.WithLabelValues("push users", outcomeSoftErrors))
	require.NoError(t, c.SendUsers(context.Background(), []any{map[string]any{"id": "1"}}))

	entries := logs.FilterMessage("nexus POST:users returned errors").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, map[string]any{"1": "bad email"}, entries[0].ContextMap()["errors"])
	assert.Equal(t, before+1, testutil.ToFloat64(requestsTotal.WithLabelValues("push users", outcomeSoftErrors)))
}

func TestEmptyErrorsAreIgnored(t *testing.T) {
	for _, body := range []string{`{"errors": []}`, `{"errors": {}}`, `{"errors": null}`, `{"errors": ""}`} {
		t.Run(body, func(t *testing.T) {
			c, logs := newTestClient(t)
			gock.New(testBaseURL).
				Post("/structures").
				Reply(http.StatusOK).
				BodyString(body)

			before := testutil.ToFloat64(requestsTotal.WithLabelValues("push structures", outcomeOK))
			require.NoError(t, c.SendStructures(context.Background(), nil))

			assert.Zero(t, logs.FilterMessage("nexus POST:structures returned errors").Len())
			assert.Equal(t, before+1, testutil.ToFloat64(requestsTotal.WithLabelValues("push structures", outcomeOK)))
		})
	}
}

func TestRejectedWithJSONPayload(t *testing.T) {
	c, logs := newTestClient(t)

	gock.New(testBaseURL).
		Post("/users").
		Reply(http.StatusBadRequest).
		JSON(map[string]any{"detail": "invalid"})

	err := c.SendUsers(context.Background(), []any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemote)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, map[string]any{"detail": "invalid"}, apiErr.Payload)
	assert.Equal(t, "push users", apiErr.Operation)

	entries := logs.FilterMessage("nexus POST:users failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, map[string]any{"detail": "invalid"}, entries[0].ContextMap()["error"])
}

func TestRejectedWithRawBody(t *testing.T) {
	c, logs := newTestClient(t)

	gock.New(testBaseURL).
		Delete("/memberships").
		Reply(http.StatusServiceUnavailable).
		BodyString("<html>maintenance</html>")

	err := c.DeleteMemberships(context.Background(), []string{"1"})
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Nil(t, apiErr.Payload)
	assert.Equal(t, 1, logs.FilterMessage("nexus DELETE:memberships failed").Len())
}

func TestTransportFailure(t *testing.T) {
	c, logs := newTestClient(t)

	gock.New(testBaseURL).
		Post("/structures").
		ReplyError(errors.New("connection refused"))

	before := testutil.ToFloat64(requestsTotal.WithLabelValues("push structures", outcomeTransport))
	err := c.SendStructures(context.Background(), []any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), "connection refused")

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Zero(t, apiErr.StatusCode)
	assert.Equal(t, 1, logs.FilterMessage("nexus POST:structures failed").Len())
	assert.Equal(t, before+1, testutil.ToFloat64(requestsTotal.WithLabelValues("push structures", outcomeTransport)))
}

func TestMalformedSuccessBody(t *testing.T) {
	c, _ := newTestClient(t)

	gock.New(testBaseURL).
		Post("/users").
		Reply(http.StatusOK).
		BodyString("not json")

	err := c.SendUsers(context.Background(), []any{})
	assert.ErrorIs(t, err, ErrRemote)
}

func TestFullSyncMarkerRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)

	gock.New(testBaseURL).
		Post("/sync-start").
		Reply(http.StatusOK).
		JSON(map[string]any{"started_at": "2024-05-01T10:00:00.123456+00:00"})
	gock.New(testBaseURL).
		Post("/sync-completed").
		JSON(map[string]any{"started_at": "2024-05-01T10:00:00.123456+00:00"}).
		Reply(http.StatusOK)

	marker, err := c.BeginFullSync(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `"2024-05-01T10:00:00.123456+00:00"`, string(marker))

	require.NoError(t, c.CompleteFullSync(context.Background(), marker))
	assert.True(t, gock.IsDone())
}

func TestBeginFullSyncWithoutMarker(t *testing.T) {
	c, _ := newTestClient(t)

	gock.New(testBaseURL).
		Post("/sync-start").
		Reply(http.StatusOK).
		JSON(map[string]any{})

	_, err := c.BeginFullSync(context.Background())
	assert.ErrorIs(t, err, ErrRemote)
}

func TestDropdownStatus(t *testing.T) {
	c, _ := newTestClient(t)

	gock.New(testBaseURL).
		Post("/dropdown-status").
		JSON(map[string]string{"email": "a@example.org"}).
		Reply(http.StatusOK).
		JSON(map[string]any{"enabled": true, "mon-recap": map[string]any{"url": "https://recap.example.org"}})

	status, err := c.DropdownStatus(context.Background(), "a@example.org")
	require.NoError(t, err)
	assert.Equal(t, true, status["enabled"])
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Operation: "push users", Method: "POST", Path: "users", StatusCode: 400, Err: errors.New("unexpected status 400 Bad Request")}
	assert.Equal(t, "nexus push users (POST users): status 400: unexpected status 400 Bad Request", err.Error())

	raw, mErr := json.Marshal(Marker(`"x"`))
	require.NoError(t, mErr)
	assert.Equal(t, `"x"`, string(raw))
}
