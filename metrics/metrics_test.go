package metrics_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	auth "github.com/goliatone/go-auth-rbac"
	"github.com/goliatone/go-auth-rbac/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCountsEvents(t *testing.T) {
	m := metrics.New()
	ctx := context.Background()

	require.NoError(t, m.Record(ctx, auth.ActivityEvent{EventType: auth.ActivityEventLoginSuccess}))
	require.NoError(t, m.Record(ctx, auth.ActivityEvent{EventType: auth.ActivityEventLoginSuccess}))
	require.NoError(t, m.Record(ctx, auth.ActivityEvent{EventType: auth.ActivityEventLoginFailure}))

	count, err := testutil.GatherAndCount(m.Registry(), "authd_activity_events_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := metrics.New()

	app := fiber.New()
	app.Use(m.Middleware())
	app.Get("/users/:id", func(c *fiber.Ctx) error { return c.SendString(c.Params("id")) })
	app.Get("/missing", func(c *fiber.Ctx) error { return auth.NewNotFoundError("thing") })
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	for _, path := range []string{"/users/1", "/users/2", "/missing"} {
		_, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, `authd_http_requests_total{method="GET",route="/users/:id",status="200"} 2`)
	assert.Contains(t, out, `authd_http_requests_total{method="GET",route="/missing",status="404"} 1`)
	assert.Contains(t, out, "authd_http_request_duration_seconds")
}
