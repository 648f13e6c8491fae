package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/fileflow/internal/common"
	"github.com/dmitrijs2005/fileflow/internal/logging"
	"github.com/dmitrijs2005/fileflow/internal/server/models"
)

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

type fakeOutbox struct {
	stats      *models.OutboxStats
	statsErr   error
	requeueErr error
	requeued   []string
}

func (f *fakeOutbox) Stats(context.Context) (*models.OutboxStats, error) {
	return f.stats, f.statsErr
}

func (f *fakeOutbox) Requeue(_ context.Context, id string) error {
	if f.requeueErr != nil {
		return f.requeueErr
	}
	f.requeued = append(f.requeued, id)
	return nil
}

func do(t *testing.T, s *Server, method, target string) (int, map[string]any) {
	t.Helper()
	resp, err := s.app.Test(httptest.NewRequest(method, target, nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(b, &body), string(b))
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	s := NewServer(":0", logging.NewNop(), fakePinger{}, &fakeOutbox{})
	code, body := do(t, s, fiber.MethodGet, "/healthz")
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	s = NewServer(":0", logging.NewNop(), fakePinger{err: errors.New("no db")}, &fakeOutbox{})
	code, body = do(t, s, fiber.MethodGet, "/healthz")
	assert.Equal(t, fiber.StatusServiceUnavailable, code)
	assert.Equal(t, "no db", body["error"])
}

func TestOutboxStats(t *testing.T) {
	oldest := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	ob := &fakeOutbox{stats: &models.OutboxStats{
		Counts: []models.OutboxCount{
			{Kind: models.OutboxWebhook, Status: models.OutboxPending, Count: 2},
			{Kind: models.OutboxWebhook, Status: models.OutboxFailed, Count: 1},
		},
		OldestPending: &oldest,
	}}
	s := NewServer(":0", logging.NewNop(), fakePinger{}, ob)

	code, body := do(t, s, fiber.MethodGet, "/outbox/stats")
	assert.Equal(t, fiber.StatusOK, code)

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	var got models.OutboxStats
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, ob.stats.Counts, got.Counts)
	require.NotNil(t, got.OldestPending)
	assert.True(t, oldest.Equal(*got.OldestPending))

	ob.statsErr = errors.New("db down")
	code, _ = do(t, s, fiber.MethodGet, "/outbox/stats")
	assert.Equal(t, fiber.StatusInternalServerError, code)
}

func TestOutboxRequeue(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{name: "requeued", code: fiber.StatusOK},
		{name: "unknown entry", err: common.ErrOutboxEntryNotFound, code: fiber.StatusNotFound},
		{name: "not dead-lettered", err: fmt.Errorf("%w: entry e1 is SENT", common.ErrOutboxEntryTerminal), code: fiber.StatusConflict},
		{name: "database failure", err: errors.New("db down"), code: fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ob := &fakeOutbox{requeueErr: tt.err}
			s := NewServer(":0", logging.NewNop(), fakePinger{}, ob)

			code, body := do(t, s, fiber.MethodPost, "/outbox/e1/requeue")
			assert.Equal(t, tt.code, code)
			if tt.err == nil {
				assert.Equal(t, []string{"e1"}, ob.requeued)
				assert.Equal(t, string(models.OutboxPending), body["status"])
			} else {
				assert.Contains(t, body["error"], tt.err.Error())
			}
		})
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	s := NewServer("127.0.0.1:0", logging.NewNop(), fakePinger{}, &fakeOutbox{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout after context cancel")
	}
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	s := NewServer("127.0.0.1:99999", logging.NewNop(), fakePinger{}, &fakeOutbox{})
	assert.Error(t, s.Run(context.Background()))
}
