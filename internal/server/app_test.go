package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/fileflow/internal/logging"
	"github.com/dmitrijs2005/fileflow/internal/server/config"
)

func TestEvery(t *testing.T) {
	assert.Equal(t, "@every 5s", every(5*time.Second))
	assert.Equal(t, "@every 1m0s", every(time.Minute))
}

func TestNewApp_RejectsInvalidConfig(t *testing.T) {
	c := &config.Config{}
	c.LoadDefaults()
	c.OutboxBatchSize = 0

	_, err := NewApp(context.Background(), c, logging.NewNop())
	assert.Error(t, err)
}

func TestNewApp_WiresComponents(t *testing.T) {
	c := &config.Config{}
	c.LoadDefaults()

	app, err := NewApp(context.Background(), c, logging.NewNop())
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.Sessions)
	assert.NotNil(t, app.Parts)
	assert.NotNil(t, app.Downloads)
	assert.NotNil(t, app.Dispatcher)
	assert.NotNil(t, app.Coordinator)

	scheduler, err := app.newScheduler(context.Background())
	require.NoError(t, err)
	assert.Len(t, scheduler.Entries(), 3)
}
