package app

import (
	"context"
	"testing"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/server/services/queues"
	"github.com/molior-deb/molior/server/store/metadata"
	"github.com/molior-deb/molior/server/store/store_test"
)

// newCleanupServer wires just enough of the server to exercise the weekly
// cleanup scheduling.
func newCleanupServer(t *testing.T) *Server {
	db, cleanup, err := store_test.Connect(logger.NoOpLogFactory)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	s := &Server{
		Queues:        queues.NewQueues(),
		MetaDataStore: metadata.NewStore(db, logger.NoOpLogFactory),
		cleanupCron:   cron.New(),
		log:           logger.NoOpLogFactory("Server"),
	}
	t.Cleanup(func() { s.cleanupCron.Stop() })
	return s
}

func TestWeeklyCleanupDisabledByDefault(t *testing.T) {
	ctx := context.Background()
	s := newCleanupServer(t)

	s.scheduleWeeklyCleanup(ctx)

	assert.Empty(t, s.cleanupCron.Entries())
}

func TestWeeklyCleanupRejectsInvalidTime(t *testing.T) {
	ctx := context.Background()
	s := newCleanupServer(t)

	require.NoError(t, s.MetaDataStore.Set(ctx, nil, cleanupActiveKey, "true"))
	require.NoError(t, s.MetaDataStore.Set(ctx, nil, cleanupWeekdayKey, "Monday"))
	require.NoError(t, s.MetaDataStore.Set(ctx, nil, cleanupTimeKey, "half past three"))

	s.scheduleWeeklyCleanup(ctx)

	assert.Empty(t, s.cleanupCron.Entries())
}

func TestWeeklyCleanupArmsConfiguredWeekdays(t *testing.T) {
	ctx := context.Background()
	s := newCleanupServer(t)

	require.NoError(t, s.MetaDataStore.Set(ctx, nil, cleanupActiveKey, "true"))
	require.NoError(t, s.MetaDataStore.Set(ctx, nil, cleanupWeekdayKey, "Monday, Thursday"))
	require.NoError(t, s.MetaDataStore.Set(ctx, nil, cleanupTimeKey, "03:30"))

	s.scheduleWeeklyCleanup(ctx)

	assert.Len(t, s.cleanupCron.Entries(), 2)
}

func TestWeeklyCleanupSkipsUnknownWeekdays(t *testing.T) {
	ctx := context.Background()
	s := newCleanupServer(t)

	require.NoError(t, s.MetaDataStore.Set(ctx, nil, cleanupActiveKey, "true"))
	require.NoError(t, s.MetaDataStore.Set(ctx, nil, cleanupWeekdayKey, "Funday, Friday"))
	require.NoError(t, s.MetaDataStore.Set(ctx, nil, cleanupTimeKey, "22:00"))

	s.scheduleWeeklyCleanup(ctx)

	assert.Len(t, s.cleanupCron.Entries(), 1)
}
