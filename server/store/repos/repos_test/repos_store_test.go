package repos_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molior-deb/molior/common/gerror"
	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/store/repos"
	"github.com/molior-deb/molior/server/store/store_test"
)

// newTestRepo returns an unsaved repository with a randomized URL, so tests
// sharing a database never collide.
func newTestRepo() *models.SourceRepository {
	return &models.SourceRepository{
		CreatedAt: models.NewTime(time.Now()),
		URL:       fmt.Sprintf("ssh://git@testgit/testing/app-%d.git", rand.Int63()),
		Name:      "app",
		State:     models.RepoStateNew,
	}
}

func TestCreateGeneratesPrimaryKeys(t *testing.T) {
	db, cleanup, err := store_test.Connect(logger.NoOpLogFactory)
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()
	repoStore := repos.NewStore(db, logger.NoOpLogFactory)

	// The database hands out the primary keys; whatever id is set on the
	// model is ignored on insert.
	first := newTestRepo()
	require.NoError(t, repoStore.Create(ctx, nil, first))
	assert.NotZero(t, first.ID)

	second := newTestRepo()
	second.ID = first.ID
	require.NoError(t, repoStore.Create(ctx, nil, second))
	assert.NotZero(t, second.ID)
	assert.NotEqual(t, first.ID, second.ID)

	stored, err := repoStore.Read(ctx, nil, second.ID)
	require.NoError(t, err)
	assert.Equal(t, second.URL, stored.URL)
	assert.Equal(t, second.ID, stored.ID)
}

func TestCreateDuplicateURL(t *testing.T) {
	db, cleanup, err := store_test.Connect(logger.NoOpLogFactory)
	require.NoError(t, err)
	defer cleanup()
	ctx := context.Background()
	repoStore := repos.NewStore(db, logger.NoOpLogFactory)

	repo := newTestRepo()
	require.NoError(t, repoStore.Create(ctx, nil, repo))

	duplicate := newTestRepo()
	duplicate.URL = repo.URL
	err = repoStore.Create(ctx, nil, duplicate)
	require.Error(t, err)
	assert.True(t, gerror.IsAlreadyExists(err))
}
