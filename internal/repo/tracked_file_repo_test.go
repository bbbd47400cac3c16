package repo_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/jitkb/internal/model"
	appErr "github.com/xxxsen/jitkb/internal/pkg/errors"
	"github.com/xxxsen/jitkb/internal/repo"
	"github.com/xxxsen/jitkb/test/testutil"
)

func seedFile(t *testing.T, r *repo.TrackedFileRepo, tenantID, fileID string, state model.FileState, deadline int64) {
	t.Helper()
	now := time.Now().Unix()
	err := r.PutIfAbsent(context.Background(), &model.TrackedFile{
		TenantID:    tenantID,
		FileID:      fileID,
		ProjectID:   "p1",
		State:       state,
		TTLDeadline: deadline,
		Ctime:       now,
		Mtime:       now,
	})
	require.NoError(t, err)
}

func TestPutIfAbsentConflict(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.CleanTables(t, db, "tracked_files")
	r := repo.NewTrackedFileRepo(db)

	seedFile(t, r, "t1", "f1", model.FileStateNotIngested, 0)
	err := r.PutIfAbsent(context.Background(), &model.TrackedFile{
		TenantID: "t1", FileID: "f1", ProjectID: "p1",
		State: model.FileStateNotIngested,
	})
	require.ErrorIs(t, err, appErr.ErrConflict)
}

func TestGetRejectsUnknownState(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.CleanTables(t, db, "tracked_files")
	r := repo.NewTrackedFileRepo(db)

	seedFile(t, r, "t1", "f1", model.FileStateReady, 1000)
	_, err := db.Exec("UPDATE tracked_files SET state = 'garbled' WHERE tenant_id = 't1' AND file_id = 'f1'")
	require.NoError(t, err)

	_, err = r.Get(context.Background(), "t1", "f1")
	require.ErrorContains(t, err, "unknown state")
}

func TestTransitionStateRace(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.CleanTables(t, db, "tracked_files")
	r := repo.NewTrackedFileRepo(db)

	seedFile(t, r, "t1", "f1", model.FileStateNotIngested, 0)

	const racers = 8
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- r.TransitionState(context.Background(), "t1", "f1",
				model.FileStateNotIngested, model.FileStateIngesting, nil, time.Now().Unix())
		}()
	}
	wg.Wait()
	close(results)
	var wins int
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, appErr.ErrRaceLost)
	}
	require.Equal(t, 1, wins, "exactly one racer should win the transition")

	file, err := r.Get(context.Background(), "t1", "f1")
	require.NoError(t, err)
	require.Equal(t, model.FileStateIngesting, file.State)
}

func TestExtendTTLOnlyTouchesReadyFiles(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.CleanTables(t, db, "tracked_files")
	r := repo.NewTrackedFileRepo(db)
	ctx := context.Background()

	seedFile(t, r, "t1", "ready", model.FileStateReady, 100)
	seedFile(t, r, "t1", "ingesting", model.FileStateIngesting, 0)

	require.NoError(t, r.ExtendTTL(ctx, "t1", "ready", 9999, time.Now().Unix()))
	file, err := r.Get(ctx, "t1", "ready")
	require.NoError(t, err)
	require.EqualValues(t, 9999, file.TTLDeadline)

	err = r.ExtendTTL(ctx, "t1", "ingesting", 9999, time.Now().Unix())
	require.ErrorIs(t, err, appErr.ErrRaceLost)

	err = r.ExtendTTL(ctx, "t1", "missing", 9999, time.Now().Unix())
	require.ErrorIs(t, err, appErr.ErrRaceLost)
}

func TestDeleteExpiredLosesToConcurrentTouch(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.CleanTables(t, db, "tracked_files")
	r := repo.NewTrackedFileRepo(db)
	ctx := context.Background()

	seedFile(t, r, "t1", "f1", model.FileStateReady, 100)

	// A touch lands between the sweep's scan and its delete.
	require.NoError(t, r.ExtendTTL(ctx, "t1", "f1", 5000, time.Now().Unix()))

	err := r.DeleteExpired(ctx, "t1", "f1", 100)
	require.ErrorIs(t, err, appErr.ErrRaceLost)

	_, err = r.Get(ctx, "t1", "f1")
	require.NoError(t, err, "file must survive the losing delete")

	require.NoError(t, r.DeleteExpired(ctx, "t1", "f1", 5000))
	_, err = r.Get(ctx, "t1", "f1")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestListExpired(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.CleanTables(t, db, "tracked_files")
	r := repo.NewTrackedFileRepo(db)
	ctx := context.Background()

	now := time.Now().Unix()
	seedFile(t, r, "t1", "expired", model.FileStateReady, now-10)
	seedFile(t, r, "t1", "fresh", model.FileStateReady, now+3600)
	seedFile(t, r, "t1", "never-ready", model.FileStateIngesting, 0)

	expired, err := r.ListExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, "expired", expired[0].FileID)
}

func TestListStaleIngesting(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.CleanTables(t, db, "tracked_files")
	r := repo.NewTrackedFileRepo(db)
	ctx := context.Background()

	now := time.Now().Unix()
	seedFile(t, r, "t1", "stuck", model.FileStateIngesting, 0)
	require.NoError(t, r.TransitionState(ctx, "t1", "stuck",
		model.FileStateIngesting, model.FileStateIngesting, nil, now-7200))
	seedFile(t, r, "t1", "active", model.FileStateIngesting, 0)

	stale, err := r.ListStaleIngesting(ctx, now-3600, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, "stuck", stale[0].FileID)
}
