package reaper_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/jitkb/internal/kb"
	"github.com/xxxsen/jitkb/internal/model"
	"github.com/xxxsen/jitkb/internal/reaper"
	"github.com/xxxsen/jitkb/internal/repo"
	"github.com/xxxsen/jitkb/internal/stream"
	"github.com/xxxsen/jitkb/test/testutil"
)

type deleteRecorder struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (r *deleteRecorder) Name() string { return "recorder" }

func (r *deleteRecorder) StartIngestion(ctx context.Context, req kb.IngestRequest) (string, error) {
	return "", errors.New("not implemented")
}

func (r *deleteRecorder) GetJobStatus(ctx context.Context, jobRef string) (*kb.JobStatus, error) {
	return nil, errors.New("not implemented")
}

func (r *deleteRecorder) DeleteDocument(ctx context.Context, ref kb.FileRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.deleted = append(r.deleted, ref.FileID)
	return nil
}

func (r *deleteRecorder) Retrieve(ctx context.Context, req kb.RetrieveRequest) (*kb.RetrieveResult, error) {
	return nil, errors.New("not implemented")
}

func (r *deleteRecorder) deletions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deleted...)
}

func ttlExpiryEvent(fileID string) stream.Event {
	return stream.Event{
		Kind:     stream.EventRemove,
		Cause:    stream.CauseTTLExpiry,
		TenantID: "t1",
		FileID:   fileID,
	}
}

func TestReaperDeletesUntrackedFile(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.CleanTables(t, db, "tracked_files")
	recorder := &deleteRecorder{}
	r := reaper.New(repo.NewTrackedFileRepo(db), recorder)

	require.NoError(t, r.Handle(context.Background(), ttlExpiryEvent("f1")))
	require.Equal(t, []string{"f1"}, recorder.deletions())
}

func TestReaperSkipsReingestedFile(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.CleanTables(t, db, "tracked_files")
	tracked := repo.NewTrackedFileRepo(db)
	recorder := &deleteRecorder{}
	r := reaper.New(tracked, recorder)

	// The file expired, but was re-registered before the event arrived.
	now := time.Now().Unix()
	require.NoError(t, tracked.PutIfAbsent(context.Background(), &model.TrackedFile{
		TenantID: "t1", FileID: "f1", ProjectID: "p1",
		State: model.FileStateIngesting,
		Ctime: now, Mtime: now,
	}))

	require.NoError(t, r.Handle(context.Background(), ttlExpiryEvent("f1")))
	require.Empty(t, recorder.deletions(), "a live tracking row must win over a stale expiry")
}

func TestReaperIgnoresOtherEvents(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.CleanTables(t, db, "tracked_files")
	recorder := &deleteRecorder{}
	r := reaper.New(repo.NewTrackedFileRepo(db), recorder)
	ctx := context.Background()

	require.NoError(t, r.Handle(ctx, stream.Event{Kind: stream.EventModify, TenantID: "t1", FileID: "f1"}))
	require.NoError(t, r.Handle(ctx, stream.Event{
		Kind: stream.EventRemove, Cause: stream.CauseUserDelete, TenantID: "t1", FileID: "f1",
	}))
	require.Empty(t, recorder.deletions())
}

func TestReaperRequestsRedeliveryOnFailure(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.CleanTables(t, db, "tracked_files")
	recorder := &deleteRecorder{err: errors.New("kb down")}
	r := reaper.New(repo.NewTrackedFileRepo(db), recorder)

	err := r.Handle(context.Background(), ttlExpiryEvent("f1"))
	require.Error(t, err, "failures must propagate so the broker redelivers")
}

func TestReaperHandleIsIdempotent(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.CleanTables(t, db, "tracked_files")
	recorder := &deleteRecorder{}
	r := reaper.New(repo.NewTrackedFileRepo(db), recorder)
	ctx := context.Background()

	event := ttlExpiryEvent("f1")
	require.NoError(t, r.Handle(ctx, event))
	require.NoError(t, r.Handle(ctx, event), "duplicate delivery must succeed")
	require.Equal(t, []string{"f1", "f1"}, recorder.deletions())
}
