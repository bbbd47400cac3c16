package service_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/jitkb/internal/kb"
	"github.com/xxxsen/jitkb/internal/model"
	"github.com/xxxsen/jitkb/internal/repo"
)

type fakeTenants struct {
	tenants map[string]*model.Tenant
}

func (f *fakeTenants) FindTenant(tenantID string) (*model.Tenant, bool) {
	tenant, ok := f.tenants[tenantID]
	return tenant, ok
}

func testTenants() *fakeTenants {
	return &fakeTenants{tenants: map[string]*model.Tenant{
		"t1": {
			ID:                "t1",
			FilesTTLHours:     24,
			MaxFiles:          10,
			MaxIngestRetries:  2,
			IngestTimeoutMins: 30,
		},
	}}
}

type fakeStore struct{}

func (f *fakeStore) Type() string { return "fake" }

func (f *fakeStore) URI(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}

func (f *fakeStore) Exists(ctx context.Context, uri string) (bool, error) {
	return true, nil
}

func (f *fakeStore) Fetch(ctx context.Context, uri string) (string, error) {
	return "content of " + uri, nil
}

// fakeKB is an in-memory stand-in for the external knowledge base.
type fakeKB struct {
	mu          sync.Mutex
	startCalls  int
	startErr    error
	jobs        map[string]*kb.JobStatus
	deleted     []string
	retrieveRes *kb.RetrieveResult
}

func newFakeKB() *fakeKB {
	return &fakeKB{jobs: map[string]*kb.JobStatus{}}
}

func (f *fakeKB) Name() string { return "fake" }

func (f *fakeKB) StartIngestion(ctx context.Context, req kb.IngestRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.startCalls++
	jobRef := fmt.Sprintf("job-%d", f.startCalls)
	f.jobs[jobRef] = &kb.JobStatus{State: kb.JobRunning}
	return jobRef, nil
}

func (f *fakeKB) GetJobStatus(ctx context.Context, jobRef string) (*kb.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.jobs[jobRef]
	if !ok {
		return nil, fmt.Errorf("unknown job %s", jobRef)
	}
	return status, nil
}

func (f *fakeKB) DeleteDocument(ctx context.Context, ref kb.FileRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref.FileID)
	return nil
}

func (f *fakeKB) Retrieve(ctx context.Context, req kb.RetrieveRequest) (*kb.RetrieveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retrieveRes != nil {
		return f.retrieveRes, nil
	}
	return &kb.RetrieveResult{Answer: "answer", SessionID: "s1"}, nil
}

func (f *fakeKB) setJob(jobRef string, state kb.JobState, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobRef] = &kb.JobStatus{State: state, Reason: reason}
}

func (f *fakeKB) starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls
}

func seedProjectFile(t *testing.T, db *sql.DB, tenantID, projectID, fileID string) {
	t.Helper()
	files := repo.NewProjectFileRepo(db)
	err := files.Create(context.Background(), &model.ProjectFile{
		ID:        fileID,
		TenantID:  tenantID,
		ProjectID: projectID,
		UserID:    "u1",
		Name:      fileID + ".md",
		Bucket:    "docs",
		S3Key:     "files/" + fileID + ".md",
		Ctime:     time.Now().Unix(),
	})
	require.NoError(t, err)
}

func seedTracked(t *testing.T, db *sql.DB, tenantID, projectID, fileID string, state model.FileState, retries int, jobRef string) {
	t.Helper()
	tracked := repo.NewTrackedFileRepo(db)
	now := time.Now().Unix()
	err := tracked.PutIfAbsent(context.Background(), &model.TrackedFile{
		TenantID:        tenantID,
		FileID:          fileID,
		ProjectID:       projectID,
		State:           state,
		IngestionJobRef: jobRef,
		Retries:         retries,
		Ctime:           now,
		Mtime:           now,
	})
	require.NoError(t, err)
}
