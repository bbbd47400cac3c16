package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/jitkb/internal/kb"
	"github.com/xxxsen/jitkb/internal/model"
	appErr "github.com/xxxsen/jitkb/internal/pkg/errors"
	"github.com/xxxsen/jitkb/internal/repo"
	"github.com/xxxsen/jitkb/internal/service"
)

func TestQueryTouchesCitedFiles(t *testing.T) {
	db := openServiceTestDB(t)
	knowledge := newFakeKB()
	knowledge.retrieveRes = &kb.RetrieveResult{
		Answer:    "the answer",
		SessionID: "s1",
		Citations: []kb.Citation{
			{FileID: "f1", Content: "cited passage"},
			{FileID: "f1", Content: "another passage from the same file"},
		},
	}
	tracked := repo.NewTrackedFileRepo(db)
	history := repo.NewChatHistoryRepo(db)
	files := repo.NewProjectFileRepo(db)
	touch := service.NewTouchService(tracked, testTenants(), nil)
	queries := service.NewQueryService(knowledge, files, history, touch)

	seedProjectFile(t, db, "t1", "p1", "f1")
	seedTracked(t, db, "t1", "p1", "f1", model.FileStateReady, 0, "")
	before := time.Now().Unix()

	result, err := queries.Query(context.Background(), service.QueryRequest{
		TenantID:  "t1",
		UserID:    "u1",
		ProjectID: "p1",
		Query:     "what is this about?",
	})
	require.NoError(t, err)
	require.Equal(t, "the answer", result.Answer)
	require.Equal(t, "s1", result.SessionID)
	require.Len(t, result.Sources, 2)

	// The cited file counts as accessed.
	file, err := tracked.Get(context.Background(), "t1", "f1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, file.TTLDeadline, before+24*3600)

	// Both sides of the exchange land in the transcript, in order.
	messages, err := queries.History(context.Background(), "t1", "u1", "p1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, "user", messages[0].Type)
	require.Equal(t, "what is this about?", messages[0].Content)
	require.Equal(t, "ai", messages[1].Type)
	require.Len(t, messages[1].Sources, 2)
}

func TestQueryEmptyProject(t *testing.T) {
	db := openServiceTestDB(t)
	tracked := repo.NewTrackedFileRepo(db)
	history := repo.NewChatHistoryRepo(db)
	files := repo.NewProjectFileRepo(db)
	touch := service.NewTouchService(tracked, testTenants(), nil)
	queries := service.NewQueryService(newFakeKB(), files, history, touch)

	_, err := queries.Query(context.Background(), service.QueryRequest{
		TenantID:  "t1",
		UserID:    "u1",
		ProjectID: "empty",
		Query:     "anything",
	})
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestDeleteHistory(t *testing.T) {
	db := openServiceTestDB(t)
	knowledge := newFakeKB()
	tracked := repo.NewTrackedFileRepo(db)
	history := repo.NewChatHistoryRepo(db)
	files := repo.NewProjectFileRepo(db)
	touch := service.NewTouchService(tracked, testTenants(), nil)
	queries := service.NewQueryService(knowledge, files, history, touch)

	seedProjectFile(t, db, "t1", "p1", "f1")
	_, err := queries.Query(context.Background(), service.QueryRequest{
		TenantID: "t1", UserID: "u1", ProjectID: "p1", Query: "q",
	})
	require.NoError(t, err)

	require.NoError(t, queries.DeleteHistory(context.Background(), "t1", "u1", "p1"))
	messages, err := queries.History(context.Background(), "t1", "u1", "p1")
	require.NoError(t, err)
	require.Empty(t, messages)
}
