package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/jitkb/internal/job"
	"github.com/xxxsen/jitkb/internal/model"
	"github.com/xxxsen/jitkb/internal/reaper"
	"github.com/xxxsen/jitkb/internal/repo"
	"github.com/xxxsen/jitkb/internal/stream"
	"github.com/xxxsen/jitkb/test/testutil"
)

func seedDeadLetter(t *testing.T, letters *repo.DeadLetterRepo, id string, attempts int) stream.Event {
	t.Helper()
	event := stream.Event{
		Kind:     stream.EventRemove,
		Cause:    stream.CauseTTLExpiry,
		TenantID: "t1",
		FileID:   "file-" + id,
	}
	data, err := json.Marshal(event)
	require.NoError(t, err)
	now := time.Now().Unix()
	require.NoError(t, letters.Save(context.Background(), &model.DeadLetter{
		ID:        id,
		TenantID:  event.TenantID,
		FileID:    event.FileID,
		EventJSON: string(data),
		Attempts:  attempts,
		Ctime:     now,
		Mtime:     now,
	}))
	return event
}

func TestDeadLetterRetryRedrivesAndDeletes(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.CleanTables(t, db, "dead_letters")
	letters := repo.NewDeadLetterRepo(db)
	ctx := context.Background()

	event := seedDeadLetter(t, letters, "dl1", 2)

	collector := &eventCollector{}
	broker := stream.NewBroker(stream.BrokerConfig{BufferSize: 16, MaxAttempts: 1, RetryDelay: time.Millisecond, Workers: 1}, nil)
	broker.Subscribe(collector.handle)
	broker.Start(ctx)

	retry := job.NewDeadLetterRetryJob(letters, broker, 100)
	require.Equal(t, "dead_letter_retry", retry.Name())
	require.NoError(t, retry.Run(ctx))
	broker.Close()

	remaining, err := letters.List(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, remaining)

	events := collector.all()
	require.Len(t, events, 1)
	require.Equal(t, event.FileID, events[0].FileID)
	require.Equal(t, stream.CauseTTLExpiry, events[0].Cause)
}

func TestDeadLetterRetryAccumulatesAttemptsAcrossCycles(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.CleanTables(t, db, "dead_letters")
	letters := repo.NewDeadLetterRepo(db)
	ctx := context.Background()

	seedDeadLetter(t, letters, "dl1", 3)

	// A handler that keeps failing sends the event straight back to the
	// dead-letter table through the real sink.
	sink := reaper.NewDeadLetterSink(letters)
	broker := stream.NewBroker(stream.BrokerConfig{BufferSize: 16, MaxAttempts: 1, RetryDelay: time.Millisecond, Workers: 1}, sink)
	broker.Subscribe(func(ctx context.Context, event stream.Event) error {
		return errors.New("still failing")
	})
	broker.Start(ctx)

	require.NoError(t, job.NewDeadLetterRetryJob(letters, broker, 100).Run(ctx))
	broker.Close()

	remaining, err := letters.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, 4, remaining[0].Attempts)
	require.NotEqual(t, "dl1", remaining[0].ID)
}

func TestDeadLetterRetrySkipsExhaustedLetters(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.CleanTables(t, db, "dead_letters")
	letters := repo.NewDeadLetterRepo(db)
	ctx := context.Background()

	seedDeadLetter(t, letters, "dl1", 10)

	collector := &eventCollector{}
	broker := stream.NewBroker(stream.BrokerConfig{BufferSize: 16, MaxAttempts: 1, RetryDelay: time.Millisecond, Workers: 1}, nil)
	broker.Subscribe(collector.handle)
	broker.Start(ctx)

	require.NoError(t, job.NewDeadLetterRetryJob(letters, broker, 100).Run(ctx))
	broker.Close()

	remaining, err := letters.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, 10, remaining[0].Attempts)
	require.Empty(t, collector.all())
}

func TestDeadLetterRetryRecordsPublishFailure(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.CleanTables(t, db, "dead_letters")
	letters := repo.NewDeadLetterRepo(db)
	ctx := context.Background()

	seedDeadLetter(t, letters, "dl1", 3)

	broker := stream.NewBroker(stream.BrokerConfig{BufferSize: 16, MaxAttempts: 1, RetryDelay: time.Millisecond, Workers: 1}, nil)
	broker.Start(ctx)
	broker.Close()

	require.NoError(t, job.NewDeadLetterRetryJob(letters, broker, 100).Run(ctx))

	remaining, err := letters.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, 4, remaining[0].Attempts)
	require.NotEmpty(t, remaining[0].LastError)
}
