package modlog

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-lounge/internal/modlog/entity"
	"github.com/ovaphlow/pitchfork/service-lounge/pkg/database"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := database.ConnectX(database.Config{
		Driver: database.DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewService(db)
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func TestRecordAndHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, entity.Entry{
		Action: entity.ActionWarn, ActorID: 1, TargetID: 2, MessageID: 10, CreatedAt: t0,
	}))
	require.NoError(t, s.Record(ctx, entity.Entry{
		Action: entity.ActionBlacklist, ActorID: 1, TargetID: 2, Reason: "spam", CreatedAt: t0.Add(time.Minute),
	}))
	require.NoError(t, s.Record(ctx, entity.Entry{
		Action: entity.ActionPromote, ActorID: 1, TargetID: 3, CreatedAt: t0,
	}))

	got, err := s.History(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, entity.ActionBlacklist, got[0].Action)
	assert.Equal(t, "spam", got[0].Reason)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, entity.ActionWarn, got[1].Action)
	assert.Equal(t, int64(10), got[1].MessageID)
	assert.True(t, got[1].CreatedAt.Equal(t0))

	got, err = s.History(ctx, 2, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRecordKeepsGivenID(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	require.NoError(t, s.Record(ctx, entity.Entry{ID: "fixed", Action: entity.ActionMOTD, ActorID: 1, CreatedAt: time.Now()}))
	assert.Error(t, s.Record(ctx, entity.Entry{ID: "fixed", Action: entity.ActionMOTD, ActorID: 1, CreatedAt: time.Now()}))
}
