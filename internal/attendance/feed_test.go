package attendance_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroll/internal/attendance"
	"classroll/internal/feed"
)

func TestMarkPublishesAfterCallerCancels(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	wat := time.FixedZone("WAT", 60*60)
	live := feed.New(feed.NewRedisBroker(client), feed.Options{Location: wat})
	store := attendance.NewMemStore()
	events := attendance.NewLifecycle(store, live, wat)
	rec := attendance.NewRecorder(store, events, live)

	student := &attendance.Student{RegNum: "2019/123456", Firstname: "Ada", Lastname: "Obi", Department: "CSC", Level: 300}
	require.NoError(t, store.CreateStudent(context.Background(), student))
	evt, err := events.OpenNow(context.Background(), nil, time.Date(2024, time.March, 4, 9, 0, 0, 0, wat))
	require.NoError(t, err)

	// The client hung up right as the row was written.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, created, err := rec.Mark(ctx, student, evt, time.Date(2024, time.March, 4, 9, 5, 0, 0, wat))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, store.AttendanceCount())

	seen, err := live.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, "Ada", seen[0].Firstname)
	assert.Equal(t, "09 : 05", seen[0].ArrivalTime)
}
