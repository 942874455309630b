package redisq_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagelift/pagelift-api/internal/domain"
	"github.com/pagelift/pagelift-api/internal/platform/redisq"
)

func cacheTask(t *testing.T, id string) *domain.Task {
	t.Helper()
	task, err := domain.NewTask("u1", "u1@example.com", "doc.pdf", domain.WorkflowTranslate, domain.PriorityNormal)
	require.NoError(t, err)
	task.ID = id
	return task
}

func TestCacheTaskRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := redisq.NewCache(testClient(t), time.Minute, time.Minute)

	got, err := c.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, got, "cold cache should miss")

	task := cacheTask(t, "t1")
	task.Progress = 42
	require.NoError(t, c.SetTask(ctx, task))

	got, err = c.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, 42, got.Progress)

	require.NoError(t, c.InvalidateTask(ctx, "t1"))
	got, err = c.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheOwnerListRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := redisq.NewCache(testClient(t), time.Minute, time.Minute)

	got, err := c.GetOwnerList(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)

	tasks := []*domain.Task{cacheTask(t, "t1"), cacheTask(t, "t2")}
	require.NoError(t, c.SetOwnerList(ctx, "u1", tasks))

	got, err = c.GetOwnerList(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].ID)
	assert.Equal(t, "t2", got[1].ID)

	require.NoError(t, c.InvalidateOwner(ctx, "u1"))
	got, err = c.GetOwnerList(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheInvalidateMissingIsNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := redisq.NewCache(testClient(t), 0, 0)

	require.NoError(t, c.InvalidateTask(ctx, "nope"))
	require.NoError(t, c.InvalidateOwner(ctx, "nobody"))
	require.NoError(t, c.DeleteTaskStatus(ctx, "nope"))
}

func TestCacheTaskStatusKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := testClient(t)
	c := redisq.NewCache(client, time.Minute, time.Minute)

	require.NoError(t, c.SetTaskStatus(ctx, "t1", domain.StatusProcessing))
	val, err := client.Get(ctx, "task_status:t1").Result()
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusProcessing), val)

	ttl, err := client.TTL(ctx, "task_status:t1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, c.DeleteTaskStatus(ctx, "t1"))
	_, err = client.Get(ctx, "task_status:t1").Result()
	require.Error(t, err)
}
