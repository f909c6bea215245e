package redisqueue

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/barkbase/automation/pkg/models"
	"github.com/barkbase/automation/pkg/persistence"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
)

type QueueTestSuite struct {
	suite.Suite
	server *miniredis.Miniredis
	client *redis.Client
	queue  *Queue

	mu  sync.Mutex
	now time.Time
}

func TestQueueSuite(t *testing.T) {
	suite.Run(t, new(QueueTestSuite))
}

func (s *QueueTestSuite) SetupTest() {
	s.server = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: s.server.Addr()})
	s.now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.queue = NewQueue(s.client, logger,
		WithPrefix("automation:test:"),
		WithLockTTL(time.Minute),
		WithClock(s.clock),
	)
}

func (s *QueueTestSuite) TearDownTest() {
	s.NoError(s.client.Close())
}

func (s *QueueTestSuite) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.now
}

func (s *QueueTestSuite) advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.now = s.now.Add(d)
}

func (s *QueueTestSuite) TestEnqueueAndClaim() {
	ctx := context.Background()

	job := &models.Job{TenantID: "tenant-a", RunID: "run-1", StepID: "notify", MaxAttempts: 3}
	s.Require().NoError(s.queue.Enqueue(ctx, job))
	s.NotEmpty(job.ID)

	claimed, err := s.queue.ClaimNext(ctx, "worker-1")
	s.Require().NoError(err)
	s.Require().NotNil(claimed)
	s.Equal(job.ID, claimed.ID)
	s.Equal("notify", claimed.StepID)
	s.Equal("worker-1", claimed.LockedBy)
	s.Require().NotNil(claimed.LockedAt)
	s.True(claimed.LockedAt.Equal(s.clock()))

	none, err := s.queue.ClaimNext(ctx, "worker-2")
	s.Require().NoError(err)
	s.Nil(none)
}

func (s *QueueTestSuite) TestEnqueueRejectsSecondJobForRun() {
	ctx := context.Background()

	s.Require().NoError(s.queue.Enqueue(ctx, &models.Job{RunID: "run-1", StepID: "a"}))

	err := s.queue.Enqueue(ctx, &models.Job{RunID: "run-1", StepID: "b"})
	s.ErrorIs(err, persistence.ErrJobExists)
}

func (s *QueueTestSuite) TestFutureJobsAreNotClaimed() {
	ctx := context.Background()

	s.Require().NoError(s.queue.Enqueue(ctx, &models.Job{RunID: "run-1", DueAt: s.clock().Add(time.Hour)}))

	none, err := s.queue.ClaimNext(ctx, "worker-1")
	s.Require().NoError(err)
	s.Nil(none)

	s.advance(time.Hour)

	job, err := s.queue.ClaimNext(ctx, "worker-1")
	s.Require().NoError(err)
	s.NotNil(job)
}

func (s *QueueTestSuite) TestStaleLockIsReclaimed() {
	ctx := context.Background()

	s.Require().NoError(s.queue.Enqueue(ctx, &models.Job{RunID: "run-1", MaxAttempts: 3}))

	first, err := s.queue.ClaimNext(ctx, "crashed")
	s.Require().NoError(err)
	s.Require().NotNil(first)

	s.advance(30 * time.Second)

	none, err := s.queue.ClaimNext(ctx, "other")
	s.Require().NoError(err)
	s.Nil(none)

	s.advance(31 * time.Second)

	again, err := s.queue.ClaimNext(ctx, "other")
	s.Require().NoError(err)
	s.Require().NotNil(again)
	s.Equal(first.ID, again.ID)
	s.Equal("other", again.LockedBy)
}

func (s *QueueTestSuite) TestConcurrentClaimsAreExclusive() {
	ctx := context.Background()

	s.Require().NoError(s.queue.Enqueue(ctx, &models.Job{RunID: "run-1"}))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
	)

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			job, err := s.queue.ClaimNext(ctx, "worker")
			s.NoError(err)

			if job != nil {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	s.Equal(1, claimed)
}

func (s *QueueTestSuite) TestRescheduleCountsAttempts() {
	ctx := context.Background()

	job := &models.Job{RunID: "run-1", MaxAttempts: 2}
	s.Require().NoError(s.queue.Enqueue(ctx, job))

	_, err := s.queue.ClaimNext(ctx, "worker-1")
	s.Require().NoError(err)

	rescheduled, err := s.queue.Reschedule(ctx, job.ID, "worker-1", 10*time.Second, nil)
	s.Require().NoError(err)
	s.Equal(1, rescheduled.Attempts)
	s.Empty(rescheduled.LockedBy)
	s.True(rescheduled.DueAt.Equal(s.clock().Add(10 * time.Second)))

	none, err := s.queue.ClaimNext(ctx, "worker-1")
	s.Require().NoError(err)
	s.Nil(none)

	s.advance(10 * time.Second)

	again, err := s.queue.ClaimNext(ctx, "worker-1")
	s.Require().NoError(err)
	s.Require().NotNil(again)
	s.Equal(1, again.Attempts)

	_, err = s.queue.Reschedule(ctx, job.ID, "worker-1", time.Second, nil)
	s.True(persistence.IsMaxAttemptsExceeded(err))

	_, err = s.queue.Reschedule(ctx, "missing", "worker-1", time.Second, nil)
	s.True(persistence.IsJobNotFound(err))
}

func (s *QueueTestSuite) TestPostponeReplaceDelete() {
	ctx := context.Background()

	job := &models.Job{RunID: "run-1", StepID: "wait", MaxAttempts: 3}
	s.Require().NoError(s.queue.Enqueue(ctx, job))

	postponed, err := s.queue.Postpone(ctx, job.ID, "", s.clock().Add(time.Minute), map[string]any{models.JobPayloadDelayElapsed: true})
	s.Require().NoError(err)
	s.Equal(0, postponed.Attempts)
	s.Equal(true, postponed.Payload[models.JobPayloadDelayElapsed])

	next := &models.Job{RunID: "run-1", StepID: "notify", MaxAttempts: 3}
	s.Require().NoError(s.queue.Replace(ctx, job.ID, "", next))

	current, err := s.queue.GetByRun(ctx, "run-1")
	s.Require().NoError(err)
	s.Equal("notify", current.StepID)
	s.Equal(next.ID, current.ID)

	claimed, err := s.queue.ClaimNext(ctx, "worker-1")
	s.Require().NoError(err)
	s.Require().NotNil(claimed)
	s.Equal(next.ID, claimed.ID)

	s.Require().NoError(s.queue.Delete(ctx, next.ID, "worker-1"))

	_, err = s.queue.GetByRun(ctx, "run-1")
	s.True(persistence.IsJobNotFound(err))

	s.True(persistence.IsJobNotFound(s.queue.Delete(ctx, next.ID, "")))
	s.False(s.server.Exists("automation:test:job:" + next.ID))
}

func (s *QueueTestSuite) TestStaleWorkerCannotTouchReclaimedJob() {
	ctx := context.Background()

	job := &models.Job{RunID: "run-1", StepID: "a", MaxAttempts: 5}
	s.Require().NoError(s.queue.Enqueue(ctx, job))

	stale, err := s.queue.ClaimNext(ctx, "slow-worker")
	s.Require().NoError(err)
	s.Require().NotNil(stale)

	s.advance(2 * time.Minute)

	fresh, err := s.queue.ClaimNext(ctx, "fast-worker")
	s.Require().NoError(err)
	s.Require().NotNil(fresh)
	s.Require().Equal(stale.ID, fresh.ID)

	_, err = s.queue.Reschedule(ctx, job.ID, "slow-worker", time.Second, nil)
	s.True(persistence.IsJobLockLost(err))

	_, err = s.queue.Postpone(ctx, job.ID, "slow-worker", s.clock().Add(time.Hour), nil)
	s.True(persistence.IsJobLockLost(err))

	err = s.queue.Replace(ctx, job.ID, "slow-worker", &models.Job{RunID: "run-1", StepID: "b"})
	s.True(persistence.IsJobLockLost(err))

	s.True(persistence.IsJobLockLost(s.queue.Delete(ctx, job.ID, "slow-worker")))

	current, err := s.queue.GetByRun(ctx, "run-1")
	s.Require().NoError(err)
	s.Equal(job.ID, current.ID)
	s.Equal("a", current.StepID)
	s.Equal("fast-worker", current.LockedBy)

	s.Require().NoError(s.queue.Delete(ctx, job.ID, "fast-worker"))

	_, err = s.queue.GetByRun(ctx, "run-1")
	s.True(persistence.IsJobNotFound(err))
}
