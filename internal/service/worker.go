package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fipe/lookup/internal/domain/task"
	"fipe/lookup/internal/queue"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

var ErrNoQueue = errors.New("refresh queue is not configured")

// Enqueue publishes refresh tasks for the given proposals.
func (s *Service) Enqueue(ctx context.Context, ids ...int64) error {
	if s.queue == nil {
		return ErrNoQueue
	}
	for _, id := range ids {
		if _, err := s.queue.AddTask(ctx, &task.RefreshTask{ProposalID: id, RequestedAt: time.Now()}); err != nil {
			return fmt.Errorf("failed to enqueue proposal %d: %w", id, err)
		}
	}
	log.Infof("📨 Enqueued %d proposals for refresh", len(ids))
	return nil
}

// RunWorkers consumes the refresh streams until ctx is cancelled.
func (s *Service) RunWorkers(ctx context.Context, numWorkers int) error {
	if s.queue == nil {
		return ErrNoQueue
	}

	var wg sync.WaitGroup
	instance := uuid.NewString()

	s.runWorkersForStream(ctx, &wg, instance, max(1, numWorkers), queue.StreamName(task.RefreshTaskType), "main")
	s.runWorkersForStream(ctx, &wg, instance, max(1, numWorkers/2), queue.StreamName(task.RefreshRetryTaskType), "retry")

	wg.Wait()
	return nil
}

func (s *Service) runWorkersForStream(ctx context.Context, wg *sync.WaitGroup, instance string, numWorkers int, streamName, workerType string) {
	// Auto-claimer picks up tasks left pending by workers that died
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.minIdleTime)
		defer ticker.Stop()
		consumer := fmt.Sprintf("%s-autoclaimer-%s", workerType, instance)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				claimed, err := s.queue.AutoClaim(ctx, consumer, streamName, s.minIdleTime)
				if err != nil {
					log.Errorf("❌ Failed to auto-claim messages for %s: %v", streamName, err)
					continue
				}
				if len(claimed) > 0 {
					log.Infof("🔄 Auto-claimed %d messages from %s stream", len(claimed), workerType)
				}
				for _, msg := range claimed {
					if err := s.processMessage(ctx, streamName, &msg); err != nil {
						log.Errorf("❌ Failed to process auto-claimed message %s: %v", msg.ID, err)
					}
				}
			}
		}
	}()

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			consumer := fmt.Sprintf("%s-worker-%d-%s", workerType, workerID, instance)
			log.Infof("🚀 Starting %s worker %d as consumer %s", workerType, workerID, consumer)
			for {
				select {
				case <-ctx.Done():
					log.Infof("🛑 %s worker %d stopping", workerType, workerID)
					return
				default:
				}

				msg, err := s.queue.GetTask(ctx, consumer, streamName)
				if err != nil {
					if ctx.Err() == nil {
						log.Errorf("❌ Failed to get task from %s: %v", streamName, err)
					}
					continue
				}
				if msg == nil {
					continue
				}
				if err := s.processMessage(ctx, streamName, msg); err != nil {
					log.Errorf("❌ Failed to process message %s: %v", msg.ID, err)
				}
			}
		}(i + 1)
	}
}

func (s *Service) processMessage(ctx context.Context, streamName string, msg *redis.XMessage) error {
	taskType, ok := msg.Values["task_type"].(string)
	if !ok {
		return s.drop(ctx, streamName, msg, fmt.Errorf("invalid task type in message %s", msg.ID))
	}
	taskData, ok := msg.Values["task_data"].(string)
	if !ok {
		return s.drop(ctx, streamName, msg, fmt.Errorf("invalid task data in message %s", msg.ID))
	}

	var (
		proposalID int64
		retryCount int
	)
	switch taskType {
	case task.RefreshTaskType:
		t, err := task.UnmarshalTask[*task.RefreshTask]([]byte(taskData))
		if err != nil {
			return s.drop(ctx, streamName, msg, fmt.Errorf("failed to unmarshal refresh task: %w", err))
		}
		proposalID = t.ProposalID

	case task.RefreshRetryTaskType:
		t, err := task.UnmarshalTask[*task.RefreshRetryTask]([]byte(taskData))
		if err != nil {
			return s.drop(ctx, streamName, msg, fmt.Errorf("failed to unmarshal retry task: %w", err))
		}
		proposalID = t.ProposalID
		retryCount = t.RetryCount
		log.Infof("🔄 Retrying proposal %d (attempt %d)", proposalID, retryCount)

	default:
		return s.drop(ctx, streamName, msg, fmt.Errorf("unknown task type: %s", taskType))
	}

	if err := s.Refresh(ctx, proposalID); err != nil {
		s.requeue(ctx, proposalID, retryCount, err)
	}

	if err := s.queue.AckTask(ctx, streamName, msg.ID); err != nil {
		return fmt.Errorf("failed to ack message %s: %w", msg.ID, err)
	}
	return nil
}

// requeue puts a transient failure on the retry stream until maxRetries is
// reached. Other failures are only logged.
func (s *Service) requeue(ctx context.Context, proposalID int64, retryCount int, cause error) {
	if !errors.Is(cause, ErrLookupIncomplete) {
		log.Errorf("❌ Failed to refresh proposal %d: %v", proposalID, cause)
		return
	}
	if retryCount >= s.maxRetries {
		log.Errorf("❌ Giving up on proposal %d after %d retries: %v", proposalID, retryCount, cause)
		return
	}

	retry := &task.RefreshRetryTask{
		ProposalID: proposalID,
		RetryCount: retryCount + 1,
		Error:      cause.Error(),
	}
	if _, err := s.queue.AddTask(ctx, retry); err != nil {
		log.Errorf("❌ Failed to add retry task for proposal %d: %v", proposalID, err)
		return
	}
	log.Warnf("🔄 Added proposal %d to retry queue due to error: %v", proposalID, cause)
}

func (s *Service) drop(ctx context.Context, streamName string, msg *redis.XMessage, cause error) error {
	if err := s.queue.AckTask(ctx, streamName, msg.ID); err != nil {
		return fmt.Errorf("%w (ack failed: %v)", cause, err)
	}
	return cause
}
