package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"facetrack/internal/attendance"
	"facetrack/internal/config"
	"facetrack/internal/policy"
	"facetrack/internal/queue"
	"facetrack/internal/recognition"
	"facetrack/internal/roster"
	"facetrack/internal/schedule"
	"facetrack/internal/store"
	"facetrack/pkg/logger"
)

// The worker drains detection jobs: face search, member lookup, then
// duplicate-suppressed insertion into the event store.
func main() {
	cfg := config.Load()
	logger.Init(cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	log := logger.Logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	rdb := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(rdb.Client, "")
	}

	schedules := schedule.NewRepository(db.Client)
	members := roster.NewRepository(db.Client)
	events := attendance.NewRepository(db.Client)
	policies := policy.NewRepository(db.Client)
	locks := store.NewLock(rdb.Client, 5*time.Second)
	ingestor := attendance.NewIngestor(events, schedules, members, policies, locks, log)

	face := recognition.New(cfg.FaceServiceURL, cfg.FaceSkip)
	if !cfg.FaceSkip {
		if err := face.Health(ctx); err != nil {
			log.Warn("face service unreachable at startup, will retry per job", zap.Error(err))
		} else {
			log.Info("face service connected")
		}
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatal("queue consume init failed", zap.Error(err))
	}

	log.Info("worker started")
	for msg := range messages {
		if msg.Type != queue.TypeDetection {
			continue
		}
		processDetection(ctx, log, face, members, ingestor, cfg.FaceMatchThreshold, msg.Body)
	}
	log.Info("worker stopped")
}

func processDetection(
	ctx context.Context,
	log *zap.Logger,
	face *recognition.Client,
	members *roster.Repository,
	ingestor *attendance.Ingestor,
	matchThreshold float64,
	body []byte,
) {
	var job queue.DetectionJob
	if err := json.Unmarshal(body, &job); err != nil {
		log.Warn("malformed detection job dropped", zap.Error(err))
		return
	}

	result, err := face.Search(ctx, job.ImageURL)
	if err != nil {
		log.Error("face search failed", zap.String("device_id", job.DeviceID), zap.Error(err))
		return
	}
	best := result.Best(matchThreshold)
	if best == nil {
		log.Debug("no face match above threshold",
			zap.String("device_id", job.DeviceID),
			zap.Float64("threshold", matchThreshold),
		)
		return
	}

	member, err := members.GetByEmployeeID(ctx, best.EmployeeID)
	if err != nil {
		log.Error("member lookup failed", zap.String("employee_id", best.EmployeeID), zap.Error(err))
		return
	}
	if member == nil || !member.Active {
		log.Warn("recognized face has no active member", zap.String("employee_id", best.EmployeeID))
		return
	}

	evt, accepted, err := ingestor.RecordDetection(ctx, attendance.Detection{
		MemberID:   member.ID,
		DeviceID:   job.DeviceID,
		OccurredAt: job.OccurredAt,
		Confidence: best.Similarity,
		ImageURL:   job.ImageURL,
	})
	if err != nil {
		if errors.Is(err, attendance.ErrNoActiveSchedule) {
			log.Debug("detection outside any schedule window",
				zap.Int64("member_id", member.ID),
				zap.Time("occurred_at", job.OccurredAt),
			)
			return
		}
		log.Error("record detection failed", zap.Int64("member_id", member.ID), zap.Error(err))
		return
	}
	if accepted {
		log.Info("check-in recorded",
			zap.String("event_id", evt.ID),
			zap.Int64("member_id", member.ID),
			zap.Int64("schedule_id", evt.ScheduleID),
		)
	}
}
