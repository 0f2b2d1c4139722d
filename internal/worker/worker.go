package worker

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"academy/internal/attendance"
	"academy/internal/metrics"
	"academy/internal/queue"
)

// Recomputer materialises the stats of one branch and day.
type Recomputer interface {
	RecomputeDailyStats(ctx context.Context, branchID, date string) (attendance.Stats, error)
}

// Run consumes attendance events until ctx is done or the queue closes.
// Failures are logged and the message dropped; the next mark for the same
// branch and day recomputes from scratch.
func Run(ctx context.Context, q queue.Queue, stats Recomputer, log *zap.Logger) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	log.Info("worker started, waiting for messages")
	for msg := range messages {
		handle(ctx, msg, stats, log)
	}
	log.Info("worker stopped")
	return nil
}

func handle(ctx context.Context, msg queue.Message, stats Recomputer, log *zap.Logger) {
	if msg.Type != queue.TypeMarked {
		log.Debug("skipping message", zap.String("type", msg.Type))
		return
	}
	var evt queue.MarkedEvent
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		metrics.QueueEvents.WithLabelValues("failed").Inc()
		log.Warn("undecodable attendance event", zap.Error(err))
		return
	}
	st, err := stats.RecomputeDailyStats(ctx, evt.BranchID, evt.Date)
	if err != nil {
		metrics.QueueEvents.WithLabelValues("failed").Inc()
		log.Error("daily stats recompute failed", zap.Error(err),
			zap.String("branch_id", evt.BranchID), zap.String("date", evt.Date))
		return
	}
	metrics.QueueEvents.WithLabelValues("processed").Inc()
	log.Debug("daily stats updated",
		zap.String("branch_id", evt.BranchID), zap.String("date", evt.Date),
		zap.Int("total", st.Total), zap.Float64("rate", st.AttendanceRate))
}
