package sweeper

import (
	"context"
	"log"

	"github.com/hibiken/asynq"
)

// Task type constants
const (
	TaskSweepOrders        = "sweep:orders"
	TaskSweepSubscriptions = "sweep:subscriptions"
)

// Scheduler wires both sweeps onto asynq cron schedules. The worker that
// consumes the tasks and the scheduler that enqueues them run in-process
// alongside the API server.
type Scheduler struct {
	redis     asynq.RedisClientOpt
	orders    *RegretSweeper
	renewals  *RenewalSweeper
	orderCron string
	renewCron string

	scheduler *asynq.Scheduler
	server    *asynq.Server
}

func NewScheduler(redis asynq.RedisClientOpt, orders *RegretSweeper, renewals *RenewalSweeper, orderCron, renewCron string) *Scheduler {
	return &Scheduler{
		redis:     redis,
		orders:    orders,
		renewals:  renewals,
		orderCron: orderCron,
		renewCron: renewCron,
	}
}

// Start registers the cron entries and begins consuming sweep tasks.
func (s *Scheduler) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskSweepOrders, func(ctx context.Context, _ *asynq.Task) error {
		return s.orders.RunOnce(ctx)
	})
	mux.HandleFunc(TaskSweepSubscriptions, func(ctx context.Context, _ *asynq.Task) error {
		return s.renewals.RunOnce(ctx)
	})

	s.server = asynq.NewServer(s.redis, asynq.Config{
		Concurrency: 2,
		Queues:      map[string]int{"sweeps": 1},
	})
	go func() {
		if err := s.server.Run(mux); err != nil {
			log.Printf("sweep worker stopped: %v", err)
		}
	}()

	s.scheduler = asynq.NewScheduler(s.redis, nil)
	if _, err := s.scheduler.Register(s.orderCron, asynq.NewTask(TaskSweepOrders, nil), asynq.Queue("sweeps")); err != nil {
		return err
	}
	if _, err := s.scheduler.Register(s.renewCron, asynq.NewTask(TaskSweepSubscriptions, nil), asynq.Queue("sweeps")); err != nil {
		return err
	}
	go func() {
		if err := s.scheduler.Run(); err != nil {
			log.Printf("sweep scheduler stopped: %v", err)
		}
	}()

	log.Printf("sweep scheduler started (orders=%q subscriptions=%q)", s.orderCron, s.renewCron)
	return nil
}

// Stop shuts down the scheduler and worker.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Shutdown()
	}
	if s.server != nil {
		s.server.Shutdown()
	}
}
