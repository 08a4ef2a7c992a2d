// Package scheduler creates the tasks of ACTIVE scheduled tasks on their cron schedules.
package scheduler

import (
	"context"
	"sync"
	"time"

	v1 "github.com/onepanelio/functionary/pkg"
	"github.com/onepanelio/functionary/pkg/metrics"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// DefaultSyncInterval is how often the schedules are reloaded from the store.
const DefaultSyncInterval = 30 * time.Second

// Store is implemented by v1.Client.
type Store interface {
	ListActiveScheduledTasks() ([]*v1.ScheduledTask, error)
	RunScheduledTask(ctx context.Context, id string) (*v1.Task, error)
}

type entry struct {
	id         cron.EntryID
	expression string
}

// Engine keeps one cron entry per ACTIVE scheduled task. Schedules are evaluated in UTC.
type Engine struct {
	store        Store
	cron         *cron.Cron
	syncInterval time.Duration

	mu      sync.Mutex
	entries map[string]entry
	running map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewEngine(store Store, syncInterval time.Duration) *Engine {
	if syncInterval <= 0 {
		syncInterval = DefaultSyncInterval
	}

	return &Engine{
		store: store,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cron.PrintfLogger(log.StandardLogger()))),
		),
		syncInterval: syncInterval,
		entries:      make(map[string]entry),
		running:      make(map[string]bool),
		ctx:          context.Background(),
	}
}

// Start loads the schedules and starts ticking. The schedules are reloaded every sync interval
// until ctx is done or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)
	if err := e.Sync(); err != nil {
		e.cancel()
		return err
	}

	e.cron.Start()
	e.done = make(chan struct{})
	go e.syncLoop()

	return nil
}

func (e *Engine) syncLoop() {
	defer close(e.done)

	ticker := time.NewTicker(e.syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if err := e.Sync(); err != nil {
				log.WithField("Error", err.Error()).Error("Unable to sync scheduled tasks.")
			}
		}
	}
}

// Stop stops ticking and waits for running ticks to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	<-e.cron.Stop().Done()
	if e.done != nil {
		<-e.done
	}
}

// Sync adds entries for new ACTIVE scheduled tasks, replaces entries whose schedule changed,
// and removes entries of scheduled tasks that are no longer ACTIVE.
func (e *Engine) Sync() error {
	scheduledTasks, err := e.store.ListActiveScheduledTasks()
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	active := make(map[string]bool, len(scheduledTasks))
	for _, scheduledTask := range scheduledTasks {
		active[scheduledTask.ID] = true
		expression := scheduledTask.Schedule.Expression()

		current, ok := e.entries[scheduledTask.ID]
		if ok && current.expression == expression {
			continue
		}
		if ok {
			e.cron.Remove(current.id)
			delete(e.entries, scheduledTask.ID)
		}

		id := scheduledTask.ID
		entryID, err := e.cron.AddFunc(expression, func() {
			e.tick(id)
		})
		if err != nil {
			log.WithFields(log.Fields{
				"ScheduledTaskID": id,
				"Schedule":        expression,
				"Error":           err.Error(),
			}).Error("Unable to schedule task.")
			continue
		}
		e.entries[id] = entry{id: entryID, expression: expression}
	}

	for id, current := range e.entries {
		if active[id] {
			continue
		}
		e.cron.Remove(current.id)
		delete(e.entries, id)
	}

	return nil
}

// Scheduled returns the ids of the scheduled tasks that currently have an entry.
func (e *Engine) Scheduled() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.entries))
	for id := range e.entries {
		ids = append(ids, id)
	}

	return ids
}

// tick creates the task of a scheduled task. A tick is skipped while the previous tick
// of the same scheduled task is still running.
func (e *Engine) tick(id string) {
	e.mu.Lock()
	if e.running[id] {
		e.mu.Unlock()
		metrics.ScheduledTicks.WithLabelValues("skipped").Inc()
		log.WithField("ScheduledTaskID", id).Warn("Previous tick is still running, skipping.")
		return
	}
	e.running[id] = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.running, id)
		e.mu.Unlock()
	}()

	task, err := e.store.RunScheduledTask(e.ctx, id)
	if err != nil {
		metrics.ScheduledTicks.WithLabelValues("error").Inc()
		log.WithFields(log.Fields{
			"ScheduledTaskID": id,
			"Error":           err.Error(),
		}).Error("Scheduled task run failed.")
		return
	}
	if task == nil {
		metrics.ScheduledTicks.WithLabelValues("skipped").Inc()
		return
	}

	metrics.ScheduledTicks.WithLabelValues("created").Inc()
	log.WithFields(log.Fields{
		"ScheduledTaskID": id,
		"TaskID":          task.ID,
	}).Info("Created scheduled task run.")
}
