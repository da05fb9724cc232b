package export

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const DefaultQueueSizePerWorker = 200

// Pool writes queued jobs with a fixed number of workers and records
// their progress in the ledger.
type Pool struct {
	PoolSize  int
	TaskQueue chan *Job

	writer *Writer
	ledger *Ledger
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func CreatePool(n int, writer *Writer, ledger *Ledger, logger *zap.SugaredLogger) *Pool {
	if n <= 0 {
		n = 1
	}
	p := &Pool{
		PoolSize:  n,
		TaskQueue: make(chan *Job, DefaultQueueSizePerWorker*n),
		writer:    writer,
		ledger:    ledger,
		logger:    logger,
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// AddQueue queues job without blocking.  A full or closed queue
// rejects the job.
func (p *Pool) AddQueue(job *Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("Pool is closed")
	}
	select {
	case p.TaskQueue <- job:
		return nil
	default:
		return fmt.Errorf("Pool TaskQueue is full")
	}
}

// Close stops accepting jobs and waits for the queued ones.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.TaskQueue)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	ctx := context.Background()
	for job := range p.TaskQueue {
		if err := p.ledger.SetState(ctx, job.ID, StateRunning, "", ""); err != nil {
			p.logger.Errorw("ledger update failed", "task", job.ID, "error", err)
		}

		output, err := p.writer.Write(job.Task)
		if err != nil {
			p.logger.Errorw("export failed", "task", job.ID, "description", job.Task.Description, "error", err)
			if err := p.ledger.SetState(ctx, job.ID, StateFailed, "", err.Error()); err != nil {
				p.logger.Errorw("ledger update failed", "task", job.ID, "error", err)
			}
			continue
		}

		p.logger.Infow("export completed", "task", job.ID, "description", job.Task.Description, "output", output)
		if err := p.ledger.SetState(ctx, job.ID, StateCompleted, output, ""); err != nil {
			p.logger.Errorw("ledger update failed", "task", job.ID, "error", err)
		}
	}
}
