package engine

import (
	"context"
	"fmt"
	"strings"
)

// Pool is the fixed set of workers of one runner.
type Pool struct {
	workers []*Worker
}

func newPool(workers []*Worker) *Pool {
	return &Pool{workers: workers}
}

// Workers returns the pool's workers in index order.
func (p *Pool) Workers() []*Worker {
	return p.workers
}

// StartAll starts every worker.
func (p *Pool) StartAll() {
	for _, w := range p.workers {
		w.Start()
	}
}

// StopAll stops every worker from polling.
func (p *Pool) StopAll() {
	for _, w := range p.workers {
		w.Stop()
	}
}

// KillAll tells every worker to exit after its current job.
func (p *Pool) KillAll() {
	for _, w := range p.workers {
		w.Kill()
	}
}

// Wait blocks until every worker has exited or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	for _, w := range p.workers {
		select {
		case <-w.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Status returns how many workers are running and the pool size.
func (p *Pool) Status() (running, total int) {
	for _, w := range p.workers {
		if w.State() == WorkerRunning {
			running++
		}
	}
	return running, len(p.workers)
}

// Check reports whether every worker is alive, naming the dead ones if not.
func (p *Pool) Check() (bool, string) {
	var dead []string
	for _, w := range p.workers {
		if w.State() == WorkerDead {
			dead = append(dead, w.Name())
		}
	}
	if len(dead) > 0 {
		return false, fmt.Sprintf("Worker %s is not running. You may be able to fix this by restarting the runner. ", strings.Join(dead, ", "))
	}
	return true, ""
}
