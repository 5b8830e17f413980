package net

import (
	"sync"

	tomb "gopkg.in/tomb.v2"
)

// workerPool runs a fixed number of goroutines pulling tasks off a shared
// channel, the shape the reference server expected from its (missing)
// utils.WorkerPool collaborator — reconstructed here since nothing in the
// pack exposes that exact type.
type workerPool struct {
	n     int
	tasks chan any
	once  sync.Once
}

func newWorkerPool(n int) *workerPool {
	return &workerPool{n: n, tasks: make(chan any, n*4)}
}

// setup launches n worker goroutines under t, each running handler against
// tasks pulled off the shared queue until t starts dying.
func (p *workerPool) setup(t *tomb.Tomb, handler func(t *tomb.Tomb, task any) error) {
	p.once.Do(func() {
		for i := 0; i < p.n; i++ {
			t.Go(func() error {
				for {
					select {
					case <-t.Dying():
						return nil
					case task := <-p.tasks:
						if err := handler(t, task); err != nil {
							return err
						}
					}
				}
			})
		}
	})
}

func (p *workerPool) addTask(task any) {
	p.tasks <- task
}
