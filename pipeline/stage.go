package pipeline

import (
	"context"
	"fmt"
	"sync"
)

type workerPool struct {
	proc    Processor
	workers int
}

// FIFO returns a StageRunner that processes payloads one at a time, in the
// order they arrive.
func FIFO(proc Processor) StageRunner {
	return workerPool{proc: proc, workers: 1}
}

// FixedWorkerPool returns a StageRunner that processes payloads with
// numWorkers concurrent workers. Outputs are emitted as soon as they are
// ready, so their order is not preserved.
func FixedWorkerPool(proc Processor, numWorkers int) StageRunner {
	if numWorkers <= 0 {
		panic("FixedWorkerPool: numWorkers must be > 0")
	}
	return workerPool{proc: proc, workers: numWorkers}
}

// Run implements StageRunner.
func (p workerPool) Run(ctx context.Context, params StageParams) {
	var wg sync.WaitGroup
	wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go func() {
			defer wg.Done()
			p.work(ctx, params)
		}()
	}
	wg.Wait()
}

// work consumes the shared input channel until it is closed, the context
// is cancelled or the processor fails.
func (p workerPool) work(ctx context.Context, params StageParams) {
	for {
		var in Payload
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-params.Input():
			if !ok {
				return
			}
			in = payload
		}

		out, err := p.proc.Process(ctx, in)
		if err != nil {
			maybeEmitError(fmt.Errorf("pipeline stage %d: %w", params.StageIndex(), err), params.Error())
			return
		}
		if out == nil {
			in.MarkAsProcessed()
			continue
		}

		select {
		case params.Output() <- out:
		case <-ctx.Done():
			return
		}
	}
}
