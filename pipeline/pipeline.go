// Package pipeline runs payloads from a source through a sequence of
// concurrent processing stages into a sink.
package pipeline

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Payload is implemented by values that can be sent through a pipeline.
type Payload interface {
	// MarkAsProcessed is invoked by the pipeline when the payload either
	// reaches the sink or gets discarded by a stage.
	MarkAsProcessed()
}

// Processor is implemented by types that can process payloads as part of a
// pipeline stage. Returning a nil payload discards the input.
type Processor interface {
	Process(ctx context.Context, p Payload) (Payload, error)
}

// ProcessorFunc is an adapter to allow the use of plain functions as
// Processor instances.
type ProcessorFunc func(context.Context, Payload) (Payload, error)

// Process calls f(ctx, p).
func (f ProcessorFunc) Process(ctx context.Context, p Payload) (Payload, error) {
	return f(ctx, p)
}

// StageParams encapsulates the information required for executing a
// pipeline stage.
type StageParams interface {
	StageIndex() int
	Input() <-chan Payload
	Output() chan<- Payload
	Error() chan<- error
}

// StageRunner is implemented by types that can be strung together to form
// a pipeline.
type StageRunner interface {
	// Run blocks until the input channel is closed, the context is
	// cancelled or an error occurs.
	Run(context.Context, StageParams)
}

// Source is implemented by types that generate payloads.
type Source interface {
	Next(context.Context) bool
	Payload() Payload
	Error() error
}

// Sink is implemented by types that sit at the end of a pipeline.
type Sink interface {
	Consume(context.Context, Payload) error
}

// Pipeline implements a modular, multi-stage pipeline.
type Pipeline struct {
	stages []StageRunner
}

// New returns a pipeline that runs the stages in order.
func New(stages ...StageRunner) *Pipeline {
	return &Pipeline{stages: stages}
}

// Process reads the contents of source, sends them through the stages and
// delivers the results to sink. It blocks until the source is exhausted,
// the context is cancelled or an error occurs; the first error cancels the
// remaining work and every error is returned.
func (p *Pipeline) Process(ctx context.Context, source Source, sink Sink) error {
	var wg sync.WaitGroup
	pCtx, cancel := context.WithCancel(ctx)

	// stageCh[i] feeds stage i; the last channel feeds the sink.
	stageCh := make([]chan Payload, len(p.stages)+1)
	errCh := make(chan error, len(p.stages)+2)
	for i := range stageCh {
		stageCh[i] = make(chan Payload)
	}

	for i, stage := range p.stages {
		wg.Add(1)
		go func(i int, stage StageRunner) {
			defer wg.Done()
			stage.Run(pCtx, &workerParams{
				stage: i,
				inCh:  stageCh[i],
				outCh: stageCh[i+1],
				errCh: errCh,
			})
			close(stageCh[i+1])
		}(i, stage)
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		sourceWorker(pCtx, source, stageCh[0], errCh)
		close(stageCh[0])
	}()
	go func() {
		defer wg.Done()
		sinkWorker(pCtx, sink, stageCh[len(stageCh)-1], errCh)
	}()

	go func() {
		wg.Wait()
		close(errCh)
		cancel()
	}()

	var err error
	for pErr := range errCh {
		err = multierror.Append(err, pErr)
		cancel()
	}
	return err
}

func sourceWorker(ctx context.Context, source Source, outCh chan<- Payload, errCh chan<- error) {
	for source.Next(ctx) {
		select {
		case outCh <- source.Payload():
		case <-ctx.Done():
			return
		}
	}

	if err := source.Error(); err != nil {
		maybeEmitError(err, errCh)
	}
}

func sinkWorker(ctx context.Context, sink Sink, inCh <-chan Payload, errCh chan<- error) {
	for {
		select {
		case payload, ok := <-inCh:
			if !ok {
				return
			}
			if err := sink.Consume(ctx, payload); err != nil {
				maybeEmitError(err, errCh)
				return
			}
			payload.MarkAsProcessed()
		case <-ctx.Done():
			return
		}
	}
}

// maybeEmitError attempts to queue err to a buffered error channel. If the
// channel is full, the error is dropped.
func maybeEmitError(err error, errCh chan<- error) {
	select {
	case errCh <- err:
	default:
	}
}

type workerParams struct {
	stage int
	inCh  <-chan Payload
	outCh chan<- Payload
	errCh chan<- error
}

func (p *workerParams) StageIndex() int        { return p.stage }
func (p *workerParams) Input() <-chan Payload  { return p.inCh }
func (p *workerParams) Output() chan<- Payload { return p.outCh }
func (p *workerParams) Error() chan<- error    { return p.errCh }
