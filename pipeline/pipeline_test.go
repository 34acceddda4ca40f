package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/ejacobg/graphdriver/pipeline"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(PipelineTestSuite))

func Test(t *testing.T) {
	gc.TestingT(t)
}

type PipelineTestSuite struct{}

func (s *PipelineTestSuite) TestDataFlow(c *gc.C) {
	stages := make([]pipeline.StageRunner, 4)
	for i := range stages {
		stages[i] = pipeline.FIFO(addOne())
	}

	src := &sourceStub{data: intPayloads(3)}
	sink := new(sinkStub)

	err := pipeline.New(stages...).Process(context.TODO(), src, sink)
	c.Assert(err, gc.IsNil)
	c.Assert(sink.values(), gc.DeepEquals, []int{4, 5, 6})
	c.Assert(src.processed(), gc.Equals, 3)
}

func (s *PipelineTestSuite) TestFixedWorkerPool(c *gc.C) {
	src := &sourceStub{data: intPayloads(50)}
	sink := new(sinkStub)

	err := pipeline.New(pipeline.FixedWorkerPool(addOne(), 8)).Process(context.TODO(), src, sink)
	c.Assert(err, gc.IsNil)

	got := sink.values()
	sort.Ints(got)
	c.Assert(got, gc.HasLen, 50)
	c.Assert(got[0], gc.Equals, 1)
	c.Assert(got[49], gc.Equals, 50)
}

func (s *PipelineTestSuite) TestDiscardedPayloads(c *gc.C) {
	dropOdd := pipeline.ProcessorFunc(func(_ context.Context, p pipeline.Payload) (pipeline.Payload, error) {
		if p.(*intPayload).val%2 == 1 {
			return nil, nil
		}
		return p, nil
	})

	src := &sourceStub{data: intPayloads(4)}
	sink := new(sinkStub)

	err := pipeline.New(pipeline.FIFO(dropOdd)).Process(context.TODO(), src, sink)
	c.Assert(err, gc.IsNil)
	c.Assert(sink.values(), gc.DeepEquals, []int{0, 2})
	c.Assert(src.processed(), gc.Equals, 4)
}

func (s *PipelineTestSuite) TestProcessorError(c *gc.C) {
	expErr := errors.New("some error")
	fail := pipeline.ProcessorFunc(func(context.Context, pipeline.Payload) (pipeline.Payload, error) {
		return nil, expErr
	})

	err := pipeline.New(pipeline.FIFO(fail)).Process(context.TODO(), &sourceStub{data: intPayloads(3)}, new(sinkStub))
	c.Assert(errors.Is(err, expErr), gc.Equals, true)
	c.Assert(err, gc.ErrorMatches, "(?s).*pipeline stage 0: some error.*")
}

func (s *PipelineTestSuite) TestSourceError(c *gc.C) {
	expErr := errors.New("source error")
	src := &sourceStub{data: intPayloads(2), err: expErr}

	err := pipeline.New(pipeline.FIFO(addOne())).Process(context.TODO(), src, new(sinkStub))
	c.Assert(errors.Is(err, expErr), gc.Equals, true)
}

func (s *PipelineTestSuite) TestSinkError(c *gc.C) {
	expErr := errors.New("sink error")

	err := pipeline.New(pipeline.FIFO(addOne())).Process(context.TODO(), &sourceStub{data: intPayloads(3)}, &sinkStub{err: expErr})
	c.Assert(errors.Is(err, expErr), gc.Equals, true)
}

func addOne() pipeline.Processor {
	return pipeline.ProcessorFunc(func(_ context.Context, p pipeline.Payload) (pipeline.Payload, error) {
		in := p.(*intPayload)
		return &intPayload{val: in.val + 1, done: in.done}, nil
	})
}

type intPayload struct {
	val  int
	done *counter
}

func (p *intPayload) String() string { return fmt.Sprint(p.val) }
func (p *intPayload) MarkAsProcessed() {
	if p.done != nil {
		p.done.inc()
	}
}

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func intPayloads(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

type sourceStub struct {
	index int
	data  []int
	err   error
	done  counter
}

func (s *sourceStub) Next(context.Context) bool {
	if s.index >= len(s.data) {
		return false
	}
	s.index++
	return true
}

func (s *sourceStub) Payload() pipeline.Payload {
	return &intPayload{val: s.data[s.index-1], done: &s.done}
}

func (s *sourceStub) Error() error   { return s.err }
func (s *sourceStub) processed() int { return s.done.get() }

type sinkStub struct {
	mu   sync.Mutex
	data []int
	err  error
}

func (s *sinkStub) Consume(_ context.Context, p pipeline.Payload) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.data = append(s.data, p.(*intPayload).val)
	s.mu.Unlock()
	return nil
}

func (s *sinkStub) values() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.data...)
}
