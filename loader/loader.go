// Package loader bulk-imports vertices and edges into a named graph.
//
// The input is a stream of JSON records, conventionally one per line:
//
//	{"kind":"vertex","collection":"person","key":"alice","data":{"age":30}}
//	{"kind":"edge","collection":"knows","from":"person/alice","to":"person/bob"}
//
// Vertices are stored before any edge so that edge endpoints resolve
// regardless of their position in the input.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"sync/atomic"

	"github.com/ejacobg/graphdriver/graph"
	"github.com/ejacobg/graphdriver/pipeline"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Record kinds.
const (
	KindVertex = "vertex"
	KindEdge   = "edge"
)

// Record describes a single entity to import.
type Record struct {
	Kind       string                 `json:"kind"`
	Collection string                 `json:"collection"`
	Key        string                 `json:"key,omitempty"`
	From       string                 `json:"from,omitempty"`
	To         string                 `json:"to,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`

	seq int
}

// MarkAsProcessed implements pipeline.Payload.
func (*Record) MarkAsProcessed() {}

// Config encapsulates the settings for configuring a Loader.
type Config struct {
	// The driver used for storing entities.
	Driver graph.Driver

	// The database and graph receiving the entities.
	Database string
	Graph    string

	// The number of concurrent writers.
	Workers int

	// Whether each write waits until it is persisted.
	WaitForSync bool

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.Driver == nil {
		err = multierror.Append(err, xerrors.Errorf("graph driver has not been provided"))
	}
	if cfg.Graph == "" {
		err = multierror.Append(err, xerrors.Errorf("target graph has not been specified"))
	}
	if cfg.Workers < 0 {
		err = multierror.Append(err, xerrors.Errorf("invalid value for workers"))
	} else if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.Out = ioutil.Discard
		cfg.Logger = logrus.NewEntry(l)
	}
	return err
}

// Stats summarizes a completed import.
type Stats struct {
	Vertices int64
	Edges    int64
}

// Loader imports record streams into a graph.
type Loader struct {
	cfg Config
}

// New returns a Loader using the supplied config.
func New(cfg Config) (*Loader, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("loader: config validation failed: %w", err)
	}
	return &Loader{cfg: cfg}, nil
}

// Load reads every record from r and stores it. Errors name the failing
// record by its position in the stream. Malformed input is rejected before
// anything is written. The first failed write aborts the
// import; the returned stats count what was stored until then.
func (l *Loader) Load(ctx context.Context, r io.Reader) (Stats, error) {
	var stats Stats
	vertices, edges, err := readRecords(r)
	if err != nil {
		return stats, err
	}

	sink := new(countingSink)
	pass := pipeline.New(pipeline.FixedWorkerPool(pipeline.ProcessorFunc(l.store), l.cfg.Workers))

	err = pass.Process(ctx, &recordSource{records: vertices}, sink)
	stats.Vertices = atomic.LoadInt64(&sink.count)
	if err != nil {
		return stats, xerrors.Errorf("import vertices: %w", err)
	}
	l.cfg.Logger.WithField("count", stats.Vertices).Debug("imported vertices")

	sink = new(countingSink)
	err = pass.Process(ctx, &recordSource{records: edges}, sink)
	stats.Edges = atomic.LoadInt64(&sink.count)
	if err != nil {
		return stats, xerrors.Errorf("import edges: %w", err)
	}
	l.cfg.Logger.WithField("count", stats.Edges).Debug("imported edges")
	return stats, nil
}

func (l *Loader) store(ctx context.Context, p pipeline.Payload) (pipeline.Payload, error) {
	rec := p.(*Record)
	switch rec.Kind {
	case KindVertex:
		attrs := make(map[string]interface{}, len(rec.Data)+1)
		for k, v := range rec.Data {
			attrs[k] = v
		}
		if rec.Key != "" {
			attrs[graph.KeyField] = rec.Key
		}
		if _, err := l.cfg.Driver.CreateVertex(ctx, l.cfg.Database, l.cfg.Graph, rec.Collection, attrs, l.cfg.WaitForSync); err != nil {
			return nil, fmt.Errorf("record %d: %w", rec.seq, err)
		}
	default:
		if _, err := l.cfg.Driver.CreateEdge(ctx, l.cfg.Database, l.cfg.Graph, rec.Collection, rec.Key, rec.From, rec.To, rec.Data, l.cfg.WaitForSync); err != nil {
			return nil, fmt.Errorf("record %d: %w", rec.seq, err)
		}
	}
	return rec, nil
}

// readRecords decodes the whole stream and splits it by kind.
func readRecords(r io.Reader) (vertices, edges []*Record, err error) {
	dec := json.NewDecoder(r)
	for seq := 1; ; seq++ {
		rec := &Record{seq: seq}
		if err = dec.Decode(rec); err == io.EOF {
			return vertices, edges, nil
		} else if err != nil {
			return nil, nil, xerrors.Errorf("record %d: %w", seq, err)
		}

		if rec.Collection == "" {
			return nil, nil, xerrors.Errorf("record %d: missing collection: %w", seq, graph.ErrInvalidArgument)
		}
		switch rec.Kind {
		case KindVertex:
			vertices = append(vertices, rec)
		case KindEdge:
			if rec.From == "" || rec.To == "" {
				return nil, nil, xerrors.Errorf("record %d: edge without endpoints: %w", seq, graph.ErrInvalidArgument)
			}
			edges = append(edges, rec)
		default:
			return nil, nil, xerrors.Errorf("record %d: unknown kind %q: %w", seq, rec.Kind, graph.ErrInvalidArgument)
		}
	}
}

type recordSource struct {
	records []*Record
	cur     *Record
}

func (s *recordSource) Next(context.Context) bool {
	if len(s.records) == 0 {
		return false
	}
	s.cur, s.records = s.records[0], s.records[1:]
	return true
}

func (s *recordSource) Payload() pipeline.Payload { return s.cur }
func (s *recordSource) Error() error              { return nil }

type countingSink struct {
	count int64
}

func (s *countingSink) Consume(context.Context, pipeline.Payload) error {
	atomic.AddInt64(&s.count, 1)
	return nil
}
