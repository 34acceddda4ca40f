// Package driver provides the graph.Driver facade. It composes the revision
// guard, the schema registry and the cursor engine and delegates raw I/O to
// a transport executor.
package driver

import (
	"context"
	"io/ioutil"
	"time"

	"github.com/ejacobg/graphdriver/codec"
	"github.com/ejacobg/graphdriver/graph"
	"github.com/ejacobg/graphdriver/schema"
	"github.com/ejacobg/graphdriver/transport"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Compile-time check for ensuring Driver implements graph.Driver.
var _ graph.Driver = (*Driver)(nil)

// Config encapsulates the settings for configuring the driver.
type Config struct {
	// The executor that carries requests to the server.
	Executor transport.Executor

	// The codec used for entity payloads. Defaults to codec.JSON. It must
	// match the codec of the executor.
	Codec codec.Codec

	// The batch size used for traversals that do not specify one.
	BatchSize int

	// The time allowed for releasing a server cursor when a result set is
	// closed.
	ReleaseTimeout time.Duration

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.Executor == nil {
		err = multierror.Append(err, xerrors.Errorf("transport executor has not been provided"))
	}
	if cfg.Codec == nil {
		cfg.Codec = codec.JSON
	}
	if cfg.BatchSize < 0 {
		err = multierror.Append(err, xerrors.Errorf("invalid value for batch size"))
	} else if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.Out = ioutil.Discard
		cfg.Logger = logrus.NewEntry(l)
	}
	return err
}

// Driver implements graph.Driver on top of a transport executor.
type Driver struct {
	cfg      Config
	exec     transport.Executor
	codec    codec.Codec
	registry *schema.Registry
	logger   *logrus.Entry
}

// New creates a driver with the specified config.
func New(cfg Config) (*Driver, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("driver: config validation failed: %w", err)
	}

	d := &Driver{
		cfg:    cfg,
		exec:   cfg.Executor,
		codec:  cfg.Codec,
		logger: cfg.Logger,
	}
	d.registry = schema.NewRegistry(&remote{exec: d.exec, codec: d.codec}, cfg.Logger.WithField("component", "schema"))
	return d, nil
}

// CreateGraph creates a graph with the given edge definitions and orphan
// collections.
func (d *Driver) CreateGraph(ctx context.Context, db, name string, defs []graph.EdgeDefinition, orphans []string, waitForSync bool) (*graph.Graph, error) {
	if err := requireNames("create graph", db, name); err != nil {
		return nil, err
	}
	return d.registry.CreateGraph(ctx, &graph.Graph{
		Database:          db,
		Name:              name,
		EdgeDefinitions:   defs,
		OrphanCollections: orphans,
	}, waitForSync)
}

// Graphs returns every graph of the database.
func (d *Driver) Graphs(ctx context.Context, db string) ([]*graph.Graph, error) {
	if err := requireNames("list graphs", db); err != nil {
		return nil, err
	}
	return d.registry.Graphs(ctx, db)
}

// GraphNames returns the names of every graph of the database.
func (d *Driver) GraphNames(ctx context.Context, db string) ([]string, error) {
	if err := requireNames("list graphs", db); err != nil {
		return nil, err
	}
	return d.registry.GraphNames(ctx, db)
}

// Graph looks up a graph by name.
func (d *Driver) Graph(ctx context.Context, db, name string) (*graph.Graph, error) {
	if err := requireNames("get graph", db, name); err != nil {
		return nil, err
	}
	return d.registry.Graph(ctx, db, name)
}

// DeleteGraph deletes a graph and optionally drops its unshared
// collections.
func (d *Driver) DeleteGraph(ctx context.Context, db, name string, dropCollections bool) (*graph.DropReport, error) {
	if err := requireNames("delete graph", db, name); err != nil {
		return nil, err
	}
	return d.registry.DeleteGraph(ctx, db, name, dropCollections)
}

// VertexCollections lists the vertex collections of a graph.
func (d *Driver) VertexCollections(ctx context.Context, db, graphName string) ([]string, error) {
	if err := requireNames("vertex collections", db, graphName); err != nil {
		return nil, err
	}
	return d.registry.VertexCollections(ctx, db, graphName)
}

// CreateVertexCollection adds an orphan vertex collection to a graph.
func (d *Driver) CreateVertexCollection(ctx context.Context, db, graphName, collection string) (*graph.Graph, error) {
	if err := requireNames("create vertex collection", db, graphName, collection); err != nil {
		return nil, err
	}
	return d.registry.CreateVertexCollection(ctx, db, graphName, collection)
}

// DeleteVertexCollection removes a vertex collection from a graph.
func (d *Driver) DeleteVertexCollection(ctx context.Context, db, graphName, collection string, dropCollection bool) (*graph.DropReport, error) {
	if err := requireNames("delete vertex collection", db, graphName, collection); err != nil {
		return nil, err
	}
	return d.registry.DeleteVertexCollection(ctx, db, graphName, collection, dropCollection)
}

// EdgeCollections lists the edge collections of a graph.
func (d *Driver) EdgeCollections(ctx context.Context, db, graphName string) ([]string, error) {
	if err := requireNames("edge collections", db, graphName); err != nil {
		return nil, err
	}
	return d.registry.EdgeCollections(ctx, db, graphName)
}

// CreateEdgeDefinition adds an edge definition to a graph.
func (d *Driver) CreateEdgeDefinition(ctx context.Context, db, graphName string, def graph.EdgeDefinition) (*graph.Graph, error) {
	if err := requireNames("create edge definition", db, graphName, def.Collection); err != nil {
		return nil, err
	}
	return d.registry.CreateEdgeDefinition(ctx, db, graphName, def)
}

// ReplaceEdgeDefinition replaces the named edge definition in every graph
// using it.
func (d *Driver) ReplaceEdgeDefinition(ctx context.Context, db, graphName, name string, def graph.EdgeDefinition) (*graph.Graph, error) {
	if err := requireNames("replace edge definition", db, graphName, name); err != nil {
		return nil, err
	}
	return d.registry.ReplaceEdgeDefinition(ctx, db, graphName, name, def)
}

// DeleteEdgeDefinition removes an edge definition from a graph.
func (d *Driver) DeleteEdgeDefinition(ctx context.Context, db, graphName, name string, dropCollection bool) (*graph.DropReport, error) {
	if err := requireNames("delete edge definition", db, graphName, name); err != nil {
		return nil, err
	}
	return d.registry.DeleteEdgeDefinition(ctx, db, graphName, name, dropCollection)
}
