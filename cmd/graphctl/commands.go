package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ejacobg/graphdriver/graph"
	"github.com/ejacobg/graphdriver/loader"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

// action wraps a command body with session setup and teardown.
func action(logger *logrus.Entry, minArgs int, fn func(ctx context.Context, c *cli.Context, s *session) error) func(*cli.Context) error {
	return func(c *cli.Context) error {
		if c.NArg() < minArgs {
			return cli.NewExitError(fmt.Sprintf("%s: expected %d argument(s): %s", c.Command.Name, minArgs, c.Command.ArgsUsage), 2)
		}

		s, err := openSession(c, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := s.Close(); err != nil {
				logger.WithField("err", err).Warn("failed to close executor")
			}
		}()
		return fn(context.Background(), c, s)
	}
}

func commands(logger *logrus.Entry) []cli.Command {
	return []cli.Command{
		{
			Name:  "graphs",
			Usage: "List the graphs of the database",
			Action: action(logger, 0, func(ctx context.Context, c *cli.Context, s *session) error {
				graphs, err := s.Graphs(ctx, s.db)
				if err != nil {
					return err
				}
				return printJSON(graphs)
			}),
		},
		{
			Name:      "graph",
			Usage:     "Show a graph",
			ArgsUsage: "GRAPH",
			Action: action(logger, 1, func(ctx context.Context, c *cli.Context, s *session) error {
				g, err := s.Graph(ctx, s.db, c.Args().Get(0))
				if err != nil {
					return err
				}
				return printJSON(g)
			}),
		},
		{
			Name:      "create-graph",
			Usage:     "Create a graph",
			ArgsUsage: "GRAPH",
			Flags: []cli.Flag{
				cli.StringSliceFlag{Name: "edge", Usage: "An edge definition as COLLECTION:FROM[,FROM...]:TO[,TO...] (repeatable)"},
				cli.StringSliceFlag{Name: "orphan", Usage: "An orphan vertex collection (repeatable)"},
				cli.BoolFlag{Name: "wait-for-sync", Usage: "Wait until the graph is persisted"},
			},
			Action: action(logger, 1, func(ctx context.Context, c *cli.Context, s *session) error {
				defs, err := parseEdgeDefinitions(c.StringSlice("edge"))
				if err != nil {
					return err
				}
				g, err := s.CreateGraph(ctx, s.db, c.Args().Get(0), defs, c.StringSlice("orphan"), c.Bool("wait-for-sync"))
				if err != nil {
					return err
				}
				return printJSON(g)
			}),
		},
		{
			Name:      "delete-graph",
			Usage:     "Delete a graph",
			ArgsUsage: "GRAPH",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "drop", Usage: "Drop the collections no other graph uses"},
			},
			Action: action(logger, 1, func(ctx context.Context, c *cli.Context, s *session) error {
				report, err := s.DeleteGraph(ctx, s.db, c.Args().Get(0), c.Bool("drop"))
				if err != nil {
					return err
				}
				return printReport(report)
			}),
		},
		{
			Name:      "add-edge-definition",
			Usage:     "Add an edge definition to a graph",
			ArgsUsage: "GRAPH COLLECTION:FROM[,FROM...]:TO[,TO...]",
			Action: action(logger, 2, func(ctx context.Context, c *cli.Context, s *session) error {
				def, err := parseEdgeDefinition(c.Args().Get(1))
				if err != nil {
					return err
				}
				g, err := s.CreateEdgeDefinition(ctx, s.db, c.Args().Get(0), def)
				if err != nil {
					return err
				}
				return printJSON(g)
			}),
		},
		{
			Name:      "replace-edge-definition",
			Usage:     "Replace an edge definition in every graph using it",
			ArgsUsage: "GRAPH COLLECTION:FROM[,FROM...]:TO[,TO...]",
			Action: action(logger, 2, func(ctx context.Context, c *cli.Context, s *session) error {
				def, err := parseEdgeDefinition(c.Args().Get(1))
				if err != nil {
					return err
				}
				g, err := s.ReplaceEdgeDefinition(ctx, s.db, c.Args().Get(0), def.Collection, def)
				if err != nil {
					return err
				}
				return printJSON(g)
			}),
		},
		{
			Name:      "remove-edge-definition",
			Usage:     "Remove an edge definition from a graph",
			ArgsUsage: "GRAPH COLLECTION",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "drop", Usage: "Drop the edge collection unless another graph uses it"},
			},
			Action: action(logger, 2, func(ctx context.Context, c *cli.Context, s *session) error {
				report, err := s.DeleteEdgeDefinition(ctx, s.db, c.Args().Get(0), c.Args().Get(1), c.Bool("drop"))
				if err != nil {
					return err
				}
				return printReport(report)
			}),
		},
		{
			Name:      "create-vertex",
			Usage:     "Store a vertex",
			ArgsUsage: "GRAPH COLLECTION JSON",
			Action: action(logger, 3, func(ctx context.Context, c *cli.Context, s *session) error {
				var attrs map[string]interface{}
				if err := json.Unmarshal([]byte(c.Args().Get(2)), &attrs); err != nil {
					return fmt.Errorf("invalid vertex payload: %w", err)
				}
				doc, err := s.CreateVertex(ctx, s.db, c.Args().Get(0), c.Args().Get(1), attrs, true)
				if err != nil {
					return err
				}
				return printDocument(doc)
			}),
		},
		{
			Name:      "import",
			Usage:     "Bulk-import vertices and edges from a JSON lines file",
			ArgsUsage: "GRAPH FILE",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "workers", Value: 4, Usage: "The number of concurrent writers"},
				cli.BoolFlag{Name: "wait-for-sync", Usage: "Wait until each entity is persisted"},
			},
			Action: action(logger, 2, func(ctx context.Context, c *cli.Context, s *session) error {
				f, err := os.Open(c.Args().Get(1))
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()

				l, err := loader.New(loader.Config{
					Driver:      s.Driver,
					Database:    s.db,
					Graph:       c.Args().Get(0),
					Workers:     c.Int("workers"),
					WaitForSync: c.Bool("wait-for-sync"),
					Logger:      logger.WithField("component", "loader"),
				})
				if err != nil {
					return err
				}
				stats, err := l.Load(ctx, f)
				logger.WithFields(logrus.Fields{
					"vertices": stats.Vertices,
					"edges":    stats.Edges,
				}).Info("import finished")
				return err
			}),
		},
		{
			Name:      "vertices",
			Usage:     "List the neighbours of a vertex",
			ArgsUsage: "GRAPH START_VERTEX",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "direction", Value: string(graph.Any), Usage: "any, outbound or inbound"},
				cli.StringSliceFlag{Name: "label", Usage: "Only follow edges with this label (repeatable)"},
				cli.IntFlag{Name: "limit", Usage: "The maximum number of vertices to return"},
				cli.BoolFlag{Name: "count", Usage: "Report the total number of neighbours"},
			},
			Action: action(logger, 2, func(ctx context.Context, c *cli.Context, s *session) error {
				it, err := s.VertexResultSet(ctx, s.db, c.Args().Get(0), graph.TraversalQuery{
					StartVertex: c.Args().Get(1),
					Direction:   graph.Direction(c.String("direction")),
					Labels:      c.StringSlice("label"),
					Limit:       c.Int("limit"),
					Count:       c.Bool("count"),
				})
				if err != nil {
					return err
				}
				defer func() { _ = it.Close() }()

				if n, ok := it.Count(); ok {
					logger.WithField("count", n).Info("traversal result count")
				}
				for it.Next(ctx) {
					if err = printDocument(it.Vertex()); err != nil {
						return err
					}
				}
				return it.Error()
			}),
		},
	}
}

// parseEdgeDefinition parses COLLECTION:FROM[,FROM...]:TO[,TO...].
func parseEdgeDefinition(spec string) (graph.EdgeDefinition, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return graph.EdgeDefinition{}, fmt.Errorf("malformed edge definition %q; expected COLLECTION:FROM:TO", spec)
	}
	return graph.EdgeDefinition{
		Collection: parts[0],
		From:       strings.Split(parts[1], ","),
		To:         strings.Split(parts[2], ","),
	}, nil
}

func parseEdgeDefinitions(specs []string) ([]graph.EdgeDefinition, error) {
	defs := make([]graph.EdgeDefinition, 0, len(specs))
	for _, spec := range specs {
		def, err := parseEdgeDefinition(spec)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printDocument(doc *graph.Document) error {
	var attrs map[string]interface{}
	if err := doc.Decode(&attrs); err != nil {
		return err
	}
	return printJSON(attrs)
}

func printReport(report *graph.DropReport) error {
	out := struct {
		Dropped  []string          `json:"dropped"`
		Retained map[string]string `json:"retained,omitempty"`
		Failed   map[string]string `json:"failed,omitempty"`
	}{
		Dropped:  report.Dropped,
		Retained: make(map[string]string),
		Failed:   make(map[string]string),
	}
	for _, ret := range report.Retained {
		out.Retained[ret.Collection] = ret.Reason.Error()
	}
	for name, err := range report.Failed {
		out.Failed[name] = err.Error()
	}
	return printJSON(out)
}
