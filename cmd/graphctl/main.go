package main

import (
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/ejacobg/graphdriver/cdb"
	"github.com/ejacobg/graphdriver/codec"
	"github.com/ejacobg/graphdriver/driver"
	"github.com/ejacobg/graphdriver/inmem"
	"github.com/ejacobg/graphdriver/transport"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var (
	appName = "graphctl"
	appSha  = "populated-at-link-time"
)

func main() {
	host, _ := os.Hostname()
	rootLogger := logrus.New()
	rootLogger.Out = os.Stderr
	logger := rootLogger.WithFields(logrus.Fields{
		"app":  appName,
		"sha":  appSha,
		"host": host,
	})

	app := cli.NewApp()
	app.Name = appName
	app.Usage = "Inspect and edit named graphs"
	app.Version = appSha
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "executor-uri",
			Value:  "in-memory://",
			EnvVar: "GRAPHCTL_EXECUTOR_URI",
			Usage:  "The URI for connecting to the graph store (supported URIs: in-memory://, postgresql://user@host:26257/graphs?sslmode=disable)",
		},
		cli.StringFlag{
			Name:  "database, db",
			Value: "_system",
			Usage: "The database holding the graphs",
		},
		cli.StringFlag{
			Name:  "codec",
			Value: "json",
			Usage: "The payload codec (json or msgpack)",
		},
		cli.IntFlag{
			Name:  "batch-size",
			Value: 100,
			Usage: "The default number of traversal results fetched per batch",
		},
		cli.BoolFlag{
			Name:  "verbose",
			Usage: "Enable debug logging",
		},
	}
	app.Before = func(c *cli.Context) error {
		if c.GlobalBool("verbose") {
			rootLogger.SetLevel(logrus.DebugLevel)
		}
		return nil
	}
	app.Commands = commands(logger)

	if err := app.Run(os.Args); err != nil {
		logger.WithField("err", err).Error("command failed")
		os.Exit(1)
	}
}

// session bundles the driver with the resources it holds.
type session struct {
	*driver.Driver
	db     string
	closer io.Closer
}

func (s *session) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func openSession(c *cli.Context, logger *logrus.Entry) (*session, error) {
	cd, err := codec.ByName(c.GlobalString("codec"))
	if err != nil {
		return nil, err
	}

	exec, closer, err := getExecutor(c.GlobalString("executor-uri"), cd, logger)
	if err != nil {
		return nil, err
	}

	d, err := driver.New(driver.Config{
		Executor:  exec,
		Codec:     cd,
		BatchSize: c.GlobalInt("batch-size"),
		Logger:    logger.WithField("component", "driver"),
	})
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}
	return &session{Driver: d, db: c.GlobalString("database"), closer: closer}, nil
}

func getExecutor(executorURI string, cd codec.Codec, logger *logrus.Entry) (transport.Executor, io.Closer, error) {
	if executorURI == "" {
		return nil, nil, fmt.Errorf("executor URI must be specified with --executor-uri")
	}

	uri, err := url.Parse(executorURI)
	if err != nil {
		return nil, nil, fmt.Errorf("could not parse executor URI: %w", err)
	}

	switch uri.Scheme {
	case "in-memory":
		logger.Info("using in-memory executor")
		return inmem.NewExecutor(inmem.Config{Codec: cd}), nil, nil
	case "postgresql":
		logger.Info("using CDB executor")
		ex, err := cdb.NewExecutor(executorURI, cd)
		if err != nil {
			return nil, nil, err
		}
		return ex, ex, nil
	default:
		return nil, nil, fmt.Errorf("unsupported executor URI scheme: %q", uri.Scheme)
	}
}
