package main

import (
	"io/ioutil"
	"testing"

	"github.com/ejacobg/graphdriver/graph"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
)

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.Out = ioutil.Discard
	return logrus.NewEntry(l)
}

func TestParseEdgeDefinition(t *testing.T) {
	def, err := parseEdgeDefinition("knows:person,bot:person")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := graph.EdgeDefinition{Collection: "knows", From: []string{"person", "bot"}, To: []string{"person"}}
	if diff := cmp.Diff(want, def); diff != "" {
		t.Errorf("unexpected definition (-want +got):\n%s", diff)
	}

	for _, spec := range []string{"", "knows", "knows:person", "knows::person", ":a:b", "a:b:c:d"} {
		if _, err := parseEdgeDefinition(spec); err == nil {
			t.Errorf("expected %q to be rejected", spec)
		}
	}
}

func TestGetExecutor(t *testing.T) {
	if _, _, err := getExecutor("", nil, discardLogger()); err == nil {
		t.Errorf("expected an empty URI to be rejected")
	}
	if _, _, err := getExecutor("bolt://localhost", nil, discardLogger()); err == nil {
		t.Errorf("expected an unsupported scheme to be rejected")
	}

	exec, closer, err := getExecutor("in-memory://", nil, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec == nil || closer != nil {
		t.Errorf("expected an in-memory executor without a closer")
	}
}
