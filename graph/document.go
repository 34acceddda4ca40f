package graph

import (
	"fmt"
	"strings"

	"github.com/ejacobg/graphdriver/codec"
)

// Names of the metadata attributes the server maintains on every entity.
const (
	KeyField   = "_key"
	IDField    = "_id"
	RevField   = "_rev"
	FromField  = "_from"
	ToField    = "_to"
	LabelField = "$label"
)

// Document is a vertex (or the metadata part of an edge) as echoed by the
// server. The payload stays encoded until Decode is called.
type Document struct {
	// Key is unique within the entity's collection.
	Key string

	// ID is the collection-qualified handle (collection/key).
	ID string

	// Rev is the revision token assigned by the server on the last write.
	Rev string

	// Body holds the wire representation of the full entity, metadata
	// attributes included.
	Body []byte

	codec codec.Codec
}

// NewDocument wraps an encoded entity body. The metadata attributes are
// extracted from the body using the supplied codec.
func NewDocument(c codec.Codec, body []byte) (*Document, error) {
	var meta entityMeta
	if err := c.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("decode entity metadata: %w", err)
	}
	return &Document{Key: meta.Key, ID: meta.ID, Rev: meta.Rev, Body: body, codec: c}, nil
}

// Collection returns the collection part of the document handle.
func (d *Document) Collection() string {
	col, _, _ := SplitHandle(d.ID)
	return col
}

// Decode unmarshals the document payload into v.
func (d *Document) Decode(v interface{}) error {
	if d.codec == nil {
		return fmt.Errorf("decode %s: no codec attached", d.ID)
	}
	return d.codec.Unmarshal(d.Body, v)
}

// Edge is an edge entity: a document with origin and destination handles.
type Edge struct {
	Document

	// From is the handle of the origin vertex.
	From string

	// To is the handle of the destination vertex.
	To string

	// Label is the optional direction-relevant label of the edge.
	Label string
}

// NewEdge wraps an encoded edge body.
func NewEdge(c codec.Codec, body []byte) (*Edge, error) {
	var meta entityMeta
	if err := c.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("decode edge metadata: %w", err)
	}
	return &Edge{
		Document: Document{Key: meta.Key, ID: meta.ID, Rev: meta.Rev, Body: body, codec: c},
		From:     meta.From,
		To:       meta.To,
		Label:    meta.Label,
	}, nil
}

type entityMeta struct {
	Key   string `json:"_key" msgpack:"_key"`
	ID    string `json:"_id" msgpack:"_id"`
	Rev   string `json:"_rev" msgpack:"_rev"`
	From  string `json:"_from" msgpack:"_from"`
	To    string `json:"_to" msgpack:"_to"`
	Label string `json:"$label" msgpack:"$label"`
}

// Handle builds a collection-qualified key.
func Handle(collection, key string) string {
	return collection + "/" + key
}

// SplitHandle splits a collection-qualified key into its parts.
func SplitHandle(handle string) (collection, key string, err error) {
	idx := strings.IndexByte(handle, '/')
	if idx <= 0 || idx == len(handle)-1 || strings.Count(handle, "/") != 1 {
		return "", "", fmt.Errorf("%w: malformed handle %q", ErrInvalidArgument, handle)
	}
	return handle[:idx], handle[idx+1:], nil
}
