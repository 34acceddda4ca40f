package graph

// Direction restricts a traversal to edges leaving or entering the start
// vertex.
type Direction string

const (
	// Any follows edges in both directions.
	Any Direction = "any"

	// Outbound follows edges whose origin is the start vertex.
	Outbound Direction = "outbound"

	// Inbound follows edges whose destination is the start vertex.
	Inbound Direction = "inbound"
)

// Filter is a property condition applied by the server. The driver hands it
// over verbatim.
type Filter struct {
	Property string      `json:"property" msgpack:"property"`
	Operator string      `json:"operator" msgpack:"operator"`
	Value    interface{} `json:"value" msgpack:"value"`
}

// TraversalQuery selects the neighbours (or connecting edges) of a vertex.
type TraversalQuery struct {
	// StartVertex is the handle (collection/key) of the vertex to start
	// from.
	StartVertex string

	Direction Direction
	Labels    []string
	Filters   []Filter

	// BatchSize is a hint for the number of results per batch. The server
	// may return smaller or larger batches.
	BatchSize int

	// Limit caps the number of returned results. Zero means no limit.
	Limit int

	// Count asks the server to report the total number of results.
	Count bool
}
