// Package artifact stores immutable, content-addressed result blobs produced
// by stage nodes (partial results, final aggregated results), msgpack-encoded
// per spec.md's columnar artifact format, with a path template matching
// spec.md's <base>/<tenant>/<request>/<subgraph>/<node>/<version>/part-NNNNN.<ext>.
package artifact

import (
	"context"
	"fmt"
)

// Ref identifies one stored artifact part, the Go representation of
// spec.md's ResultArtifactRef entity.
type Ref struct {
	Tenant    string
	Request   string
	Subgraph  string
	Node      string
	Version   int
	Part      int
	Ext       string
	SizeBytes int64
}

// Path renders ref's location using spec.md's path template.
func (r Ref) Path() string {
	return fmt.Sprintf("%s/%s/%s/%s/%d/part-%05d.%s",
		r.Tenant, r.Request, r.Subgraph, r.Node, r.Version, r.Part, r.Ext)
}

// Store persists and retrieves artifact blobs. Additional backends (object
// storage, data lakes) are modeled purely as further Store implementations;
// none beyond localfs ships here since no pack example grounds a concrete
// object-storage SDK choice (see DESIGN.md).
type Store interface {
	Put(ctx context.Context, ref Ref, data []byte) error
	Get(ctx context.Context, ref Ref) ([]byte, error)
	Delete(ctx context.Context, ref Ref) error
	Exists(ctx context.Context, ref Ref) (bool, error)
}
