// Package assembly turns a received payload into usable offline content.
// Each asset kind has an Assembler; the transfer task invokes it once the
// bytes are on disk.
package assembly

import (
	"context"

	"github.com/shelfdapp/shelfd/internal/data"
)

// Assembler performs post-transfer content assembly for one asset kind.
// Assemble returns the final content location. A returned error fails the
// whole transfer; best-effort enrichment steps inside an assembler must
// swallow their own failures.
type Assembler interface {
	Assemble(ctx context.Context, u *data.Unit, payload string) (string, error)
}
