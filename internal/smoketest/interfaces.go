package smoketest

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"github.com/snapetech/tvcollector/internal/probe"
)

// Prober checks one URL. *probe.Checker is the production implementation.
type Prober interface {
	Check(ctx context.Context, rawURL string) probe.Result
}
