package vecbridge

import (
	"context"
	"encoding/json"

	"github.com/hazyhaar/docforge/connectivity"
)

// RegisterConnectivity registers index handlers on a connectivity Router.
//
// Registered services:
//
//	vecbridge_stats — index size and rebuild hint
func (x *Index) RegisterConnectivity(router *connectivity.Router) {
	router.RegisterLocal("vecbridge_stats", func(_ context.Context, _ []byte) ([]byte, error) {
		return json.Marshal(x.Stats())
	})
}
