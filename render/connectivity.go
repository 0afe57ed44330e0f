package render

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/docforge/connectivity"
	"github.com/hazyhaar/docforge/docpipe"
	"github.com/hazyhaar/docforge/sanitize"
)

// RegisterConnectivity registers the renderer on a connectivity Router.
//
// Registered services:
//
//	render_serialize — sanitize markup and serialize it into a .docx package
func (r *Renderer) RegisterConnectivity(router *connectivity.Router) {
	router.RegisterLocal("render_serialize", r.handleSerialize)
}

type serializeReq struct {
	Markup   string                    `json:"markup"`
	Template *docpipe.DocumentTemplate `json:"template,omitempty"`
}

func (r *Renderer) handleSerialize(_ context.Context, payload []byte) ([]byte, error) {
	var req serializeReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return json.Marshal(r.Render(sanitize.Sanitize(req.Markup), req.Template))
}
