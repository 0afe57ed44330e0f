package horosembed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/docforge/connectivity"
)

// RegisterConnectivity registers embedding handlers on a connectivity Router.
//
// Registered services:
//
//	horosembed_embed — embed one text, or a batch when "texts" is set
func RegisterConnectivity(router *connectivity.Router, emb Embedder) {
	router.RegisterLocal("horosembed_embed", func(ctx context.Context, payload []byte) ([]byte, error) {
		var req embedReq
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		resp, err := embed(ctx, emb, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	})
}

type embedReq struct {
	Text  string   `json:"text,omitempty"`
	Texts []string `json:"texts,omitempty"`
}

type embedResp struct {
	Vectors   [][]float32 `json:"vectors"`
	Dimension int         `json:"dimension"`
	Model     string      `json:"model"`
}

func embed(ctx context.Context, emb Embedder, req embedReq) (*embedResp, error) {
	texts := req.Texts
	if len(texts) == 0 {
		if req.Text == "" {
			return nil, fmt.Errorf("text or texts is required")
		}
		texts = []string{req.Text}
	}
	vecs, err := emb.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	return &embedResp{Vectors: vecs, Dimension: emb.Dimension(), Model: emb.Model()}, nil
}
