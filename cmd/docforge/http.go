package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docforge/blobstore"
	"github.com/hazyhaar/docforge/connectivity"
	"github.com/hazyhaar/docforge/docpipe"
	"github.com/hazyhaar/docforge/draft"
	"github.com/hazyhaar/docforge/horosafe"
	"github.com/hazyhaar/docforge/retrieval"
	"github.com/hazyhaar/docforge/shield"
)

const docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// handler builds the HTTP API:
//
//	GET  /health
//	POST /v1/ingest              body: .docx package, or ?key=<blob key>
//	GET  /v1/documents/{fp}      document info
//	POST /v1/drafts              body: draft.DraftRequest JSON, answers the .docx
//	GET  /v1/drafts/{id}         download a stored draft
//	POST /v1/call/{service}      connectivity router dispatch
//	/mcp                         MCP streamable HTTP
func (a *app) handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(a.cfg.HTTP) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version})
	})

	r.Post("/v1/ingest", a.httpIngest)
	r.Get("/v1/documents/{fp}", a.httpDocument)
	r.Post("/v1/drafts", a.httpDraft)
	r.Get("/v1/drafts/{id}", a.httpDraftDownload)
	r.Post("/v1/call/{service}", a.httpCall)

	srv := a.mcpServer()
	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil))

	return r
}

func (a *app) httpIngest(w http.ResponseWriter, r *http.Request) {
	var (
		res *ingestResult
		err error
	)
	if key := r.URL.Query().Get("key"); key != "" {
		res, err = a.ingestKey(r.Context(), key)
	} else {
		var data []byte
		data, err = io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		res, err = a.ingestBytes(r.Context(), data)
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *app) httpDocument(w http.ResponseWriter, r *http.Request) {
	info, err := a.store.Document(r.Context(), chi.URLParam(r, "fp"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *app) httpDraft(w http.ResponseWriter, r *http.Request) {
	var req draft.DraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	d, err := a.drafts.Draft(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", docxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+d.ID+`.docx"`)
	w.Header().Set("X-Draft-ID", d.ID)
	w.Header().Set("X-Draft-Degraded", strconv.FormatBool(d.Degraded))
	w.WriteHeader(http.StatusOK)
	w.Write(d.PackageBytes)
}

func (a *app) httpDraftDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, err := a.blobs.Get(r.Context(), a.drafts.BlobKey(id))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", docxContentType)
	w.Write(data)
}

func (a *app) httpCall(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	resp, err := a.router.Call(r.Context(), chi.URLParam(r, "service"), payload)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(resp)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var notFound *connectivity.ErrServiceNotFound
	switch {
	case errors.Is(err, retrieval.ErrNotFound), errors.Is(err, blobstore.ErrNotFound), errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, docpipe.ErrMalformedPackage), errors.Is(err, draft.ErrEmptyPrompt),
		errors.Is(err, horosafe.ErrPathTraversal), errors.Is(err, horosafe.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, draft.ErrExternalService):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
