package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/omniflow-labs/omniflow/internal/dispatch"
	"github.com/omniflow-labs/omniflow/internal/namespace"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(d *dispatch.Dispatcher, resolver *namespace.Resolver, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(d)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))
	r.Use(UserMiddleware(resolver))

	// Dispatch surfaces.
	r.Post("/tool_call_handler", h.ToolCall)
	r.Post("/tool_chain", h.ToolChain)

	// One route per tool.
	r.Post("/add_new_data", h.postTool("add_new_data"))
	r.Post("/get_filtered_data", h.postTool("get_filtered_data"))
	r.Post("/update_data_entry", h.postTool("update_data_entry"))
	r.Post("/remove_data_entry", h.postTool("remove_data_entry"))
	r.Post("/upload_data_or_file", h.postTool("upload_data_or_file"))
	r.Post("/read_many_blobs", h.postTool("read_many_blobs"))
	r.Post("/manage_files", h.postTool("manage_files"))
	r.Post("/save_interaction", h.postTool("save_interaction"))
	r.Post("/proxy", h.postTool("proxy"))
	r.Get("/read_blob_file", h.ReadBlobFile)
	r.Get("/list_blobs", h.ListBlobs)
	r.Get("/get_interaction_history", h.GetInteractionHistory)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
