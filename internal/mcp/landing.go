package mcp

import "net/http"

const landingHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Docsearch MCP Server</title>
<style>
  *, *::before, *::after { box-sizing: border-box; margin: 0; padding: 0; }
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; background: #111827; color: #e5e7eb; min-height: 100vh; display: flex; align-items: center; justify-content: center; }
  .card { max-width: 640px; width: 90%; background: #1f2937; border-radius: 10px; padding: 2.25rem; }
  h1 { font-size: 1.6rem; margin-bottom: 0.5rem; color: #f9fafb; }
  .subtitle { color: #9ca3af; margin-bottom: 1.5rem; }
  .section { margin-bottom: 1.25rem; }
  .section-title { font-size: 0.75rem; text-transform: uppercase; letter-spacing: 0.08em; color: #6b7280; margin-bottom: 0.5rem; }
  pre { background: #111827; border: 1px solid #374151; border-radius: 6px; padding: 0.9rem; overflow-x: auto; font-size: 0.85rem; }
  code, .endpoint { font-family: "SF Mono", Menlo, monospace; }
  .endpoint { color: #93c5fd; }
  li { list-style: none; margin-bottom: 0.35rem; }
</style>
</head>
<body>
<div class="card">
  <h1>Docsearch MCP Server</h1>
  <p class="subtitle">Hybrid keyword and semantic search over versioned library documentation.</p>

  <div class="section">
    <div class="section-title">Connect an MCP client</div>
    <pre><code>Authorization: Bearer dmcp_...
POST /mcp  (Streamable HTTP)</code></pre>
  </div>

  <div class="section">
    <div class="section-title">Endpoints</div>
    <ul>
      <li><span class="endpoint">/mcp</span> MCP tools: search_docs, fetch_doc, list_docs, get_index_status</li>
      <li><span class="endpoint">/api/v1/search</span> hybrid search (GET or POST)</li>
      <li><span class="endpoint">/api/v1/libraries</span> libraries and versions</li>
      <li><span class="endpoint">/api/v1/versions/{id}/syncs</span> sync history of a version</li>
      <li><span class="endpoint">/health</span> health check, no key required</li>
    </ul>
  </div>
</div>
</body>
</html>`

// NewLandingHandler returns an HTTP handler that serves the landing page at /.
func NewLandingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(landingHTML))
	}
}
