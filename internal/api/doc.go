// Package api hosts the HTTP server, middleware, and REST handlers of the
// reference plugin backend. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/v1/plugin/{plugin}/{toggle_spider,reset_config,
//     reset_all_config,add_tag,remove_tag} for console mutations.
//   - GET /api/v1/plugin/{plugin}/{status,history} for the status panel.
//   - GET/PUT /api/v1/plugin/{plugin}/config for the whole document.
package api
