// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz for health checks and GET /metrics for Prometheus scraping.
//   - POST /v1/crawl extracts a page; POST /v1/chatcrawl extracts and
//     classifies it, streaming the model output as chunked text/plain.
//   - /v1/results, /v1/settings and /v1/models expose stored records,
//     user settings and the provider catalog.
//   - /v1/batch starts, inspects and pauses the batch runner; /v1/runs
//     reports batch run history via the RunRepository interface.
package api
