// Package api hosts the HTTP server, middleware, and REST handlers that stand
// in for the chat transport. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/messages to submit an inbound chat message.
//   - GET /v1/chats/{chat_id}/messages to read replies when they are kept in memory.
//   - /v1/admin/... for stats, bans and the promo line.
package api
