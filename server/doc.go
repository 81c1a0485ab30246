// Package server exposes a cache store and request executor over HTTP.
//
// Routes under /api/v1 pass through auth.Middleware:
//
//	GET    /api/v1/stats
//	GET    /api/v1/keys
//	GET    /api/v1/cache/{key}
//	PUT    /api/v1/cache/{key}?ttl=90s&tag=a&tag=b
//	DELETE /api/v1/cache/{key}
//	DELETE /api/v1/cache
//	POST   /api/v1/cache/invalidate   {"tags": ["a"]}
//	POST   /api/v1/cache/cleanup
//	GET    /api/v1/fetch?resource=/path&ttl=5m&timeout=2s&retries=1
//	DELETE /api/v1/requests
//
// Health probes and /metrics are registered outside /api and are not
// authenticated.
package server
