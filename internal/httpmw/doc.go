// Package httpmw holds the HTTP middleware for the public listener.
//
// httpserver composes them outermost first: recover, security headers,
// request id, client ip, otel, logger, access log, metrics, then the chi
// router. Each one stands alone so it can be tested or dropped by itself.
//
// Form fields, query strings and user agents never reach the logs.
package httpmw
