package httpmw

import "net/http"

// Middleware is the standard net/http decorator shape
type Middleware = func(http.Handler) http.Handler

// Chain wraps h so mws[0] runs first. nil entries are skipped, which lets
// callers leave optional middleware in place as nil.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}
