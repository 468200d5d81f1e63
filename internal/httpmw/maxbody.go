package httpmw

import "net/http"

// MaxBody caps the request body at n bytes. Reading past it fails with
// *http.MaxBytesError and the server answers 413 if nothing was written yet.
func MaxBody(n int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
