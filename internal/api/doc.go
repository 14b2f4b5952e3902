// Package api hosts the HTTP router, middleware and the single replay route.
// Routes:
//   - GET / fetches the upstream page and returns {"replays": [...]}.
//   - Anything else, including other methods on /, is answered with an empty 404.
//
// Upstream failures surface as 502 (connection, status or encoding problems)
// or 504 (fetch timeout) with an empty body.
package api
