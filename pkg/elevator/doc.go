// Package elevator switches tenants per HTTP request.
//
// A Resolver extracts the tenant identifier from the request (subdomain,
// domain, header, host map, chi URL parameter or path segment). Middleware
// gives every request a fresh tenancy scope, runs the rest of the chain
// inside a scoped switch to the resolved tenant and releases the scope when
// the response is written. Requests that resolve no tenant run on the
// default tenant.
//
//	r := chi.NewRouter()
//	r.Use(elevator.Middleware(manager, elevator.Subdomain("www", "admin")))
//
// Resolution failures are written by the ErrorHandler: unknown tenants as
// 404, malformed identifiers as 400 and everything else as 500.
package elevator
