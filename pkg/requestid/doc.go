// Package requestid tags each HTTP request with an identifier that follows
// it through tenant switches: it is stored in the request context, echoed in
// the X-Request-ID response header, recorded on the active trace span and
// added to log records by LoggerExtractor.
//
// Mount Middleware ahead of the tenant elevator so rejected tenant lookups
// are logged with the id too.
package requestid
