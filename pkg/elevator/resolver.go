package elevator

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dasaradhy/apartment/pkg/tenancy"
)

// Resolver extracts a tenant identifier from a request. An empty identifier
// means the request is not tenant-specific.
type Resolver func(r *http.Request) (string, error)

// Subdomain resolves the first label of a host with at least three labels:
// "acme.example.com" → "acme". Excluded subdomains resolve to no tenant.
func Subdomain(excluded ...string) Resolver {
	return func(r *http.Request) (string, error) {
		labels := hostLabels(r)
		if len(labels) < 3 {
			return "", nil
		}
		if slices.Contains(excluded, labels[0]) {
			return "", nil
		}
		return labels[0], nil
	}
}

// Domain resolves the leading label of the domain, ignoring "www":
// "www.acme.com" → "acme", "acme.io" → "acme".
func Domain() Resolver {
	return func(r *http.Request) (string, error) {
		labels := hostLabels(r)
		if len(labels) > 0 && labels[0] == "www" {
			labels = labels[1:]
		}
		if len(labels) < 2 {
			return "", nil
		}
		return labels[0], nil
	}
}

// Header resolves the value of the named header. An empty name uses X-Tenant-ID.
func Header(name string) Resolver {
	if name == "" {
		name = "X-Tenant-ID"
	}
	return func(r *http.Request) (string, error) {
		return strings.TrimSpace(r.Header.Get(name)), nil
	}
}

// HostMap resolves the tenant mapped to the request host. Hosts missing from
// the map fail with tenancy.ErrTenantNotFound.
func HostMap(hosts map[string]string) Resolver {
	return func(r *http.Request) (string, error) {
		host := hostname(r)
		tenant, ok := hosts[host]
		if !ok {
			return "", errors.Join(tenancy.ErrTenantNotFound, fmt.Errorf("no tenant for host %q", host))
		}
		return tenant, nil
	}
}

// URLParam resolves a chi route parameter, e.g. "tenant" in "/{tenant}/orders".
// The middleware must be mounted below the route that declares the parameter.
func URLParam(name string) Resolver {
	return func(r *http.Request) (string, error) {
		return chi.URLParam(r, name), nil
	}
}

// Path resolves the path segment at the 1-based position.
func Path(position int) Resolver {
	return func(r *http.Request) (string, error) {
		if position < 1 {
			return "", ErrInvalidPosition
		}
		path := strings.Trim(r.URL.Path, "/")
		if path == "" {
			return "", nil
		}
		parts := strings.Split(path, "/")
		if position > len(parts) {
			return "", nil
		}
		return parts[position-1], nil
	}
}

// First tries resolvers in order and returns the first identifier found.
// Errors are returned only when no resolver produced an identifier.
func First(resolvers ...Resolver) Resolver {
	return func(r *http.Request) (string, error) {
		var errs []error
		for _, resolve := range resolvers {
			id, err := resolve(r)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if id != "" {
				return id, nil
			}
		}
		return "", errors.Join(errs...)
	}
}

func hostname(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSuffix(host, "."))
}

func hostLabels(r *http.Request) []string {
	host := hostname(r)
	if host == "" || net.ParseIP(host) != nil {
		return nil
	}
	return strings.Split(host, ".")
}
