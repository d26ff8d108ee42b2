// Package httpserver exposes the ephemeral store over HTTP: record
// put/get/destroy, certificate retrieval, authority discovery, and the
// operational health/drain endpoints.
package httpserver
