// Package clients provides the HTTP client for the record API served by
// httpserver. It handles request encoding, error taxonomy mapping, and
// offline certificate verification against the server's published
// authority key.
package clients
