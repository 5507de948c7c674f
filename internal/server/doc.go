// Package server implements the HTTP front end for binwalk analyses. It
// wires the routes, the engine worker pool, the in-memory artifact store
// and the optional audit database and MinIO mirror, and provides the
// lifecycle helpers used by tests and the production binary.
package server
