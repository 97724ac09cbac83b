// Package api serves the roqd REST API over HTTPS and HTTP/3: stream
// listing and status, the latest decoded picture as PNG, SRT pull control,
// the certificate fingerprint and Prometheus metrics.
package api
