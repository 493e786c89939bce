// Package server implements the HTTP API for recording control and job
// queue management. It exposes endpoints to start and stop consultation
// recordings, inspect and retry processing jobs, and scrape service health,
// configuration, and Prometheus metrics.
package server
