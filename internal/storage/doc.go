// Package storage uploads finished recordings to durable object storage
// under an owner-scoped path and resolves their public URLs.
package storage
