// Package storage moves promoted cache artifacts in and out of object
// storage, so a fresh instance can bootstrap without waiting for its first
// index build.
package storage

import "context"

// ArtifactStore is the persistence surface for cache artifacts.
type ArtifactStore interface {
	// Publish uploads the file at localPath under key, replacing any
	// previous object.
	Publish(ctx context.Context, key, localPath string) error

	// Fetch downloads the object at key into localPath. The write goes
	// through a temp file so a failed download never corrupts the target.
	Fetch(ctx context.Context, key, localPath string) (err error)

	// Exists reports whether an object is present under key.
	Exists(ctx context.Context, key string) (bool, error)
}
