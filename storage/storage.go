/*
Package storage persists the encoded bytes of a fixture.

A Store holds exactly one fixture. Stores are opened from a location string:

	testdata/fixtures/items.json          a local file
	file:///abs/path/items.json           a local file
	s3://bucket/fixtures/items.json       an S3 (or MinIO) object
	redis://localhost:6379/0?key=items    a redis string key

Every Save replaces the whole stored fixture.
*/
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotFound is returned by Load when nothing has been stored yet.
var ErrNotFound = errors.New("fixture not found")

type Store interface {
	// Load returns the stored bytes, or ErrNotFound.
	Load(ctx context.Context) ([]byte, error)
	// Save replaces the stored bytes.
	Save(ctx context.Context, b []byte) error
	// String describes the location, for logs.
	String() string
}

// Open returns the store for location.
func Open(ctx context.Context, location string) (Store, error) {
	if location == "" {
		return nil, errors.New("storage: empty location")
	}
	scheme, _, found := strings.Cut(location, "://")
	if !found {
		return NewFile(location), nil
	}

	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("storage: invalid location %q: %w", location, err)
	}
	switch scheme {
	case "file":
		return NewFile(u.Host + u.Path), nil
	case "s3":
		cfg, err := s3ConfigFromURL(u)
		if err != nil {
			return nil, err
		}
		return NewS3(ctx, cfg)
	case "redis", "rediss":
		cfg, err := redisConfigFromURL(u)
		if err != nil {
			return nil, err
		}
		return NewRedis(cfg), nil
	}
	return nil, fmt.Errorf("storage: unsupported scheme %q", scheme)
}
