package core

import "context"

// DB is the storage handle shared by the repositories; it is only used for health checks and shutdown.
type DB interface {
	PingContext(ctx context.Context) error
	Close() error
}
