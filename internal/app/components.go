package app

import (
	"github.com/stacklok/provider-mirror/internal/mirror"
	"github.com/stacklok/provider-mirror/internal/reconcile"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Engine reconciles every configured provider into a manifest
	Engine *reconcile.Engine

	// Dispatcher runs the mirror command per manifest (nil when mirroring is disabled)
	Dispatcher *mirror.Dispatcher
}
