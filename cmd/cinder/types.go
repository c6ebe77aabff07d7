// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package main

import (
	"container/list"
	"container/ring"

	"github.com/cinderhost/cinder/internal/bridge"
)

// registerHostTypes exposes the host types plugins may construct.
func registerHostTypes(reg *bridge.Registry) error {
	if _, err := reg.Register((*list.List)(nil), bridge.Constructor(list.New)); err != nil {
		return err //nolint:wrapcheck // oops error from the registry
	}
	if _, err := reg.Register((*ring.Ring)(nil), bridge.Constructor(ring.New)); err != nil {
		return err //nolint:wrapcheck // oops error from the registry
	}
	return nil
}
