// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/cinderhost/cinder/pkg/errutil"
)

func TestAssertErrorCode_InnermostCode(t *testing.T) {
	inner := oops.Code("TYPE_BLOCKED").Errorf("type denied")
	err := oops.In("bridge").With("operation", "lookup").Wrap(inner)
	errutil.AssertErrorCode(t, err, "TYPE_BLOCKED")
}

func TestAssertErrorContext_MergesChain(t *testing.T) {
	inner := oops.With("type", "os.File").Errorf("type denied")
	err := oops.With("operation", "register").Wrap(inner)
	errutil.AssertErrorContext(t, err, "type", "os.File")
	errutil.AssertErrorContext(t, err, "operation", "register")
}
