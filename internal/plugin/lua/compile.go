// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package lua

import (
	"bytes"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// Compile parses and compiles src into a function prototype. chunkName
// appears in error messages and tracebacks.
func Compile(chunkName string, src []byte) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(bytes.NewReader(src), chunkName)
	if err != nil {
		return nil, oops.In("lua").Code("PLUGIN_COMPILE_FAILED").
			With("chunk", chunkName).
			Hint("syntax error").
			Wrap(err)
	}
	proto, err := lua.Compile(chunk, chunkName)
	if err != nil {
		return nil, oops.In("lua").Code("PLUGIN_COMPILE_FAILED").
			With("chunk", chunkName).
			Wrap(err)
	}
	return proto, nil
}
