// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	lua "github.com/yuin/gopher-lua"
)

// Descriptor is the metadata every plugin table must define.
type Descriptor struct {
	Title       string   `json:"Title" jsonschema:"description=Human readable plugin title"`
	Description string   `json:"Description" jsonschema:"description=What the plugin does"`
	Version     float64  `json:"Version" jsonschema:"description=Plugin version number"`
	Author      string   `json:"Author" jsonschema:"description=Plugin author"`
	Depends     []string `json:"Depends,omitempty" jsonschema:"description=Plugins that must be loaded first, optionally followed by a version constraint"`
}

// descriptorKeys are the plugin table fields read into a Descriptor.
var descriptorKeys = []string{"Title", "Description", "Version", "Author", "Depends"}

var (
	schemaOnce     sync.Once
	schemaCompiled *jschema.Schema
	schemaErr      error
)

// GenerateSchema generates a JSON Schema from the Descriptor struct.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Descriptor{})

	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Cinder Plugin Descriptor"
	schema.Description = "Fields a plugin script must set on its PLUGIN table"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// SchemaID is the $id of the descriptor schema.
const SchemaID = "https://cinderhost.dev/schemas/plugin-descriptor.schema.json"

func compiledSchema() (*jschema.Schema, error) {
	schemaOnce.Do(func() {
		data, err := GenerateSchema()
		if err != nil {
			schemaErr = err
			return
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			schemaErr = fmt.Errorf("failed to parse schema JSON: %w", err)
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource("descriptor.json", doc); err != nil {
			schemaErr = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}
		schemaCompiled, schemaErr = c.Compile("descriptor.json")
	})
	return schemaCompiled, schemaErr
}

// ReadDescriptor validates the descriptor fields of a plugin table and
// decodes them. Failures carry code INVALID_DESCRIPTOR.
func ReadDescriptor(tbl *lua.LTable) (*Descriptor, error) {
	doc := make(map[string]any, len(descriptorKeys))
	for _, key := range descriptorKeys {
		lv := tbl.RawGetString(key)
		if lv == lua.LNil {
			continue
		}
		doc[key] = jsonValue(lv)
	}

	sch, err := compiledSchema()
	if err != nil {
		return nil, oops.In("plugin").Code("INVALID_DESCRIPTOR").Wrapf(err, "compile descriptor schema")
	}
	if err := sch.Validate(doc); err != nil {
		return nil, oops.In("plugin").Code("INVALID_DESCRIPTOR").
			Hint("plugins must set Title, Description and Author to strings and Version to a number").
			Wrap(err)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, oops.In("plugin").Code("INVALID_DESCRIPTOR").Wrap(err)
	}
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, oops.In("plugin").Code("INVALID_DESCRIPTOR").Wrap(err)
	}
	return &d, nil
}

// jsonValue converts a Lua value to the types the schema validator expects.
// Values without a JSON form (functions, userdata) become empty objects so
// that they fail type checks instead of passing silently.
func jsonValue(lv lua.LValue) any {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if n := v.Len(); n > 0 || isEmpty(v) {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, jsonValue(v.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		v.ForEach(func(k, val lua.LValue) {
			out[k.String()] = jsonValue(val)
		})
		return out
	default:
		return map[string]any{}
	}
}

func isEmpty(tbl *lua.LTable) bool {
	k, _ := tbl.Next(lua.LNil)
	return k == lua.LNil
}

// FormatSchemaError formats a descriptor validation error for display.
func FormatSchemaError(err error) string {
	if err == nil {
		return ""
	}
	var verr *jschema.ValidationError
	if !errors.As(err, &verr) {
		return err.Error()
	}
	return strings.TrimSpace(verr.Error())
}
