/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

// Package fmtp parses the value of SDP fmtp attributes into parameter maps.
package fmtp

import (
	"strings"
)

// Value is a single fmtp parameter value exactly as transmitted. A parameter
// which was given without "=" carries no value at all, which is different
// from an empty value.
type Value struct {
	value   string
	missing bool
}

// Missing is the marker for a parameter token which had no "=".
var Missing = Value{missing: true}

// NewValue returns the Value for the provided string.
func NewValue(s string) Value {
	return Value{value: s}
}

// IsMissing returns true if the associated parameter had no value.
func (v Value) IsMissing() bool {
	return v.missing
}

// String returns the raw value, or an empty string for missing values.
func (v Value) String() string {
	return v.value
}

// Params maps fmtp parameter names to their values. Names are case sensitive.
type Params map[string]Value

// Get returns the value of the named parameter. The boolean result is false
// if the parameter is absent or has no value.
func (p Params) Get(name string) (string, bool) {
	v, ok := p[name]
	if !ok || v.missing {
		return "", false
	}
	return v.value, true
}

// Parse parses a fmtp parameter string like
// "profile-level-id=4d001f;packetization-mode=1". It never fails, malformed
// input results in an empty or partial map. An empty line is treated as
// absent and yields an empty map.
func Parse(line string) Params {
	params := make(Params)
	if line == "" {
		return params
	}

	for _, token := range strings.Split(line, ";") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		kv := strings.SplitN(token, "=", 2)
		if len(kv) == 1 {
			params[kv[0]] = Missing
			continue
		}
		params[kv[0]] = NewValue(kv[1])
	}

	return params
}
