/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package codecs

import (
	"errors"
)

// ErrNoMatchingCodec is returned when no rule of a policy matches any of the
// provided capabilities.
var ErrNoMatchingCodec = errors.New("no matching codec")

// Select filters the provided capabilities with the policy. The rules are
// tried in order and the matches of the first rule with at least one match
// are returned in their original order. Results of different rules are never
// merged.
func Select(caps []CodecCapability, policy MatchPolicy) ([]CodecCapability, error) {
	for _, rule := range policy {
		var matches []CodecCapability
		for _, c := range caps {
			if rule.Matches(c) {
				matches = append(matches, c)
			}
		}
		if len(matches) > 0 {
			return matches, nil
		}
	}

	return nil, ErrNoMatchingCodec
}
