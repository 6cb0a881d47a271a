/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

// Package kwmwhip provides a WHIP and WHEP signaling service which negotiates
// codecs of incoming offers with a configurable match policy.
package kwmwhip // import "stash.kopano.io/kwm/kwmwhip"
