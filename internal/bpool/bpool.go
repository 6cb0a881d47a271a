/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2018 Kopano and its licensors
 */

package bpool

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// ErrTooLarge is returned by ReadAll when the reader has more data than
// allowed.
var ErrTooLarge = errors.New("data too large")

var bpool sync.Pool

// Get returns a buffer from the pool creating a new one if the pool is empty.
func Get() *bytes.Buffer {
	b, ok := bpool.Get().(*bytes.Buffer)
	if !ok {
		b = &bytes.Buffer{}
	}
	return b
}

// Put returns the provided buffer into the pool.
func Put(b *bytes.Buffer) {
	b.Reset()
	bpool.Put(b)
}

// ReadAll reads r into a pooled buffer and returns the data as string. At
// most limit bytes are read.
func ReadAll(r io.Reader, limit int64) (string, error) {
	b := Get()
	defer Put(b)

	n, err := b.ReadFrom(io.LimitReader(r, limit+1))
	if err != nil {
		return "", err
	}
	if n > limit {
		return "", ErrTooLarge
	}

	return b.String(), nil
}
