/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package api

import (
	"errors"
)

// Error codes.
const (
	ErrorCodeUnspecifiedError       = "ErrorUnspecifiedError"
	ErrorCodeInvalidOffer           = "ErrorInvalidOffer"
	ErrorCodeNoMatchingCodec        = "ErrorNoMatchingCodec"
	ErrorCodeUnsupportedContentType = "ErrorUnsupportedContentType"
	ErrorCodeResourceNotFound       = "ErrorResourceNotFound"
	ErrorCodeMethodNotAllowed       = "ErrorMethodNotAllowed"
	ErrorCodeUnauthorized           = "ErrorUnauthorized"
	ErrorCodeBodyTooLarge           = "ErrorBodyTooLarge"
)

// Errors mapped to HTTP status codes by WriteErrorAsJSON.
var (
	ErrNotFound             = errors.New("not found")
	ErrBadRequest           = errors.New("bad request")
	ErrNotAcceptable        = errors.New("not acceptable")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrMethodNotAllowed     = errors.New("method not allowed")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrTooLarge             = errors.New("request entity too large")
)
