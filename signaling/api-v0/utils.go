/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"stash.kopano.io/kwm/kwmwhip/internal/negotiation"
	"stash.kopano.io/kwm/kwmwhip/signaling/odata"
)

func WriteResourceAsJSON(rw http.ResponseWriter, resource interface{}) error {
	rw.Header().Add("Content-Type", "application/json; charset=utf-8")
	encoder := json.NewEncoder(rw)
	encoder.SetIndent("", "  ")
	return encoder.Encode(resource)
}

// StatusForError returns the HTTP status code for the provided error.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotAcceptable):
		return http.StatusNotAcceptable
	case errors.Is(err, ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func WriteErrorAsJSON(rw http.ResponseWriter, err error) error {
	if err == nil {
		panic("writing nil error")
	}

	rw.Header().Add("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(StatusForError(err))
	encoder := json.NewEncoder(rw)
	encoder.SetIndent("", "  ")

	var e *ErrorWithCodeAndMessage
	if !errors.As(err, &e) {
		e = NewErrorWithCodeAndMessage(ErrorCodeUnspecifiedError, fmt.Errorf("unspecified error: %w", err).Error(), nil)
	}
	return encoder.Encode(e)
}

// NewErrorFromNegotiation maps the provided negotiation error to an API
// error.
func NewErrorFromNegotiation(err error) *ErrorWithCodeAndMessage {
	switch {
	case errors.Is(err, negotiation.ErrInvalidOffer):
		return NewErrorWithCodeAndMessage(
			ErrorCodeInvalidOffer,
			err.Error(),
			fmt.Errorf("%w: %v", ErrBadRequest, err),
		)
	case errors.Is(err, negotiation.ErrNoMatchingCodec):
		return NewErrorWithCodeAndMessage(
			ErrorCodeNoMatchingCodec,
			err.Error(),
			fmt.Errorf("%w: %v", ErrNotAcceptable, err),
		)
	default:
		return NewErrorWithCodeAndMessage(
			ErrorCodeUnspecifiedError,
			"negotiation failed",
			err,
		)
	}
}

func GetRequestVars(req *http.Request) map[string]string {
	return mux.Vars(req)
}

func GetRequestVar(req *http.Request, name string) (string, bool) {
	value, found := GetRequestVars(req)[name]
	return value, found
}

func oDataContext(req *http.Request) string {
	if o := odata.FromContext(req.Context()); o != nil {
		return o.Context
	}
	return req.URL.Path
}

// NewCollectionResource wraps the provided values for the request.
func NewCollectionResource(values Collection, req *http.Request, nextLink *url.URL) *CollectionResource {
	resource := &CollectionResource{
		ODataContext: oDataContext(req),
		Values:       values,
	}
	if nextLink != nil {
		resource.ODataNextLink = nextLink.String()
	}
	return resource
}

// NewItemResource wraps the provided item for the request.
func NewItemResource(item Item, req *http.Request) *ItemResource {
	return &ItemResource{
		ODataContext: oDataContext(req),
		Item:         item,
	}
}
