// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package client

import (
	"io"
	"net/http"
	"strings"
)

type RoundTripFunc func(req *http.Request) *http.Response

func (f RoundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

// NewMockClient returns a client that serves every request from the given function.
func NewMockClient(fn RoundTripFunc) Client {
	return NewMockClientWithUser(BasicAuth{}, fn)
}

// NewMockClientWithUser returns a client with basic auth credentials that serves every
// request from the given round tripper.
func NewMockClientWithUser(u BasicAuth, fn http.RoundTripper) Client {
	return &defaultClient{baseClient{
		Endpoint: "http://example.com",
		User:     u,
		HTTP:     &http.Client{Transport: fn},
	}}
}

func NewMockResponse(statusCode int, r *http.Request, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
		Request:    r,
	}
}
