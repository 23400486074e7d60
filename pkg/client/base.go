// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-multierror"

	ulog "github.com/elastic/deepfreeze/pkg/utils/log"
)

var log = ulog.Log.WithName("elasticsearch-client")

type baseClient struct {
	User     BasicAuth
	HTTP     *http.Client
	Endpoint string
}

// Close idle connections in the underlying http client.
// Should be called once this client is not used anymore.
func (c *baseClient) Close() {
	if c.HTTP != nil {
		// When the http transport goes out of scope, the underlying goroutines responsible
		// for handling keep-alive connections are not closed automatically.
		// Make sure this does not happen by closing idle connections.
		c.HTTP.CloseIdleConnections()
	}
}

func (c *baseClient) doRequest(ctx context.Context, request *http.Request) (*http.Response, error) {
	withContext := request.WithContext(ctx)
	withContext.Header.Set("Content-Type", "application/json; charset=utf-8")

	if c.User != (BasicAuth{}) {
		withContext.SetBasicAuth(c.User.Name, c.User.Password)
	}

	log.V(1).Info(
		"Elasticsearch HTTP request",
		"method", request.Method,
		"url", request.URL.Redacted(),
	)
	response, err := c.HTTP.Do(withContext)
	if err != nil {
		return response, newDecoratedHTTPError(request, err)
	}

	// Check HTTP code in Elasticsearch response.
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return response, newDecoratedHTTPError(request, newAPIError(response))
	}

	return response, nil
}

func (c *baseClient) get(ctx context.Context, pathWithQuery string, out interface{}) error {
	return c.request(ctx, http.MethodGet, pathWithQuery, nil, out, nil)
}

func (c *baseClient) put(ctx context.Context, pathWithQuery string, in, out interface{}) error { //nolint:unparam
	return c.request(ctx, http.MethodPut, pathWithQuery, in, out, nil)
}

func (c *baseClient) post(ctx context.Context, pathWithQuery string, in, out interface{}) error {
	return c.request(ctx, http.MethodPost, pathWithQuery, in, out, nil)
}

func (c *baseClient) delete(ctx context.Context, pathWithQuery string) error {
	return c.request(ctx, http.MethodDelete, pathWithQuery, nil, nil, nil)
}

// exists issues a HEAD request for the given path and maps a 404 to false.
func (c *baseClient) exists(ctx context.Context, pathWithQuery string) (bool, error) {
	err := c.request(ctx, http.MethodHead, pathWithQuery, nil, nil, nil)
	switch {
	case err == nil:
		return true, nil
	case IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// request performs a new http request
//
// if requestObj is not nil, it's marshalled as JSON and used as the request body
// if responseObj is not nil, it should be a pointer to an struct. The response body will be unmarshalled from JSON
// into this struct if the status code of the response is 2xx or if the (optional) given skipErrFunc function returns true.
func (c *baseClient) request(
	ctx context.Context,
	method string,
	pathWithQuery string,
	requestObj,
	responseObj interface{},
	skipErrFunc func(error) bool,
) error {
	var body io.Reader = http.NoBody
	if requestObj != nil {
		outData, err := json.Marshal(requestObj)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(outData)
	}

	request, err := http.NewRequest(method, c.Endpoint+pathWithQuery, body) //nolint:noctx
	if err != nil {
		return err
	}

	var skippedErr error
	resp, err := c.doRequest(ctx, request)
	if skipErrFunc != nil && skipErrFunc(err) {
		skippedErr = err
		err = nil
	}
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	if responseObj != nil {
		if err := json.NewDecoder(resp.Body).Decode(responseObj); err != nil {
			if skippedErr != nil {
				err = multierror.Append(err, skippedErr)
			}
			return err
		}
	}

	return nil
}

// Request exposes a low level interface to the underlying HTTP client. The Elasticsearch
// endpoint is added automatically to the request URL which should therefore just be the
// path with a leading /.
func (c *baseClient) Request(ctx context.Context, r *http.Request) (*http.Response, error) {
	newURL, err := url.Parse(c.Endpoint + r.URL.String())
	if err != nil {
		return nil, err
	}
	r.URL = newURL
	return c.doRequest(ctx, r)
}
