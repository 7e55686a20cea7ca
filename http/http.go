// Package http carries the HTTP bindings of the payment protocol:
// a paying client, a resource server that issues 402 challenges, and a
// facilitator client speaking the verify/settle REST API.
package http

import (
	"context"
	"io"
	"net/http"

	x402 "x402-go"
)

// NewClient wraps a protocol client with HTTP payment handling.
func NewClient(client *x402.X402Client) *x402HTTPClient {
	return Newx402HTTPClient(client)
}

// NewServer builds an HTTP resource server over the given routes.
func NewServer(routes RoutesConfig, opts ...x402.ResourceServerOption) *x402HTTPResourceServer {
	return Newx402HTTPResourceServer(routes, opts...)
}

// NewFacilitatorClient builds a client for a remote facilitator.
func NewFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	return NewHTTPFacilitatorClient(config)
}

// WrapClient adds payment handling to a standard *http.Client.
func WrapClient(client *http.Client, x402Client *x402HTTPClient) *http.Client {
	return WrapHTTPClientWithPayment(client, x402Client)
}

// Get issues a GET request, paying a 402 challenge if one comes back.
func Get(ctx context.Context, url string, x402Client *x402HTTPClient) (*http.Response, error) {
	return x402Client.GetWithPayment(ctx, url)
}

// Post issues a POST request with automatic payment handling.
func Post(ctx context.Context, url string, body io.Reader, x402Client *x402HTTPClient) (*http.Response, error) {
	return x402Client.PostWithPayment(ctx, url, body)
}

// Do runs an arbitrary request with automatic payment handling.
func Do(ctx context.Context, req *http.Request, x402Client *x402HTTPClient) (*http.Response, error) {
	return x402Client.DoWithPayment(ctx, req)
}
