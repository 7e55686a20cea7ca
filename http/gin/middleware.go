// Package gin integrates the x402 payment flow into gin handler chains.
package gin

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	x402 "x402-go"
	x402http "x402-go/http"
)

// SchemeConfig pairs a network (or family wildcard) with the scheme
// server that prices it.
type SchemeConfig struct {
	Network x402.Network
	Server  x402.SchemeNetworkServer
}

// Config configures the X402Payment middleware
type Config struct {
	// Routes maps protected route patterns to payment options
	Routes x402http.RoutesConfig

	// Facilitator verifies and settles payments
	Facilitator x402.FacilitatorClient

	// Schemes are the scheme servers to register for pricing
	Schemes []SchemeConfig

	// SyncFacilitatorOnStart fetches the facilitator capability catalog
	// when the middleware is built instead of on the first request
	SyncFacilitatorOnStart bool

	// Timeout bounds payment processing per request; zero means no limit
	Timeout time.Duration
}

// X402Payment builds a payment middleware from config, constructing and
// wiring the resource server internally.
func X402Payment(config Config) gin.HandlerFunc {
	server := x402.Newx402ResourceServer(
		x402.WithFacilitatorClient(config.Facilitator),
	)
	for _, scheme := range config.Schemes {
		server.Register(scheme.Network, scheme.Server)
	}

	httpServer := x402http.WrapResourceServer(server, config.Routes)
	mw := &middleware{server: httpServer, timeout: config.Timeout}

	if config.SyncFacilitatorOnStart {
		mw.initErr = httpServer.Initialize(context.Background())
		mw.initialized = true
	}
	return mw.handle
}

// PaymentMiddleware builds a payment middleware around an existing,
// already-registered resource server. The facilitator catalog is
// fetched lazily on the first request.
func PaymentMiddleware(routes x402http.RoutesConfig, server *x402.X402ResourceServer) gin.HandlerFunc {
	mw := &middleware{server: x402http.WrapResourceServer(server, routes)}
	return mw.handle
}

type middleware struct {
	server  *x402http.HTTPServer
	timeout time.Duration

	initOnce    sync.Once
	initialized bool
	initErr     error
}

func (m *middleware) handle(c *gin.Context) {
	m.initOnce.Do(func() {
		if !m.initialized {
			m.initErr = m.server.Initialize(c.Request.Context())
			m.initialized = true
		}
	})
	if m.initErr != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "payment middleware initialization failed: " + m.initErr.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	adapter := &ginAdapter{c: c}
	reqCtx := x402http.HTTPRequestContext{
		Adapter: adapter,
		Path:    c.Request.URL.Path,
		Method:  c.Request.Method,
	}

	result := m.server.ProcessHTTPRequest(ctx, reqCtx, nil)
	switch result.Type {
	case x402http.ResultNoPaymentRequired:
		c.Next()

	case x402http.ResultPaymentVerified:
		m.settleAfterHandler(ctx, c, result)

	default:
		writeResponseInstructions(c, result.Response)
	}
}

// settleAfterHandler buffers the handler's response so settlement
// headers can still be attached, then settles and flushes. A settlement
// failure discards the buffered body and answers 402.
func (m *middleware) settleAfterHandler(ctx context.Context, c *gin.Context, result x402http.ProcessResult) {
	buffer := &bufferingWriter{ResponseWriter: c.Writer, status: http.StatusOK}
	c.Writer = buffer
	c.Next()
	c.Writer = buffer.ResponseWriter

	// Handler refused the request; nothing to settle
	if buffer.status >= 400 {
		buffer.flush(c.Writer)
		return
	}

	var settlement x402http.SettlementResult
	switch {
	case result.PaymentPayload != nil && result.PaymentRequirements != nil:
		settlement = m.server.ProcessSettlement(ctx, *result.PaymentPayload, *result.PaymentRequirements)
	case result.PaymentPayloadV1 != nil && result.PaymentRequirementsV1 != nil:
		settlement = m.server.ProcessSettlementV1(ctx, *result.PaymentPayloadV1, *result.PaymentRequirementsV1)
	default:
		settlement = x402http.SettlementResult{ErrorReason: "no verified payment to settle"}
	}

	if !settlement.Success {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":       "settlement failed",
			"errorReason": settlement.ErrorReason,
		})
		return
	}

	for name, value := range settlement.Headers {
		c.Writer.Header().Set(name, value)
	}
	buffer.flush(c.Writer)
}

func writeResponseInstructions(c *gin.Context, response *x402http.ResponseInstructions) {
	if response == nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	for name, value := range response.Headers {
		c.Writer.Header().Set(name, value)
	}
	contentType := "application/json"
	if response.IsHTML {
		contentType = "text/html; charset=utf-8"
	}
	c.Data(response.Status, contentType, response.Body)
	c.Abort()
}

// ginAdapter exposes a gin request through the framework-agnostic
// adapter interface.
type ginAdapter struct {
	c *gin.Context
}

func (a *ginAdapter) GetHeader(name string) string { return a.c.GetHeader(name) }
func (a *ginAdapter) GetMethod() string            { return a.c.Request.Method }
func (a *ginAdapter) GetPath() string              { return a.c.Request.URL.Path }

func (a *ginAdapter) GetURL() string {
	scheme := "http"
	if a.c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + a.c.Request.Host + a.c.Request.URL.RequestURI()
}

func (a *ginAdapter) GetAcceptHeader() string { return a.c.GetHeader("Accept") }
func (a *ginAdapter) GetUserAgent() string    { return a.c.Request.UserAgent() }

// bufferingWriter holds the handler's body until settlement decides the
// final response.
type bufferingWriter struct {
	gin.ResponseWriter
	body   bytes.Buffer
	status int
}

func (w *bufferingWriter) WriteHeader(status int) {
	w.status = status
}

func (w *bufferingWriter) Write(data []byte) (int, error) {
	return w.body.Write(data)
}

func (w *bufferingWriter) WriteString(s string) (int, error) {
	return w.body.WriteString(s)
}

func (w *bufferingWriter) Status() int {
	return w.status
}

func (w *bufferingWriter) flush(writer gin.ResponseWriter) {
	writer.WriteHeader(w.status)
	if w.body.Len() > 0 {
		_, _ = writer.Write(w.body.Bytes())
	}
}
