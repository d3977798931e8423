// Package o11ygin holds the gin middleware that traces and times every request
// handled by the replay proxy and its admin server.
package o11ygin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/circleci/replay/o11y"
)

const cancelledKey = "o11ygin.cancelled"

// statusClientClosed is the nginx convention for a request the client gave up on.
const statusClientClosed = 499

// Middleware starts a span per request on provider, named after the server and
// matched route, and times the handler as the "handler" metric.
func Middleware(provider o11y.Provider, serverName string) gin.HandlerFunc {
	metrics := provider.MetricsProvider()
	return func(c *gin.Context) {
		start := time.Now()
		route := c.FullPath()

		ctx := o11y.WithProvider(c.Request.Context(), provider)
		ctx, span := provider.StartSpan(ctx, fmt.Sprintf("http-server %s: %s %s", serverName, c.Request.Method, route))
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		if route == "" {
			c.Header("X-Route", "not-found")
		} else {
			c.Header("X-Route", route)
		}
		for _, p := range c.Params {
			span.AddRawField("handler.vars."+p.Key, p.Value)
		}
		addRequestFields(span, serverName, c)

		defer func() {
			status := c.Writer.Status()
			if c.GetBool(cancelledKey) {
				status = statusClientClosed
			}
			span.AddRawField("http.status_code", status)
			span.AddRawField("http.response_content_length", c.Writer.Size())

			if metrics == nil {
				return
			}
			_ = metrics.TimeInMilliseconds("handler",
				float64(time.Since(start).Nanoseconds())/1e6,
				[]string{
					"http.server_name:" + serverName,
					"http.method:" + c.Request.Method,
					"http.route:" + route,
					"http.status_code:" + strconv.Itoa(status),
				},
				1,
			)
		}()

		c.Next()
	}
}

func addRequestFields(span o11y.Span, serverName string, c *gin.Context) {
	r := c.Request
	span.AddRawField("meta.type", "http_server")
	span.AddRawField("http.server_name", serverName)
	span.AddRawField("http.route", c.FullPath())
	span.AddRawField("http.client_ip", c.ClientIP())
	span.AddRawField("http.method", r.Method)
	span.AddRawField("http.url", r.URL.String())
	span.AddRawField("http.target", r.URL.Path)
	span.AddRawField("http.host", r.Host)
	span.AddRawField("http.user_agent", r.UserAgent())
	span.AddRawField("http.request_content_length", r.ContentLength)
}

// ClientCancelled records requests whose client went away as a 499, unless a
// status was already written. Gin errors raised while handling are added to
// the request span.
func ClientCancelled() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		defer func() {
			if errors.Is(ctx.Err(), context.Canceled) {
				c.Set(cancelledKey, true)
				return
			}
			if len(c.Errors) > 0 {
				o11y.AddField(ctx, "gin_internal_error", c.Errors.String())
			}
		}()
		c.Next()
	}
}

// Recovery turns a panicking handler into a 500. The panic is recorded on the
// request span, counted, and reported as an error.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered interface{}) {
		c.AbortWithStatus(http.StatusInternalServerError)
		ctx := c.Request.Context()
		span := o11y.FromContext(ctx).GetSpan(ctx)

		// http.ErrAbortHandler means the connection went away mid response, see
		// https://github.com/golang/go/issues/28239
		if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
			if span != nil {
				o11y.AddResultToSpan(span, err)
			}
			return
		}

		err := fmt.Errorf("panic handled: %+v", recovered)
		if span != nil {
			span.AddRawField("panic", true)
			o11y.AddResultToSpan(span, err)
		}
		if m := o11y.FromContext(ctx).MetricsProvider(); m != nil {
			_ = m.Count("panics", 1, []string{"http.route:" + c.FullPath()}, 1)
		}
		o11y.LogError(ctx, "http-server: panic", err,
			o11y.Field("method", c.Request.Method),
			o11y.Field("url", c.Request.URL.String()),
		)
	})
}
