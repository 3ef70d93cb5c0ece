package httpclients

import (
	"context"
	"time"

	"ultra-server/services/orchestrator-api/internal/infrastructure/logger"

	"resty.dev/v3"
)

type CorrelationID struct{}
type HTTPClientStartsAt struct{}

// NewClient builds a resty client that logs every provider round trip with
// its latency and the request's correlation id.
func NewClient(clientName string) *resty.Client {
	client := resty.New()
	client.AddRequestMiddleware(func(c *resty.Client, r *resty.Request) error {
		ctx := context.WithValue(r.Context(), HTTPClientStartsAt{}, time.Now())
		r.SetContext(ctx)
		return nil
	})
	client.AddResponseMiddleware(func(c *resty.Client, r *resty.Response) error {
		log := logger.GetLogger()
		startTime, _ := r.Request.Context().Value(HTTPClientStartsAt{}).(time.Time)
		latency := time.Since(startTime)

		correlationID := ""
		if id, ok := r.Request.Context().Value(CorrelationID{}).(string); ok {
			correlationID = id
		}

		log.Debug().
			Str("correlation_id", correlationID).
			Str("client", clientName).
			Int("status", r.StatusCode()).
			Str("method", r.Request.RawRequest.Method).
			Str("path", r.Request.RawRequest.URL.Path).
			Dur("latency", latency).
			Msg("provider HTTP request")
		return nil
	})
	return client
}

// WithCorrelationID threads the request correlation id into outgoing
// provider calls so client logs line up with pipeline logs.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationID{}, id)
}
