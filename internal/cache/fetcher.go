package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/LavishGent/freshline/internal/types"
)

var errNoData = errors.New("cache: snapshot has no data")

// Doer sends a request through the resilient client. *client.Client
// implements it.
type Doer interface {
	Do(ctx context.Context, req *types.Request) (*types.Response, error)
}

// RequestFetcher returns a fetcher that sends req through d and yields the
// response body. Each fetch sends its own copy of req.
func RequestFetcher(d Doer, req *types.Request) types.Fetcher {
	template := req.Clone()
	return func(ctx context.Context) ([]byte, error) {
		resp, err := d.Do(ctx, template.Clone())
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}
}

// RequestKey derives a cache key from a request's method and path,
// query string included.
func RequestKey(req *types.Request) string {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return method + ":" + req.Path
}

// Decode unmarshals a snapshot's JSON payload into a T.
func Decode[T any](s types.Snapshot) (T, error) {
	var v T
	if !s.HasData {
		return v, types.NewError(types.CodeValidation, "decode "+s.Key, errNoData)
	}
	if err := json.Unmarshal(s.Payload, &v); err != nil {
		return v, types.NewError(types.CodeValidation, "decode "+s.Key, err)
	}
	return v, nil
}

// normalizeFetchError keeps normalized errors and wraps everything else.
// Context errors come from shutdown or the fetch timeout.
func normalizeFetchError(err error, now time.Time) *types.Error {
	if e, ok := types.AsError(err); ok {
		return e
	}
	switch {
	case errors.Is(err, context.Canceled):
		return types.NewErrorAt(now, types.CodeCanceled, "fetch canceled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return types.NewErrorAt(now, types.CodeTimeout, "fetch timed out", err)
	default:
		return types.NewErrorAt(now, types.CodeValidation, "fetcher failed", err)
	}
}
