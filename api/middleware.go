package api

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/gorilla/handlers"
	"github.com/rs/zerolog/log"
	"github.com/ulule/limiter"
	"github.com/ulule/limiter/drivers/middleware/stdlib"
	"github.com/ulule/limiter/drivers/store/memory"
)

func middleware(mux *http.ServeMux, allowedOrigins []string, accessLog io.Writer) http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins(allowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	return handlers.LoggingHandler(accessLog,
		recoveryHandler(
			throttleHandler(time.Minute, 60, cors(mux)),
		),
	)
}

// throttleHandler is a coarse per-IP cap on all endpoints. The
// subscription limit proper lives in the newsletter service.
func throttleHandler(period time.Duration, limit int64, f http.Handler) http.Handler {
	if flag.Lookup("test.v") != nil {
		// Don't throttle tests
		return f
	}
	rateLimitStore := memory.NewStore()
	rate := limiter.Rate{
		Period: period,
		Limit:  limit,
	}
	rateLimiter := stdlib.NewMiddleware(limiter.New(rateLimitStore, rate,
		limiter.WithTrustForwardHeader(true)))
	return rateLimiter.Handler(f)
}

func recoveryHandler(f http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rval := recover()
			if rval == nil {
				return
			}
			err, ok := rval.(error)
			if !ok {
				err = fmt.Errorf("%v", rval)
			}
			log.Error().Err(err).Str("path", r.URL.Path).Msg("recovered from panic")
			packet := raven.NewPacket(err.Error(), raven.NewException(err, raven.GetOrNewStacktrace(err, 2, 3, nil)), raven.NewHttp(r))
			raven.Capture(packet, nil)
			writeJSON(w, response{StatusCode: http.StatusInternalServerError, Error: msgInternalError})
		}()

		f.ServeHTTP(w, r)
	})
}
