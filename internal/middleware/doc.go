// Package middleware provides the HTTP middleware wrapped around the
// metrics endpoint.
//
//	handler := middleware.Chain(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
//	    middleware.RequestID,
//	    middleware.Logger(logger),
//	    middleware.Recovery(logger),
//	)
//
// RequestID runs first so that the logger and the recovery handler can tag
// their records with the request id.
package middleware
