package httpapi

import (
	"context"
	"net/http"
	"time"
)

// serverBaseCtx is canceled when the process starts shutting down.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level context handlers derive from. A nil
// ctx restores context.Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts derives from req and additionally ends when base does. Values
// come from req so the request ID stays visible to callees.
func joinContexts(base, req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(req)
	stop := context.AfterFunc(base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// requestContext bounds an analyze call by the request, the process and the
// configured analyze timeout.
func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	if analyzeTimeout <= 0 {
		return ctx, cancel
	}
	tctx, tcancel := context.WithTimeout(ctx, time.Duration(analyzeTimeout)*time.Second)
	return tctx, func() {
		tcancel()
		cancel()
	}
}
