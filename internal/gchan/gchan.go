// Package gchan provides small context-aware helpers around channel sends
// and receives, so every blocking channel operation in tmengine and tmmux
// is cancellable by the same context that governs the surrounding request,
// instead of each call site hand-rolling a select over ctx.Done().
package gchan

import (
	"context"
	"log/slog"
)

// SendC sends val on ch, returning false if ctx is cancelled first. msg
// describes the send for the log line emitted on cancellation.
func SendC[T any](ctx context.Context, log *slog.Logger, ch chan<- T, val T, msg string) bool {
	select {
	case ch <- val:
		return true
	case <-ctx.Done():
		log.Info("Context cancelled while "+msg, "err", context.Cause(ctx))
		return false
	}
}

// RecvC receives from ch, returning false if ctx is cancelled first.
func RecvC[T any](ctx context.Context, log *slog.Logger, ch <-chan T, msg string) (T, bool) {
	select {
	case val := <-ch:
		return val, true
	case <-ctx.Done():
		var zero T
		log.Info("Context cancelled while "+msg, "err", context.Cause(ctx))
		return zero, false
	}
}

// ReqResp sends req on reqCh, then waits for a reply on respCh, cancelling
// either wait if ctx finishes first. It is the standard shape for every
// host-facing request in tmdriver: the caller owns respCh, so req is always
// safe to send even if the host is slow to respond.
func ReqResp[Req, Resp any](
	ctx context.Context, log *slog.Logger,
	reqCh chan<- Req, req Req,
	respCh <-chan Resp,
	msg string,
) (Resp, bool) {
	if !SendC(ctx, log, reqCh, req, "sending "+msg+" request") {
		var zero Resp
		return zero, false
	}
	return RecvC(ctx, log, respCh, "awaiting "+msg+" response")
}
