package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// ContextHook copies user_id and request_id from the event context.
type ContextHook struct{}

// Run adds contextual fields to the zerolog event.
func (h ContextHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil || ctx == context.Background() {
		return
	}

	if userID := GetUserID(ctx); userID != "" {
		e.Str("user_id", userID)
	}

	if requestID := GetRequestID(ctx); requestID != "" {
		e.Str("request_id", requestID)
	}
}
