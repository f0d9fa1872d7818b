// Package glog holds small slog.LogValuer helpers shared across the repo's
// structured logging call sites.
package glog

import (
	"encoding/hex"
	"log/slog"
)

// Hex formats a byte slice as a lowercase hex string only when it is
// actually logged, avoiding the encoding cost on disabled log levels.
type Hex []byte

func (h Hex) String() string {
	if len(h) == 0 {
		return ""
	}
	return hex.EncodeToString(h)
}

// LogValue satisfies slog.LogValuer, deferring the hex encoding until a
// handler actually emits this attribute.
func (h Hex) LogValue() slog.Value { return slog.StringValue(h.String()) }
