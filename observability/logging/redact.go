package logging

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// Keys that never carry participant identities.
var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"reason":    {},
	"component": {},
	"operation": {},
	"call":      {},
	"block":     {},
	"stage":     {},
	"amount":    {},
}

// IsAllowlisted reports whether the provided key is exempt from automatic redaction.
func IsAllowlisted(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := redactionAllowlist[normalized]
	return ok
}

// RedactionAllowlist returns a sorted copy of the log keys that are allowed to be emitted
// without redaction.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskField returns a slog.Attr that redacts the supplied value unless the key is
// explicitly allowlisted. The original key casing is preserved for readability.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// NewAddressRedactor wraps h so that string attributes holding a hex address
// are masked unless their key is allowlisted.
func NewAddressRedactor(h slog.Handler) slog.Handler {
	if _, ok := h.(addressRedactor); ok {
		return h
	}
	return addressRedactor{Handler: h}
}

type addressRedactor struct {
	slog.Handler
}

func (r addressRedactor) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAddress(a))
		return true
	})
	return r.Handler.Handle(ctx, out)
}

func (r addressRedactor) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		masked[i] = redactAddress(a)
	}
	return addressRedactor{Handler: r.Handler.WithAttrs(masked)}
}

func (r addressRedactor) WithGroup(name string) slog.Handler {
	return addressRedactor{Handler: r.Handler.WithGroup(name)}
}

func redactAddress(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindGroup:
		group := a.Value.Group()
		masked := make([]any, len(group))
		for i, inner := range group {
			masked[i] = redactAddress(inner)
		}
		return slog.Group(a.Key, masked...)
	case slog.KindString:
		if common.IsHexAddress(a.Value.String()) {
			return MaskField(a.Key, a.Value.String())
		}
	}
	return a
}
