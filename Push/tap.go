package Push

import (
	"strings"

	"github.com/rs/zerolog"
)

const FallbackTarget = "#/driver"

// ResolveTapTarget turns a notification payload into an in-app route.
// It never panics; anything unusable lands on FallbackTarget.
func ResolveTapTarget(logger zerolog.Logger, data map[string]interface{}) (target string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn().Interface("panic", r).Msg("failed to handle notification tap")
			target = FallbackTarget
		}
	}()

	raw := "/driver"
	if path, ok := data["path"].(string); ok && path != "" {
		raw = path
	} else if url, ok := data["url"].(string); ok && url != "" {
		raw = url
	}

	switch {
	case strings.HasPrefix(raw, "#"):
		return raw
	case strings.HasPrefix(raw, "/"):
		return "#" + raw
	default:
		return FallbackTarget
	}
}
