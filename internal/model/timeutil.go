package model

import "time"

// formatRFC3339Millis renders an epoch-millisecond timestamp as the
// millisecond-precision UTC RFC3339 string used on the wire.
func formatRFC3339Millis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
}

// parseRFC3339Millis parses a wire timestamp back into epoch milliseconds.
func parseRFC3339Millis(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}
