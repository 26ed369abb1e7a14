package provider

import (
	"time"
)

const (
	// MaxCallbackAgeMillis is how far in the past a callback timestamp may
	// lie and still be accepted.
	MaxCallbackAgeMillis int64 = 300_000
	// MaxClockSkewMillis tolerates provider clocks running ahead of ours.
	MaxClockSkewMillis int64 = 60_000
)

// vnpayLocation is GMT+7; VNPay date strings carry no zone information.
var vnpayLocation = time.FixedZone("GMT+7", 7*60*60)

// ValidTimestamp reports whether tsMillis falls inside the acceptance
// window around now. Both boundaries are inclusive: a callback exactly
// maxAge old or exactly maxSkew in the future still passes.
func ValidTimestamp(tsMillis int64, now time.Time, maxAgeMillis, maxSkewMillis int64) bool {
	nowMillis := now.UnixMilli()
	age := nowMillis - tsMillis
	if age > maxAgeMillis {
		return false
	}
	if -age > maxSkewMillis {
		return false
	}
	return true
}

// ValidCallbackTimestamp applies the default window.
func ValidCallbackTimestamp(tsMillis int64, now time.Time) bool {
	return ValidTimestamp(tsMillis, now, MaxCallbackAgeMillis, MaxClockSkewMillis)
}

// ParseVNPayDate parses VNPay's 14-digit YYYYMMDDHHmmss format (GMT+7)
// into epoch milliseconds. Malformed or wrong-length input falls back to
// the current time so the staleness gate degrades to a pass rather than
// rejecting deliveries over a formatting quirk.
func ParseVNPayDate(s string, now time.Time) int64 {
	if len(s) != 14 {
		return now.UnixMilli()
	}
	t, err := time.ParseInLocation("20060102150405", s, vnpayLocation)
	if err != nil {
		return now.UnixMilli()
	}
	return t.UnixMilli()
}

// FormatVNPayDate renders t as VNPay's 14-digit date string in GMT+7.
func FormatVNPayDate(t time.Time) string {
	return t.In(vnpayLocation).Format("20060102150405")
}
