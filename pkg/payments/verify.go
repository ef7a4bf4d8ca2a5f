package payments

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReplayWindow bounds how far a signed timestamp may drift from now, in either
// direction.
const ReplayWindow = 300 * time.Second

func parseUnixTimestamp(raw string) (int64, bool) {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return secs, true
}

// withinReplayWindow compares whole seconds; signed timestamps carry no
// fraction, so now is truncated before the comparison.
func withinReplayWindow(now time.Time, signedAt int64) bool {
	skew := now.Unix() - signedAt
	if skew < 0 {
		skew = -skew
	}
	return skew <= int64(ReplayWindow/time.Second)
}

// leadingUUID returns the UUID at the start of value, if any. Processor
// external ids look like "<uuid>", "<uuid>-cs-<ts>" or "<uuid>-pl-<ts>".
func leadingUUID(value string) (string, bool) {
	const uuidLen = 36
	value = strings.TrimSpace(value)
	if len(value) < uuidLen {
		return "", false
	}
	candidate := value[:uuidLen]
	if len(value) > uuidLen && value[uuidLen] != '-' {
		return "", false
	}
	if _, err := uuid.Parse(candidate); err != nil {
		return "", false
	}
	return strings.ToLower(candidate), true
}

// flexString accepts a JSON string, number or null. Objects with an "id" field
// (expanded Stripe references) collapse to that id.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
	case '{':
		var ref struct {
			ID flexString `json:"id"`
		}
		if err := json.Unmarshal(data, &ref); err != nil {
			return err
		}
		*f = ref.ID
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*f = flexString(n.String())
	}
	return nil
}

func (f flexString) String() string { return string(f) }

// minorUnits converts a JSON number already expressed in minor units.
func minorUnits(n *json.Number) *int64 {
	if n == nil || n.String() == "" {
		return nil
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return nil
	}
	v := d.Round(0).IntPart()
	return &v
}

// majorUnits renders cents as a JSON number with two decimals, e.g. 1234 -> 12.34.
func majorUnits(cents int64) json.Number {
	return json.Number(decimal.NewFromInt(cents).Shift(-2).StringFixed(2))
}
