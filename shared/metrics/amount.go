package metrics

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pavitra93/go-shelter-platform/shared/apperrors"
)

// ParseAmount normalises the stored forms of a donation amount. An object
// yields its total, falling back to its amount field when total is absent
// or zero; anything else is read as the scalar total. Numeric strings count
// as scalars.
func ParseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, malformed("missing amount")
	}

	if raw[0] != '{' {
		return parseScalar(raw)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return decimal.Zero, malformed("unreadable amount object")
	}
	total, totalErr := parseField(fields, "total")
	if totalErr == nil && !total.IsZero() {
		return total, nil
	}
	if alt, err := parseField(fields, "amount"); err == nil {
		return alt, nil
	}
	if totalErr == nil {
		return total, nil
	}
	return decimal.Zero, totalErr
}

func parseField(fields map[string]json.RawMessage, name string) (decimal.Decimal, error) {
	v, ok := fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return decimal.Zero, malformed("amount object has no total")
	}
	return parseScalar(v)
}

func parseScalar(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return decimal.Zero, malformed("missing amount")
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return decimal.Zero, malformed("unreadable amount string")
		}
		text = strings.TrimSpace(text)
	} else if raw[0] != '-' && (raw[0] < '0' || raw[0] > '9') {
		return decimal.Zero, malformed("amount is not numeric")
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, malformed("amount is not numeric")
	}
	return d, nil
}

func malformed(reason string) error {
	return &apperrors.Error{Kind: apperrors.KindMalformedRecord, Message: reason}
}
