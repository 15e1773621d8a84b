package prompt

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/xgr-network/xgr-relay/types"
)

var ErrMalformedReply = errors.New("malformed reply")

var numberRe = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

// ParseForecastReply parses one comma-separated integer per forecast token.
func ParseForecastReply(reply string) ([types.ForecastTokens]*big.Int, error) {
	var out [types.ForecastTokens]*big.Int

	parts := strings.Split(strings.TrimSpace(reply), ",")
	if len(parts) != len(out) {
		return out, fmt.Errorf("%w: want %d values, got %d", ErrMalformedReply, len(out), len(parts))
	}

	for i, part := range parts {
		v, ok := new(big.Int).SetString(strings.TrimSpace(part), 10)
		if !ok {
			return out, fmt.Errorf("%w: value %d %q is not an integer", ErrMalformedReply, i+1, part)
		}

		out[i] = v
	}

	return out, nil
}

// NormalizeForecastReply re-renders a compliant reply as "a,b,c".
func NormalizeForecastReply(reply string) (string, error) {
	vals, err := ParseForecastReply(reply)
	if err != nil {
		return "", err
	}

	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = v.String()
	}

	return strings.Join(parts, ","), nil
}

// NormalizeNumberReply accepts a single integer or decimal, a trailing dot is dropped.
func NormalizeNumberReply(reply string) (string, error) {
	s := strings.TrimSuffix(strings.TrimSpace(reply), ".")
	if !numberRe.MatchString(s) {
		return "", fmt.Errorf("%w: %q is not a single number", ErrMalformedReply, reply)
	}

	return s, nil
}

// SplitFirstReply splits a FirstRequest reply into its per-player segments.
func SplitFirstReply(reply string) []string {
	parts := strings.Split(reply, FirstReplySeparator)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	return parts
}
