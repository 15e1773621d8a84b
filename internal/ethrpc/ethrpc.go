package ethrpc

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// APIKeyPlaceholder is replaced by the chain API key inside the RPC URL.
const APIKeyPlaceholder = "{apiKey}"

const executionReverted = "execution reverted"

// ExpandURL setzt den API-Key in die URL ein, falls ein Platzhalter vorhanden ist.
func ExpandURL(rawURL, apiKey string) (string, bool) {
	if !strings.Contains(rawURL, APIKeyPlaceholder) {
		return rawURL, false
	}

	return strings.ReplaceAll(rawURL, APIKeyPlaceholder, url.PathEscape(apiKey)), true
}

// Dial öffnet einen RPC-Client. Ohne Platzhalter wird der Key bei HTTP als Header mitgeschickt.
func Dial(ctx context.Context, rawURL, apiKey string) (*rpc.Client, error) {
	endpoint, substituted := ExpandURL(strings.TrimSpace(rawURL), apiKey)

	cl, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", redact(endpoint, apiKey), err)
	}

	if !substituted && apiKey != "" && isHTTP(endpoint) {
		cl.SetHeader("Authorization", "Bearer "+apiKey)
	}

	return cl, nil
}

// RevertReason extracts the revert string from an eth_call/eth_estimateGas error.
func RevertReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if data, derr := hexutil.Decode(s); derr == nil {
				if reason, uerr := abi.UnpackRevert(data); uerr == nil {
					return reason, true
				}
			}
		}
	}

	msg := err.Error()

	i := strings.Index(msg, executionReverted)
	if i < 0 {
		return "", false
	}

	reason := strings.TrimSpace(msg[i+len(executionReverted):])
	reason = strings.TrimSpace(strings.TrimPrefix(reason, ":"))

	return reason, true
}

func isHTTP(endpoint string) bool {
	return strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://")
}

func redact(endpoint, apiKey string) string {
	if apiKey == "" {
		return endpoint
	}

	return strings.ReplaceAll(endpoint, url.PathEscape(apiKey), "***")
}
