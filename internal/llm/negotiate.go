package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Rule reshapes a request after a specific kind of failure. Match inspects
// the failure of the first attempt; Apply edits a copy of the request that
// is then resubmitted.
type Rule struct {
	Name  string
	Match func(err error) bool
	Apply func(req *Request)
}

// DropUnsupportedTemperature removes the sampling temperature when the
// backend rejects it for the selected model.
var DropUnsupportedTemperature = Rule{
	Name: "drop_temperature",
	Match: func(err error) bool {
		var se *StatusError
		if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
			return false
		}
		body := strings.ToLower(se.Body)
		if !strings.Contains(body, "temperature") {
			return false
		}
		return strings.Contains(body, "unsupported") ||
			strings.Contains(body, "not support") ||
			strings.Contains(body, "does not support")
	},
	Apply: func(req *Request) {
		req.Temperature = nil
	},
}

// Negotiator wraps a Completer with request-shape negotiation. The first
// rule matching a failure is applied and the request is resubmitted once;
// the outcome of that second attempt is final.
type Negotiator struct {
	next    Completer
	rules   []Rule
	logger  *zap.Logger
	OnRetry func(rule string)
}

// NewNegotiator creates a Negotiator over next.
func NewNegotiator(next Completer, logger *zap.Logger, rules ...Rule) *Negotiator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Negotiator{next: next, rules: rules, logger: logger.Named("negotiate")}
}

// Complete implements Completer.
func (n *Negotiator) Complete(ctx context.Context, req Request) (string, error) {
	out, err := n.next.Complete(ctx, req)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return "", err
	}

	for _, rule := range n.rules {
		if !rule.Match(err) {
			continue
		}
		retry := req
		retry.Messages = append([]Message(nil), req.Messages...)
		rule.Apply(&retry)

		n.logger.Info("resubmitting with adjusted request", zap.String("rule", rule.Name))
		if n.OnRetry != nil {
			n.OnRetry(rule.Name)
		}
		return n.next.Complete(ctx, retry)
	}
	return "", err
}
