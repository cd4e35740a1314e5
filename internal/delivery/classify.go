package delivery

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// OutcomeKind is the broadcast-level meaning of a failed attempt.
type OutcomeKind uint8

const (
	OutcomeUnknown OutcomeKind = iota
	OutcomeRateLimited
	OutcomeRecipientGone
	OutcomeTransient
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeRecipientGone:
		return "recipient_gone"
	case OutcomeTransient:
		return "transient"
	default:
		return "unknown"
	}
}

type Outcome struct {
	Kind       OutcomeKind
	RetryAfter time.Duration
	// Reason is a short human-readable cause for logs.
	Reason string
	// Rule names the classifier rule that matched.
	Rule string
}

// kindOutcomes maps every ErrorKind to its outcome.
var kindOutcomes = map[ErrorKind]OutcomeKind{
	KindRateLimited:   OutcomeRateLimited,
	KindRecipientGone: OutcomeRecipientGone,
	KindBadRequest:    OutcomeTransient,
	KindGeneric:       OutcomeUnknown,
}

// Rule inspects an error and reports an outcome when it recognises it.
type Rule struct {
	Name  string
	Match func(err error) (Outcome, bool)
}

// Classifier applies rules in order; the first match wins and anything
// unmatched is OutcomeUnknown.
type Classifier struct {
	rules []Rule
}

func NewClassifier(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Classify never panics and always returns an outcome. Callers only pass
// failures; nil maps to OutcomeUnknown.
func (c *Classifier) Classify(err error) Outcome {
	if err == nil {
		return Outcome{Kind: OutcomeUnknown, Reason: "nil error", Rule: "nil"}
	}
	rules := DefaultRules()
	if c != nil {
		rules = c.rules
	}
	for _, r := range rules {
		if r.Match == nil {
			continue
		}
		if o, ok := r.Match(err); ok {
			o.Rule = r.Name
			if o.Reason == "" {
				o.Reason = err.Error()
			}
			return o
		}
	}
	return Outcome{Kind: OutcomeUnknown, Reason: err.Error(), Rule: "fallback"}
}

func DefaultRules() []Rule {
	return []Rule{
		{Name: "channel_error", Match: matchChannelError},
		{Name: "deadline", Match: matchDeadline},
		{Name: "network", Match: matchNetwork},
		{Name: "message", Match: matchMessage},
	}
}

func matchChannelError(err error) (Outcome, bool) {
	var ce *ChannelError
	if !errors.As(err, &ce) {
		return Outcome{}, false
	}
	kind, ok := kindOutcomes[ce.Kind]
	if !ok {
		kind = OutcomeUnknown
	}
	o := Outcome{Kind: kind, Reason: ce.Message}
	if kind == OutcomeRateLimited {
		o.RetryAfter = ce.RetryAfter
	}
	return o, true
}

func matchDeadline(err error) (Outcome, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return Outcome{Kind: OutcomeTransient, Reason: "send timed out"}, true
	}
	return Outcome{}, false
}

func matchNetwork(err error) (Outcome, bool) {
	var ne net.Error
	if errors.As(err, &ne) {
		return Outcome{Kind: OutcomeTransient, Reason: "network: " + ne.Error()}, true
	}
	return Outcome{}, false
}

var (
	gonePatterns = []string{
		"bot was blocked by the user",
		"user is deactivated",
		"chat not found",
		"bot was kicked",
		"bot can't initiate conversation",
		"not enough rights to send",
	}
	transientPatterns = []string{
		"connection reset",
		"connection refused",
		"timeout",
		"broken pipe",
		"eof",
		"bad gateway",
		"service unavailable",
		"gateway timeout",
		"internal server error",
		"bad request",
	}
)

// matchMessage catches errors that reached the classifier without a
// ChannelError wrapper.
func matchMessage(err error) (Outcome, bool) {
	lower := strings.ToLower(err.Error())
	for _, p := range gonePatterns {
		if strings.Contains(lower, p) {
			return Outcome{Kind: OutcomeRecipientGone, Reason: p}, true
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return Outcome{Kind: OutcomeTransient, Reason: p}, true
		}
	}
	return Outcome{}, false
}
