// Package classifier labels inbound replies with an intent.
package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
)

const KindKeyword = "keyword"

// Classifier maps reply text onto a classification label.
type Classifier interface {
	Classify(text string) domain.Classification
}

// New returns the classifier registered under name.
func New(name string) (Classifier, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", KindKeyword:
		return NewKeywordClassifier(), nil
	default:
		return nil, fmt.Errorf("unknown classifier %q", name)
	}
}

var (
	unsubscribePatterns = compileAll(
		`\b(unsubscribe|opt out|remove|stop emailing|stop sending)\b`,
	)
	negativePatterns = compileAll(
		`\b(not interested|no thanks|unsubscribe|stop|remove me|don't contact)\b`,
		`\b(no longer|not right now|not at this time|pass|decline)\b`,
		`\b(already have|not looking|not needed)\b`,
	)
	positivePatterns = compileAll(
		`\b(interested|yes|sure|sounds good|tell me more|let's talk|call me|schedule|meeting|demo)\b`,
		`\b(want to hear more|would like to|looking forward|excited|great)\b`,
		`\b(please send|send me|share more|more info|more information)\b`,
		`\b(i'd like|i would like|i want to|keen to|happy to)\b`,
	)
)

// KeywordClassifier applies fixed phrase lists in priority order:
// unsubscribe, then negative, then positive. Text matching none is PENDING.
type KeywordClassifier struct {
	rules []rule
}

type rule struct {
	label    domain.Classification
	patterns []*regexp.Regexp
}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		rules: []rule{
			{label: domain.ClassificationUnsubscribed, patterns: unsubscribePatterns},
			{label: domain.ClassificationNegative, patterns: negativePatterns},
			{label: domain.ClassificationPositive, patterns: positivePatterns},
		},
	}
}

func (c *KeywordClassifier) Classify(text string) domain.Classification {
	if strings.TrimSpace(text) == "" {
		return domain.ClassificationPending
	}

	lower := strings.ToLower(text)
	for _, r := range c.rules {
		for _, p := range r.patterns {
			if p.MatchString(lower) {
				return r.label
			}
		}
	}
	return domain.ClassificationPending
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(`(?i)`+e))
	}
	return out
}
