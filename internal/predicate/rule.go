package predicate

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrEmptyRule is returned when a rule has no condition at all.
var ErrEmptyRule = errors.New("rule has no conditions")

// Rule is the serialisable form of a user-defined filter.
type Rule struct {
	Keywords []string `json:"keywords,omitempty"`
	UserIDs  []int64  `json:"user_ids,omitempty"`
	Sources  []string `json:"sources,omitempty"`
	// Match is "any" (default) or "all".
	Match string `json:"match,omitempty"`
	// Retweets extends UserIDs to retweets of those users.
	Retweets bool `json:"retweets,omitempty"`
	Negate   bool `json:"negate,omitempty"`
}

// Compile turns r into an Expr.
func (r Rule) Compile() (Expr, error) {
	var terms []Expr
	for _, kw := range r.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			return nil, errors.New("empty keyword")
		}
		terms = append(terms, TextContains(kw))
	}
	if len(r.UserIDs) > 0 {
		terms = append(terms, AuthorIn(r.UserIDs, r.Retweets))
	}
	if len(r.Sources) > 0 {
		terms = append(terms, SourceIs(r.Sources...))
	}
	if len(terms) == 0 {
		return nil, ErrEmptyRule
	}

	var e Expr
	switch strings.ToLower(r.Match) {
	case "", "any":
		e = Or(terms...)
	case "all":
		e = And(terms...)
	default:
		return nil, errors.Errorf("unknown match mode %q", r.Match)
	}
	if r.Negate {
		e = Not(e)
	}
	return e, nil
}
