// Package predicate is a tiny status filter language: a tagged expression tree
// that evaluates in memory and renders to a SQL fragment for store pushdown.
package predicate

import (
	"strings"

	"github.com/d60-Lab/timeline-pipeline/internal/model"
)

// Expr is a compiled status predicate.
//
// SQL returns a boolean fragment over the statuses table with positional
// placeholders; gorm expands slice arguments for "IN ?".
type Expr interface {
	Eval(s *model.Status) bool
	SQL() (string, []interface{})
}

// True and False are the constant predicates.
var (
	True  Expr = constExpr(true)
	False Expr = constExpr(false)
)

type constExpr bool

func (c constExpr) Eval(*model.Status) bool { return bool(c) }

func (c constExpr) SQL() (string, []interface{}) {
	if c {
		return "1 = 1", nil
	}
	return "1 = 0", nil
}

type andExpr []Expr

// And is true when every operand is; an empty And is True.
func And(xs ...Expr) Expr {
	switch len(xs) {
	case 0:
		return True
	case 1:
		return xs[0]
	}
	return andExpr(xs)
}

func (a andExpr) Eval(s *model.Status) bool {
	for _, x := range a {
		if !x.Eval(s) {
			return false
		}
	}
	return true
}

func (a andExpr) SQL() (string, []interface{}) { return join([]Expr(a), " AND ") }

type orExpr []Expr

// Or is true when any operand is; an empty Or is False.
func Or(xs ...Expr) Expr {
	switch len(xs) {
	case 0:
		return False
	case 1:
		return xs[0]
	}
	return orExpr(xs)
}

func (o orExpr) Eval(s *model.Status) bool {
	for _, x := range o {
		if x.Eval(s) {
			return true
		}
	}
	return false
}

func (o orExpr) SQL() (string, []interface{}) { return join([]Expr(o), " OR ") }

func join(xs []Expr, sep string) (string, []interface{}) {
	parts := make([]string, len(xs))
	var args []interface{}
	for i, x := range xs {
		q, a := x.SQL()
		parts[i] = "(" + q + ")"
		args = append(args, a...)
	}
	return strings.Join(parts, sep), args
}

type notExpr struct{ x Expr }

func Not(x Expr) Expr {
	if n, ok := x.(notExpr); ok {
		return n.x
	}
	return notExpr{x: x}
}

func (n notExpr) Eval(s *model.Status) bool { return !n.x.Eval(s) }

func (n notExpr) SQL() (string, []interface{}) {
	q, a := n.x.SQL()
	return "NOT (" + q + ")", a
}

// textContains matches a case-insensitive substring of the status text, or of
// the retweeted original's text.
type textContains struct{ needle string }

func TextContains(keyword string) Expr {
	return textContains{needle: strings.ToLower(keyword)}
}

func (t textContains) Eval(s *model.Status) bool {
	if strings.Contains(strings.ToLower(s.Text), t.needle) {
		return true
	}
	return s.RetweetedOriginal != nil && strings.Contains(strings.ToLower(s.RetweetedOriginal.Text), t.needle)
}

func (t textContains) SQL() (string, []interface{}) {
	pattern := "%" + escapeLike(t.needle) + "%"
	return "LOWER(text) LIKE ? ESCAPE '!' OR " + retweetOf("LOWER(text) LIKE ? ESCAPE '!'"),
		[]interface{}{pattern, pattern}
}

// retweetOf matches retweets whose original satisfies cond. The IS NOT NULL guard
// keeps the fragment two-valued so NOT() around it does not drop plain statuses.
func retweetOf(cond string) string {
	return "(retweeted_original_id IS NOT NULL AND retweeted_original_id IN (SELECT id FROM statuses WHERE " + cond + "))"
}

func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}

// authorIn matches statuses written by one of ids; with retweets set it also
// matches retweets of their statuses.
type authorIn struct {
	ids      map[int64]struct{}
	list     []int64
	retweets bool
}

func AuthorIn(ids []int64, retweets bool) Expr {
	if len(ids) == 0 {
		return False
	}
	a := authorIn{ids: make(map[int64]struct{}, len(ids)), retweets: retweets}
	for _, id := range ids {
		if _, dup := a.ids[id]; dup {
			continue
		}
		a.ids[id] = struct{}{}
		a.list = append(a.list, id)
	}
	return a
}

func (a authorIn) Eval(s *model.Status) bool {
	if _, ok := a.ids[s.UserID]; ok {
		return true
	}
	if a.retweets && s.RetweetedOriginal != nil {
		_, ok := a.ids[s.RetweetedOriginal.UserID]
		return ok
	}
	return false
}

func (a authorIn) SQL() (string, []interface{}) {
	if !a.retweets {
		return "user_id IN ?", []interface{}{a.list}
	}
	return "user_id IN ? OR " + retweetOf("user_id IN ?"), []interface{}{a.list, a.list}
}

type sourceIs struct {
	set  map[string]struct{}
	list []string
}

// SourceIs matches the posting client name exactly.
func SourceIs(sources ...string) Expr {
	if len(sources) == 0 {
		return False
	}
	e := sourceIs{set: make(map[string]struct{}, len(sources))}
	for _, src := range sources {
		e.set[src] = struct{}{}
		e.list = append(e.list, src)
	}
	return e
}

func (e sourceIs) Eval(s *model.Status) bool {
	_, ok := e.set[s.Source]
	return ok
}

func (e sourceIs) SQL() (string, []interface{}) {
	return "source IN ?", []interface{}{e.list}
}

type recipientIs int64

// RecipientIs matches direct messages addressed to id.
func RecipientIs(id int64) Expr { return recipientIs(id) }

func (r recipientIs) Eval(s *model.Status) bool {
	return s.RecipientID != nil && *s.RecipientID == int64(r)
}

func (r recipientIs) SQL() (string, []interface{}) {
	return "COALESCE(recipient_id, 0) = ?", []interface{}{int64(r)}
}

type kindIs model.StatusKind

func KindIs(k model.StatusKind) Expr { return kindIs(k) }

func (k kindIs) Eval(s *model.Status) bool { return s.Kind == model.StatusKind(k) }

func (k kindIs) SQL() (string, []interface{}) {
	return "kind = ?", []interface{}{int8(k)}
}
