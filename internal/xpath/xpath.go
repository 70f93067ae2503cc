// SPDX-License-Identifier: LGPL-2.1-only

// Package xpath implements the Eval contract store.Get depends on to
// resolve a NETCONF <get>/<get-config> "select" filter's xpath expression
// into a set of matching nodes. It is deliberately not a general XPath 1.0
// engine: only child-step paths and a single "[key='value']" predicate on
// a list's key leaf are supported, the subset spec.md's own scenarios
// exercise. Only a predicate lacking its closing ']' or an '=' is
// reported as an error; other syntax outside the subset (such as "//",
// "*" or several predicates) is not detected and is evaluated literally
// as child steps, giving a match set XPath 1.0 would not.
package xpath

import (
	"fmt"
	"strings"

	"github.com/clicon-go/confd/internal/tree"
)

// Eval resolves expr, rooted at id, into the matching node set. nsctx maps
// an expression's namespace prefixes to their namespace URI; a step
// without a prefix matches any namespace.
func Eval(t *tree.Tree, id tree.ID, expr string, nsctx map[string]string) ([]tree.ID, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return []tree.ID{id}, nil
	}
	steps, err := parseSteps(expr)
	if err != nil {
		return nil, err
	}
	cur := []tree.ID{id}
	for _, step := range steps {
		var next []tree.ID
		for _, c := range cur {
			next = append(next, evalStep(t, c, step, nsctx)...)
		}
		cur = next
		if len(cur) == 0 {
			break
		}
	}
	return cur, nil
}

type step struct {
	prefix   string
	name     string
	predKey  string
	predVal  string
	hasPred  bool
}

func parseSteps(expr string) ([]step, error) {
	expr = strings.TrimPrefix(expr, "/")
	parts := strings.Split(expr, "/")
	steps := make([]step, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		s, err := parseStep(p)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func parseStep(raw string) (step, error) {
	s := step{}
	name := raw
	if i := strings.IndexByte(raw, '['); i >= 0 {
		if !strings.HasSuffix(raw, "]") {
			return s, fmt.Errorf("xpath: malformed predicate in step %q", raw)
		}
		name = raw[:i]
		pred := raw[i+1 : len(raw)-1]
		eq := strings.IndexByte(pred, '=')
		if eq < 0 {
			return s, fmt.Errorf("xpath: unsupported predicate %q (only key='value' is supported)", pred)
		}
		s.predKey = strings.TrimSpace(pred[:eq])
		val := strings.TrimSpace(pred[eq+1:])
		val = strings.Trim(val, `'"`)
		s.predVal = val
		s.hasPred = true
	}
	if i := strings.IndexByte(name, ':'); i >= 0 {
		s.prefix = name[:i]
		s.name = name[i+1:]
	} else {
		s.name = name
	}
	return s, nil
}

func evalStep(t *tree.Tree, parent tree.ID, s step, nsctx map[string]string) []tree.ID {
	ns := ""
	if s.prefix != "" {
		ns = nsctx[s.prefix]
	}
	var out []tree.ID
	for _, c := range t.Children(parent) {
		cn := t.Node(c)
		if cn.Name != s.name {
			continue
		}
		if ns != "" && cn.Namespace != ns {
			continue
		}
		if s.hasPred {
			key := t.ChildByName(c, s.predKey, "")
			if key == tree.NoNode {
				for _, kc := range t.Children(c) {
					if t.Node(kc).Name == s.predKey {
						key = kc
						break
					}
				}
			}
			if key == tree.NoNode || t.Node(key).Body != s.predVal {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}
