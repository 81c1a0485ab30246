package secret

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/drone/envsubst"
	"github.com/drone/envsubst/parse"
)

// ExpandEnv substitutes ${VAR} references from the environment. Shell
// forms with a fallback, such as ${VAR:-default}, may name unset
// variables; a plain ${VAR} whose variable is unset is an error. "$$"
// yields a literal "$".
func ExpandEnv(s string) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}
	// Each segment between escapes is expanded on its own, so an escaped
	// dollar never reaches the parser.
	segments := strings.Split(s, "$$")

	var missing []string
	for _, seg := range segments {
		tree, err := parse.Parse(seg)
		if err != nil {
			return "", fmt.Errorf("expand environment: %w", err)
		}
		for _, name := range plainRefs(tree.Root, nil) {
			if _, ok := os.LookupEnv(name); !ok && !slices.Contains(missing, name) {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return "", fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	for i, seg := range segments {
		out, err := envsubst.Eval(seg, os.Getenv)
		if err != nil {
			return "", fmt.Errorf("expand environment: %w", err)
		}
		segments[i] = out
	}
	return strings.Join(segments, "$"), nil
}

// plainRefs collects the variables referenced without a function, which
// are the only ones that cannot fall back to something.
func plainRefs(n parse.Node, acc []string) []string {
	switch n := n.(type) {
	case *parse.ListNode:
		for _, c := range n.Nodes {
			acc = plainRefs(c, acc)
		}
	case *parse.FuncNode:
		if n.Name == "" {
			acc = append(acc, n.Param)
		}
	}
	return acc
}
