package mtbd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

//ErrBadNewick indicates a malformed Newick string
var ErrBadNewick = errors.New("mtbd: malformed newick string")

//ReadNewickFile will read a tree from the first line of a Newick file
func ReadNewickFile(path string) (*Node, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tree file: %w", err)
	}
	for _, ln := range strings.Split(string(b), "\n") {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			return ReadNewickString(ln)
		}
	}
	return nil, ErrBadNewick
}

//ReadNewickString will parse a Newick tree, accepting optional branch
//lengths and [&type=...] annotations on nodes. The returned tree has
//parent links, node numbers, heights, and sampled-ancestor flags set.
func ReadNewickString(s string) (*Node, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ";")
	if s == "" {
		return nil, ErrBadNewick
	}

	root := &Node{}
	cur := root
	i := 0
	for i < len(s) {
		switch s[i] {
		case '(':
			child := &Node{}
			cur.AddChild(child)
			cur = child
			i++
		case ',':
			if cur.PAR == nil {
				return nil, ErrBadNewick
			}
			sib := &Node{}
			cur.PAR.AddChild(sib)
			cur = sib
			i++
		case ')':
			if cur.PAR == nil {
				return nil, ErrBadNewick
			}
			cur = cur.PAR
			i++
		default:
			j, err := parseNodeLabel(s, i, cur)
			if err != nil {
				return nil, err
			}
			i = j
		}
	}
	if cur != root {
		return nil, ErrBadNewick
	}

	root.NumberNodes()
	root.AssignHeights()
	root.MarkSampledAncestors()
	return root, nil
}

//parseNodeLabel consumes a name, annotation, and branch length starting at
//position i and returns the position after them
func parseNodeLabel(s string, i int, n *Node) (int, error) {
	start := i
	for i < len(s) && !strings.ContainsRune("(),:[", rune(s[i])) {
		i++
	}
	if i > start {
		n.NAME = s[start:i]
	}

	if i < len(s) && s[i] == '[' {
		end := strings.IndexByte(s[i:], ']')
		if end < 0 {
			return 0, ErrBadNewick
		}
		parseAnnotation(s[i+1:i+end], n)
		i += end + 1
	}

	if i < len(s) && s[i] == ':' {
		i++
		start = i
		for i < len(s) && !strings.ContainsRune("(),:[", rune(s[i])) {
			i++
		}
		ln, err := strconv.ParseFloat(s[start:i], 64)
		if err != nil {
			return 0, fmt.Errorf("bad branch length %q: %w", s[start:i], ErrBadNewick)
		}
		n.LEN = ln
		if i < len(s) && s[i] == '[' {
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return 0, ErrBadNewick
			}
			parseAnnotation(s[i+1:i+end], n)
			i += end + 1
		}
	}
	return i, nil
}

//parseAnnotation reads a [&key=value,...] comment, keeping the type hint
func parseAnnotation(body string, n *Node) {
	body = strings.TrimPrefix(body, "&")
	for _, kv := range strings.Split(body, ",") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.TrimSpace(parts[0]) == "type" {
			n.TYPE = strings.Trim(strings.TrimSpace(parts[1]), "\"'")
		}
	}
}

//Newick will return the Newick representation of the subtree below n,
//including branch lengths and type annotations where present
func (n *Node) Newick(showBrlens bool) string {
	var b strings.Builder
	n.writeNewick(&b, showBrlens)
	b.WriteString(";")
	return b.String()
}

func (n *Node) writeNewick(b *strings.Builder, showBrlens bool) {
	if len(n.CHLD) > 0 {
		b.WriteString("(")
		for i, c := range n.CHLD {
			if i > 0 {
				b.WriteString(",")
			}
			c.writeNewick(b, showBrlens)
		}
		b.WriteString(")")
	}
	b.WriteString(n.NAME)
	if n.TYPE != "" {
		b.WriteString("[&type=" + n.TYPE + "]")
	}
	if showBrlens && n.PAR != nil {
		b.WriteString(":" + strconv.FormatFloat(n.LEN, 'f', -1, 64))
	}
}
