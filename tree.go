package mtbd

//Node is a node in a time tree. A node's edge spans from its own height up
//to its parent's height. Leaves have no children, a direct (sampled)
//ancestor appears as a zero-length leaf below a bifurcation, and all other
//internal nodes are bifurcations.
type Node struct {
	NAME   string
	NUM    int
	LEN    float64
	HEIGHT float64
	TYPE   string
	ANC    bool
	CHLD   []*Node
	PAR    *Node
}

//AddChild will attach a child node and set its parent pointer
func (n *Node) AddChild(c *Node) {
	c.PAR = n
	n.CHLD = append(n.CHLD, c)
}

//PreorderArray will return a slice of all nodes in preorder
func (n *Node) PreorderArray() (ret []*Node) {
	ret = append(ret, n)
	for _, c := range n.CHLD {
		ret = append(ret, c.PreorderArray()...)
	}
	return
}

//LeafCount will return the number of leaves below (and including) n
func (n *Node) LeafCount() int {
	count := 0
	for _, nd := range n.PreorderArray() {
		if len(nd.CHLD) == 0 {
			count++
		}
	}
	return count
}

//DirectAncestorCount will return the number of sampled-ancestor leaves
func (n *Node) DirectAncestorCount() int {
	count := 0
	for _, nd := range n.PreorderArray() {
		if nd.ANC {
			count++
		}
	}
	return count
}

//NumberNodes will assign node numbers with the leaves first (0..nLeaves-1)
//followed by the internal nodes, in preorder encounter order
func (n *Node) NumberNodes() {
	nodes := n.PreorderArray()
	num := 0
	for _, nd := range nodes {
		if len(nd.CHLD) == 0 {
			nd.NUM = num
			num++
		}
	}
	for _, nd := range nodes {
		if len(nd.CHLD) != 0 {
			nd.NUM = num
			num++
		}
	}
}

//AssignHeights will set node heights from branch lengths, placing the
//deepest tip at height 0
func (n *Node) AssignHeights() {
	maxDepth := 0.
	var walk func(nd *Node, depth float64)
	walk = func(nd *Node, depth float64) {
		depth += nd.LEN
		if len(nd.CHLD) == 0 && depth > maxDepth {
			maxDepth = depth
		}
		for _, c := range nd.CHLD {
			walk(c, depth)
		}
	}
	walk(n, -n.LEN)

	var set func(nd *Node, depth float64)
	set = func(nd *Node, depth float64) {
		depth += nd.LEN
		nd.HEIGHT = maxDepth - depth
		for _, c := range nd.CHLD {
			set(c, depth)
		}
	}
	set(n, -n.LEN)
}

//MarkSampledAncestors will flag zero-length leaves hanging below a
//bifurcation as direct ancestors
func (n *Node) MarkSampledAncestors() {
	for _, nd := range n.PreorderArray() {
		nd.ANC = len(nd.CHLD) == 0 && nd.PAR != nil &&
			len(nd.PAR.CHLD) == 2 && equalWithPrecision(nd.LEN, 0)
	}
}

//isFakeBifurcation reports whether n is the attachment point of a direct
//ancestor rather than a real birth event
func (n *Node) isFakeBifurcation() bool {
	if len(n.CHLD) != 2 {
		return false
	}
	return n.CHLD[0].ANC || n.CHLD[1].ANC
}
