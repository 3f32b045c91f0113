package orderbook

import "github.com/shopspring/decimal"

const (
	left  = 0
	right = 1
)

type node struct {
	level  *PriceLevel
	red    bool
	kid    [2]*node
	parent *node
}

func (n *node) price() decimal.Decimal { return n.level.Price }

// dir is the side of its parent that n hangs on. Not valid for the root.
func (n *node) dir() int {
	if n == n.parent.kid[right] {
		return right
	}
	return left
}

// RBTree indexes price levels by price. One tree per book side.
type RBTree struct {
	root *node
	leaf *node // shared black sentinel; its parent is scratch space for remove
	size int
}

func NewRBTree() *RBTree {
	leaf := &node{}
	return &RBTree{root: leaf, leaf: leaf}
}

// Size is the number of price levels.
func (t *RBTree) Size() int { return t.size }

func (t *RBTree) FindLevel(price decimal.Decimal) *PriceLevel {
	if n, _, _ := t.find(price); n != t.leaf {
		return n.level
	}
	return nil
}

// UpsertLevel returns the level at price, creating it if needed.
func (t *RBTree) UpsertLevel(price decimal.Decimal) *PriceLevel {
	n, parent, d := t.find(price)
	if n != t.leaf {
		return n.level
	}

	lvl := &PriceLevel{Price: price}
	n = &node{level: lvl, red: true, kid: [2]*node{t.leaf, t.leaf}, parent: parent}
	if parent == t.leaf {
		t.root = n
	} else {
		parent.kid[d] = n
	}
	t.size++
	t.fixInsert(n)
	return lvl
}

func (t *RBTree) DeleteLevel(price decimal.Decimal) bool {
	n, _, _ := t.find(price)
	if n == t.leaf {
		return false
	}
	t.remove(n)
	t.size--
	return true
}

func (t *RBTree) MinLevel() *PriceLevel { return t.end(left) }

func (t *RBTree) MaxLevel() *PriceLevel { return t.end(right) }

// ForEachAscending stops when fn returns false.
func (t *RBTree) ForEachAscending(fn func(*PriceLevel) bool) { t.walk(right, fn) }

func (t *RBTree) ForEachDescending(fn func(*PriceLevel) bool) { t.walk(left, fn) }

func (t *RBTree) end(d int) *PriceLevel {
	if n := t.extreme(t.root, d); n != t.leaf {
		return n.level
	}
	return nil
}

func (t *RBTree) walk(d int, fn func(*PriceLevel) bool) {
	for n := t.extreme(t.root, 1-d); n != t.leaf; n = t.step(n, d) {
		if !fn(n.level) {
			return
		}
	}
}

// find returns the node at price, or the leaf together with the parent and
// side a new node for price would attach to.
func (t *RBTree) find(price decimal.Decimal) (n, parent *node, d int) {
	parent = t.leaf
	for n = t.root; n != t.leaf; n = n.kid[d] {
		c := price.Cmp(n.price())
		if c == 0 {
			return n, parent, d
		}
		parent, d = n, left
		if c > 0 {
			d = right
		}
	}
	return t.leaf, parent, d
}

// extreme follows d children from n to the end.
func (t *RBTree) extreme(n *node, d int) *node {
	if n == t.leaf {
		return n
	}
	for n.kid[d] != t.leaf {
		n = n.kid[d]
	}
	return n
}

// step moves to the in-order neighbour of n in direction d.
func (t *RBTree) step(n *node, d int) *node {
	if n.kid[d] != t.leaf {
		return t.extreme(n.kid[d], 1-d)
	}
	for p := n.parent; p != t.leaf; n, p = p, p.parent {
		if n != p.kid[d] {
			return p
		}
	}
	return t.leaf
}

// replace hangs v where u was. v may be the leaf.
func (t *RBTree) replace(u, v *node) {
	if u.parent == t.leaf {
		t.root = v
	} else {
		u.parent.kid[u.dir()] = v
	}
	v.parent = u.parent
}

// rotate moves n down towards d; its child on the other side takes its place.
func (t *RBTree) rotate(n *node, d int) {
	up := n.kid[1-d]
	n.kid[1-d] = up.kid[d]
	if up.kid[d] != t.leaf {
		up.kid[d].parent = n
	}
	t.replace(n, up)
	up.kid[d] = n
	n.parent = up
}

func (t *RBTree) fixInsert(n *node) {
	for n.parent.red {
		p := n.parent
		g := p.parent
		d := p.dir()

		if uncle := g.kid[1-d]; uncle.red {
			p.red, uncle.red, g.red = false, false, true
			n = g
			continue
		}
		if n.dir() != d {
			n, p = p, n
			t.rotate(n, d)
		}
		p.red, g.red = false, true
		t.rotate(g, 1-d)
	}
	t.root.red = false
}

func (t *RBTree) remove(z *node) {
	y, removedRed := z, z.red
	var x *node

	switch {
	case z.kid[left] == t.leaf:
		x = z.kid[right]
		t.replace(z, x)
	case z.kid[right] == t.leaf:
		x = z.kid[left]
		t.replace(z, x)
	default:
		// z has two children: its successor y takes its place and color.
		y = t.extreme(z.kid[right], left)
		removedRed = y.red
		x = y.kid[right]
		if y.parent == z {
			x.parent = y
		} else {
			t.replace(y, x)
			y.kid[right] = z.kid[right]
			y.kid[right].parent = y
		}
		t.replace(z, y)
		y.kid[left] = z.kid[left]
		y.kid[left].parent = y
		y.red = z.red
	}

	if !removedRed {
		t.fixRemove(x)
	}
}

// fixRemove restores black height along x's path, x carrying an extra black.
func (t *RBTree) fixRemove(x *node) {
	for x != t.root && !x.red {
		p := x.parent
		d := x.dir()
		w := p.kid[1-d]

		if w.red {
			w.red, p.red = false, true
			t.rotate(p, d)
			w = p.kid[1-d]
		}
		if !w.kid[left].red && !w.kid[right].red {
			w.red = true
			x = p
			continue
		}
		if !w.kid[1-d].red {
			w.kid[d].red = false
			w.red = true
			t.rotate(w, 1-d)
			w = p.kid[1-d]
		}
		w.red = p.red
		p.red = false
		w.kid[1-d].red = false
		t.rotate(p, d)
		x = t.root
	}
	x.red = false
}
