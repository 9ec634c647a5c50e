package reconcile

// clusterInfo is what survivor selection needs to know about a cluster root.
type clusterInfo struct {
	createdAt  int64
	aliasCount int
}

// unionFind plans a pass in memory. Roots are always the supplier that
// survives, so find(x) is the id x will be merged into by the end of the pass.
type unionFind struct {
	parent map[uint]uint
	info   map[uint]clusterInfo
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[uint]uint), info: make(map[uint]clusterInfo)}
}

func (u *unionFind) add(id uint, info clusterInfo) {
	if _, ok := u.parent[id]; ok {
		if existing := u.info[id]; info.aliasCount > existing.aliasCount {
			existing.aliasCount = info.aliasCount
			u.info[id] = existing
		}
		return
	}
	u.parent[id] = id
	u.info[id] = info
}

func (u *unionFind) known(id uint) bool {
	_, ok := u.parent[id]
	return ok
}

func (u *unionFind) find(id uint) uint {
	root := id
	for {
		p, ok := u.parent[root]
		if !ok || p == root {
			break
		}
		root = p
	}
	for id != root {
		next := u.parent[id]
		u.parent[id] = root
		id = next
	}
	return root
}

// survivor picks which of two roots absorbs the other: the older supplier,
// then the one with more aliases, then the lower id.
func (u *unionFind) survivor(a, b uint) (survivor, absorbed uint) {
	ia, ib := u.info[a], u.info[b]
	switch {
	case ia.createdAt != ib.createdAt:
		if ia.createdAt < ib.createdAt {
			return a, b
		}
		return b, a
	case ia.aliasCount != ib.aliasCount:
		if ia.aliasCount > ib.aliasCount {
			return a, b
		}
		return b, a
	case a < b:
		return a, b
	default:
		return b, a
	}
}

// union records that absorbed now belongs to survivor. Both must be roots.
func (u *unionFind) union(survivor, absorbed uint) {
	u.parent[absorbed] = survivor
	s := u.info[survivor]
	s.aliasCount += u.info[absorbed].aliasCount
	u.info[survivor] = s
	delete(u.info, absorbed)
}
