package learner

// partition keeps the in-bag rows grouped by leaf. The rows of leaf l are
// indices[begin[l] : begin[l]+count[l]], in ascending row order.
type partition struct {
	indices []int
	begin   []int
	count   []int
	buf     []int
}

func newPartition(maxLeaves int) *partition {
	return &partition{
		begin: make([]int, maxLeaves),
		count: make([]int, maxLeaves),
	}
}

// init puts rows, or all numData rows when rows is nil, into leaf 0.
func (p *partition) init(numData int, rows []int) {
	if rows == nil {
		if cap(p.indices) < numData {
			p.indices = make([]int, numData)
		}
		p.indices = p.indices[:numData]
		for i := range p.indices {
			p.indices[i] = i
		}
	} else {
		p.indices = append(p.indices[:0], rows...)
	}
	if cap(p.buf) < len(p.indices) {
		p.buf = make([]int, len(p.indices))
	}
	for l := range p.begin {
		p.begin[l], p.count[l] = 0, 0
	}
	p.count[0] = len(p.indices)
}

// rows returns the rows of leaf.
func (p *partition) rows(leaf int) []int {
	return p.indices[p.begin[leaf] : p.begin[leaf]+p.count[leaf]]
}

// split moves the rows of leaf for which goesLeft is false into rightLeaf,
// keeping both sides in row order. It returns the left count.
func (p *partition) split(leaf, rightLeaf int, goesLeft func(row int) bool) int {
	rows := p.rows(leaf)
	nl := 0
	right := p.buf[:0]
	for _, r := range rows {
		if goesLeft(r) {
			rows[nl] = r
			nl++
		} else {
			right = append(right, r)
		}
	}
	copy(rows[nl:], right)
	p.count[leaf] = nl
	p.begin[rightLeaf] = p.begin[leaf] + nl
	p.count[rightLeaf] = len(rows) - nl
	return nl
}
