package cipher

// 64-bit Mersenne Twister (MT19937-64) parameters.
const (
	mtN         = 312
	mtM         = 156
	mtMatrixA   = 0xB5026F5AA96619E9
	mtUpperMask = 0xFFFFFFFF80000000
	mtLowerMask = 0x000000007FFFFFFF
)

// mt64 is a MT19937-64 generator seeded the way init_genrand64 seeds it.
type mt64 struct {
	state [mtN]uint64
	index int
}

func newMT64(seed uint64) *mt64 {
	m := &mt64{index: mtN}
	m.state[0] = seed
	for i := 1; i < mtN; i++ {
		prev := m.state[i-1]
		m.state[i] = 6364136223846793005*(prev^(prev>>62)) + uint64(i)
	}
	return m
}

func (m *mt64) twist() {
	for i := 0; i < mtN; i++ {
		x := m.state[i]&mtUpperMask | m.state[(i+1)%mtN]&mtLowerMask
		xA := x >> 1
		if x&1 != 0 {
			xA ^= mtMatrixA
		}
		m.state[i] = m.state[(i+mtM)%mtN] ^ xA
	}
	m.index = 0
}

func (m *mt64) next() uint64 {
	if m.index >= mtN {
		m.twist()
	}
	x := m.state[m.index]
	m.index++

	x ^= (x >> 29) & 0x5555555555555555
	x ^= (x << 17) & 0x71D67FFFEDA60000
	x ^= (x << 37) & 0xFFF7EEE000000000
	x ^= x >> 43
	return x
}
