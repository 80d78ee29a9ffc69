package background

// history keeps the last n gray values of each pixel. A pixel is background when at
// least k of them lie within the squared distance threshold. Background pixels
// replace their oldest sample on every frame at the default learning rate, foreground
// pixels only with probability fgFactor, so a moving object needs several frames
// before it is learned.
type history struct {
	n         int
	k         int
	threshold int
	samples   []uint8
	filled    []uint16
	next      []uint16
	rng       xorshift
}

func newHistory(n, k int, threshold float64, seed uint64) *history {
	return &history{
		n:         n,
		k:         k,
		threshold: int(threshold),
		rng:       newXorshift(seed),
	}
}

func (h *history) reset(pixels int) {
	h.samples = make([]uint8, pixels*h.n)
	h.filled = make([]uint16, pixels)
	h.next = make([]uint16, pixels)
}

func (h *history) apply(gray, mask []byte, rate, fgFactor float64, warming bool) {
	insert := rate * float64(h.n)
	if insert > 1 {
		insert = 1
	}

	for i, px := range gray {
		base := i * h.n
		filled := int(h.filled[i])

		near := 0
		for j := 0; j < filled && near < h.k; j++ {
			d := int(px) - int(h.samples[base+j])
			if d*d < h.threshold {
				near++
			}
		}

		p := insert
		switch {
		case warming:
			mask[i] = maskBackground
			p = 1
		case near >= h.k:
			mask[i] = maskBackground
		default:
			mask[i] = maskForeground
			p *= fgFactor
		}

		if p >= 1 || h.rng.float64() < p {
			slot := int(h.next[i])
			h.samples[base+slot] = px
			h.next[i] = uint16((slot + 1) % h.n)
			if filled < h.n {
				h.filled[i]++
			}
		}
	}
}

// xorshift is a small deterministic generator so runs over the same input produce
// the same masks.
type xorshift uint64

func newXorshift(seed uint64) xorshift {
	if seed == 0 {
		seed = 0x9E3779B97F4A7C15
	}
	return xorshift(seed)
}

func (x *xorshift) next() uint64 {
	v := uint64(*x)
	v ^= v << 13
	v ^= v >> 7
	v ^= v << 17
	*x = xorshift(v)
	return v
}

// float64 returns a value in [0, 1).
func (x *xorshift) float64() float64 {
	return float64(x.next()>>11) / (1 << 53)
}
