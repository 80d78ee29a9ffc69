package background

const (
	mixtureBackgroundRatio = 0.9
	mixtureVarInit         = 15
	mixtureVarMin          = 4
	mixtureVarMax          = 75
)

// mixture models each pixel as up to k weighted gaussians kept sorted by weight.
// The heaviest components that together reach mixtureBackgroundRatio describe the
// background.
type mixture struct {
	k         int
	threshold float32
	modes     []uint8
	weight    []float32
	mean      []float32
	variance  []float32
}

func newMixture(k int, threshold float64) *mixture {
	return &mixture{k: k, threshold: float32(threshold)}
}

func (m *mixture) reset(pixels int) {
	m.modes = make([]uint8, pixels)
	m.weight = make([]float32, pixels*m.k)
	m.mean = make([]float32, pixels*m.k)
	m.variance = make([]float32, pixels*m.k)
}

func (m *mixture) apply(gray, mask []byte, rate, fgFactor float64, warming bool) {
	for i, px := range gray {
		x := float32(px)
		base := i * m.k
		n := int(m.modes[i])

		matched := -1
		background := false
		var cumulative float32
		for j := 0; j < n; j++ {
			d := x - m.mean[base+j]
			if d*d < m.threshold*m.variance[base+j] {
				matched = j
				background = cumulative < mixtureBackgroundRatio
				break
			}
			cumulative += m.weight[base+j]
		}

		alpha := float32(rate)
		switch {
		case warming:
			mask[i] = maskBackground
		case background:
			mask[i] = maskBackground
		default:
			mask[i] = maskForeground
			alpha *= float32(fgFactor)
		}

		for j := 0; j < n; j++ {
			m.weight[base+j] *= 1 - alpha
		}

		if matched >= 0 {
			c := base + matched
			m.weight[c] += alpha
			rho := float32(1)
			if m.weight[c] > 0 {
				rho = alpha / m.weight[c]
			}
			if rho > 1 {
				rho = 1
			}
			d := x - m.mean[c]
			m.mean[c] += rho * d
			m.variance[c] = clampVariance(m.variance[c] + rho*(d*d-m.variance[c]))
			m.sortUp(base, matched)
		} else {
			slot := n
			if n < m.k {
				n++
				m.modes[i] = uint8(n)
			} else {
				slot = n - 1
			}
			w := alpha
			if n == 1 {
				w = 1
			}
			c := base + slot
			m.weight[c] = w
			m.mean[c] = x
			m.variance[c] = mixtureVarInit
			m.sortUp(base, slot)
		}

		var sum float32
		for j := 0; j < n; j++ {
			sum += m.weight[base+j]
		}
		if sum > 0 {
			inv := 1 / sum
			for j := 0; j < n; j++ {
				m.weight[base+j] *= inv
			}
		}
	}
}

// sortUp moves component j towards the front while it outweighs its predecessor.
func (m *mixture) sortUp(base, j int) {
	for ; j > 0 && m.weight[base+j] > m.weight[base+j-1]; j-- {
		a, b := base+j, base+j-1
		m.weight[a], m.weight[b] = m.weight[b], m.weight[a]
		m.mean[a], m.mean[b] = m.mean[b], m.mean[a]
		m.variance[a], m.variance[b] = m.variance[b], m.variance[a]
	}
}

func clampVariance(v float32) float32 {
	if v < mixtureVarMin {
		return mixtureVarMin
	}
	if v > mixtureVarMax {
		return mixtureVarMax
	}
	return v
}
