// Package rollsum implements the rsync weak rolling checksum used for
// coarse block matching: two 16-bit additive sums packed into a uint32,
// cheap to slide one byte at a time across a window.
package rollsum

const mod = 1 << 16

// Rollsum accumulates the checksum of a fixed-length window.
type Rollsum struct {
	a, b uint32
	n    int
}

// Sum returns the checksum of block in one shot.
func Sum(block []byte) uint32 {
	var r Rollsum
	r.Update(block)
	return r.Sum32()
}

// Reset clears the accumulated window.
func (r *Rollsum) Reset() {
	*r = Rollsum{}
}

// Update extends the window with p.
func (r *Rollsum) Update(p []byte) {
	for i, c := range p {
		r.a += uint32(c)
		r.b += uint32(len(p)-i) * uint32(c)
	}
	r.a %= mod
	r.b %= mod
	r.n += len(p)
}

// Roll slides the window one byte: out leaves the front, in enters the
// back. The window length is unchanged.
func (r *Rollsum) Roll(out, in byte) {
	r.a = (r.a + mod - uint32(out) + uint32(in)) % mod
	r.b = (r.b + mod - uint32(r.n)*uint32(out)%mod + r.a) % mod
}

// Sum32 returns the checksum of the current window.
func (r *Rollsum) Sum32() uint32 {
	return r.a | r.b<<16
}

// Len returns the current window length.
func (r *Rollsum) Len() int {
	return r.n
}
