// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package rng implements the 32-bit Mersenne Twister (MT19937) as an explicit, per-owner generator.
//
// The output stream is bit-for-bit identical to the reference mt19937ar implementation by
// Matsumoto and Nishimura, including its init_by_array seeding and the 53-bit resolution
// floating point conversion. That is what makes operand matrices reproducible across runs
// and across implementations.
//
// A Generator is not safe for concurrent use: each rank owns its own.
package rng

const (
	stateSize   = 624
	shiftSize   = 397
	matrixA     = 0x9908b0df
	upperMask   = 0x80000000
	lowerMask   = 0x7fffffff
	arraySeed   = 19650218
	defaultSeed = 5489
)

// Generator is a MT19937 stream. The zero value is usable and behaves as if seeded with Seed(5489).
type Generator struct {
	mt     [stateSize]uint32
	mti    int
	seeded bool
}

// New returns a Generator seeded by SeedByArray(key).
func New(key []uint32) *Generator {
	g := &Generator{}
	g.SeedByArray(key)
	return g
}

// Seed initializes the state with a single 32-bit seed (init_genrand).
func (g *Generator) Seed(s uint32) {
	g.mt[0] = s
	for i := 1; i < stateSize; i++ {
		g.mt[i] = 1812433253*(g.mt[i-1]^(g.mt[i-1]>>30)) + uint32(i)
	}
	g.mti = stateSize
	g.seeded = true
}

// SeedByArray initializes the state from a key of arbitrary length (init_by_array).
// An empty key is treated as a key with a single zero.
func (g *Generator) SeedByArray(key []uint32) {
	if len(key) == 0 {
		key = []uint32{0}
	}
	g.Seed(arraySeed)
	i, j := 1, 0
	k := max(stateSize, len(key))
	for ; k > 0; k-- {
		g.mt[i] = (g.mt[i] ^ ((g.mt[i-1] ^ (g.mt[i-1] >> 30)) * 1664525)) + key[j] + uint32(j)
		i++
		j++
		if i >= stateSize {
			g.mt[0] = g.mt[stateSize-1]
			i = 1
		}
		if j >= len(key) {
			j = 0
		}
	}
	for k = stateSize - 1; k > 0; k-- {
		g.mt[i] = (g.mt[i] ^ ((g.mt[i-1] ^ (g.mt[i-1] >> 30)) * 1566083941)) - uint32(i)
		i++
		if i >= stateSize {
			g.mt[0] = g.mt[stateSize-1]
			i = 1
		}
	}
	// MSB is 1, assuring a non-zero initial array.
	g.mt[0] = upperMask
}

// twist regenerates the whole state block.
func (g *Generator) twist() {
	mag01 := [2]uint32{0, matrixA}
	var y uint32
	kk := 0
	for ; kk < stateSize-shiftSize; kk++ {
		y = (g.mt[kk] & upperMask) | (g.mt[kk+1] & lowerMask)
		g.mt[kk] = g.mt[kk+shiftSize] ^ (y >> 1) ^ mag01[y&1]
	}
	for ; kk < stateSize-1; kk++ {
		y = (g.mt[kk] & upperMask) | (g.mt[kk+1] & lowerMask)
		g.mt[kk] = g.mt[kk+(shiftSize-stateSize)] ^ (y >> 1) ^ mag01[y&1]
	}
	y = (g.mt[stateSize-1] & upperMask) | (g.mt[0] & lowerMask)
	g.mt[stateSize-1] = g.mt[shiftSize-1] ^ (y >> 1) ^ mag01[y&1]
	g.mti = 0
}

// Uint32 returns the next raw 32-bit value of the stream (genrand_int32).
func (g *Generator) Uint32() uint32 {
	if !g.seeded {
		g.Seed(defaultSeed)
	}
	if g.mti >= stateSize {
		g.twist()
	}
	y := g.mt[g.mti]
	g.mti++

	// Tempering.
	y ^= y >> 11
	y ^= (y << 7) & 0x9d2c5680
	y ^= (y << 15) & 0xefc60000
	y ^= y >> 18
	return y
}

// Float64 returns a value in [0, 1) with 32-bit resolution (genrand_real2).
func (g *Generator) Float64() float64 {
	return float64(g.Uint32()) * (1.0 / 4294967296.0)
}

// Float64Res53 returns a value in [0, 1) with 53-bit resolution (genrand_res53).
//
// It consumes two raw draws a and b and returns ((a>>5)*2^26 + (b>>6)) / 2^53.
func (g *Generator) Float64Res53() float64 {
	a := g.Uint32() >> 5
	b := g.Uint32() >> 6
	return (float64(a)*67108864.0 + float64(b)) * (1.0 / 9007199254740992.0)
}
