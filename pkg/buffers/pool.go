// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package buffers

import "sync"

type poolKey struct {
	isInt  bool
	length int
}

// hostPool reuses host buffers across buffer recreations, by element type and length.
type hostPool struct {
	pools sync.Map // poolKey -> *sync.Pool
}

func (p *hostPool) getPool(isInt bool, length int) *sync.Pool {
	key := poolKey{isInt: isInt, length: length}
	pool, ok := p.pools.Load(key)
	if !ok {
		pool, _ = p.pools.LoadOrStore(key, &sync.Pool{
			New: func() any {
				if isInt {
					s := make([]int32, length)
					return &s
				}
				s := make([]float32, length)
				return &s
			},
		})
	}
	return pool.(*sync.Pool)
}

func (p *hostPool) getFloat32(length int) []float32 {
	return *p.getPool(false, length).Get().(*[]float32)
}

func (p *hostPool) putFloat32(s []float32) {
	if len(s) == 0 {
		return
	}
	p.getPool(false, len(s)).Put(&s)
}

func (p *hostPool) getInt32(length int) []int32 {
	return *p.getPool(true, length).Get().(*[]int32)
}

func (p *hostPool) putInt32(s []int32) {
	if len(s) == 0 {
		return
	}
	p.getPool(true, len(s)).Put(&s)
}
