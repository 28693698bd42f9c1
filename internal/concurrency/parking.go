// File: internal/concurrency/parking.go
// Package concurrency implements the global address-keyed parking table.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The parking table is a process-wide hash table from an arbitrary
// uint64 token to a list of fibers waiting on it. It is the primitive
// higher-level mutexes/condvars/channels build wait/notify on top of,
// without per-primitive allocation. Rehashing builds a new, doubled bucket
// array while holding every old bucket's spinlock, so an accessor landing
// on the old array spins until the move is done and then retries on the
// new one; the retired bucket array is reclaimed through
// QSBR (see qsbr.go) rather than freed immediately, since a concurrent
// accessor may still be holding a pointer to it.

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/momentics/fibersched/pool"
)

// spinLock is a minimal CAS spinlock, used because parking buckets are
// held only for the handful of instructions needed to scan or splice a
// short waiter list.
type spinLock struct {
	held atomic.Bool
}

func (l *spinLock) Lock() {
	for !l.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (l *spinLock) Unlock() {
	l.held.Store(false)
}

type parkingBucket struct {
	mu          spinLock
	waiters     []*Fiber
	wasRehashed bool
}

type sizedBuckets struct {
	shift uint
	mask  uint64
	arr   []parkingBucket
}

func newSizedBuckets(shift uint, alloc func() []*Fiber) *sizedBuckets {
	n := uint64(1) << shift
	sb := &sizedBuckets{shift: shift, mask: n - 1, arr: make([]parkingBucket, n)}
	for i := range sb.arr {
		sb.arr[i].waiters = alloc()
	}
	return sb
}

func (sb *sizedBuckets) getBucket(hash uint64) uint64 {
	return hash & sb.mask
}

// mixHash is Thomas Wang's 64-bit integer hash mix.
func mixHash(key uint64) uint64 {
	key += ^(key << 32)
	key ^= key >> 22
	key += ^(key << 13)
	key ^= key >> 8
	key += key << 3
	key ^= key >> 15
	key += ^(key << 27)
	key ^= key >> 31
	return key
}

type parkingHT struct {
	buckets    atomic.Pointer[sizedBuckets]
	numEntries atomic.Uint32
	rehashing  atomic.Bool
	slicePool  *pool.SyncPool[[]*Fiber]
}

const parkingInitialShift = 6

func newParkingHT() *parkingHT {
	p := &parkingHT{
		slicePool: pool.NewSyncPool(func() []*Fiber { return nil }),
	}
	sb := newSizedBuckets(parkingInitialShift, p.slicePool.Get)
	p.buckets.Store(sb)
	return p
}

// Emplace parks fi under token unless validate reports true, in which
// case the fiber is not queued (the caller's condition was already
// satisfied, or its wait was already canceled). Returns whether fi was
// actually parked.
func (p *parkingHT) Emplace(caller *Scheduler, token uint64, fi *Fiber, validate func() bool) bool {
	hash := mixHash(token)
	var sb *sizedBuckets
	parked := false

	for {
		sb = p.buckets.Load()
		bucket := sb.getBucket(hash)
		pb := &sb.arr[bucket]
		pb.mu.Lock()
		if !pb.wasRehashed {
			if validate() {
				pb.mu.Unlock()
				break
			}
			fi.parkToken = token
			pb.waiters = append(pb.waiters, fi)
			p.numEntries.Add(1)
			parked = true
			pb.mu.Unlock()
			break
		}
		pb.mu.Unlock()
	}

	caller.logger.Trace().Uint64("token", token).Bool("parked", parked).Msg("parking: emplace")
	if parked {
		if p.numEntries.Load() > uint32(len(sb.arr)) {
			p.tryRehash(caller, sb)
		}
	} else {
		caller.qsbr.Checkpoint()
	}
	return parked
}

// Remove finds and removes the first waiter parked under token, calling
// onHit with it, or onMiss if no such waiter exists. Both callbacks run
// with the bucket lock still held, so a caller can atomically update
// fiber flags (e.g. clearing kParkingInProgress) alongside the removal
// instead of racing a concurrent Emplace/Remove on the same bucket.
func (p *parkingHT) Remove(caller *Scheduler, token uint64, onHit func(*Fiber), onMiss func()) *Fiber {
	hash := mixHash(token)
	for {
		sb := p.buckets.Load()
		bucket := sb.getBucket(hash)
		pb := &sb.arr[bucket]
		pb.mu.Lock()
		if !pb.wasRehashed {
			for i, w := range pb.waiters {
				if w.parkToken == token {
					pb.waiters = append(pb.waiters[:i], pb.waiters[i+1:]...)
					p.numEntries.Add(^uint32(0))
					onHit(w)
					pb.mu.Unlock()
					caller.logger.Trace().Uint64("token", token).Str("fiber", w.name).Msg("parking: removed waiter")
					return w
				}
			}
			onMiss()
			pb.mu.Unlock()
			caller.logger.Trace().Uint64("token", token).Msg("parking: remove missed, no waiter for token")
			return nil
		}
		pb.mu.Unlock()
	}
}

// RemoveAll removes every waiter parked under token, appending them to out.
func (p *parkingHT) RemoveAll(caller *Scheduler, token uint64, out *[]*Fiber) {
	hash := mixHash(token)
	for {
		sb := p.buckets.Load()
		bucket := sb.getBucket(hash)
		pb := &sb.arr[bucket]
		pb.mu.Lock()
		if !pb.wasRehashed {
			kept := pb.waiters[:0]
			for _, w := range pb.waiters {
				if w.parkToken == token {
					*out = append(*out, w)
					p.numEntries.Add(^uint32(0))
				} else {
					kept = append(kept, w)
				}
			}
			pb.waiters = kept
			pb.mu.Unlock()
			break
		}
		pb.mu.Unlock()
	}
	caller.logger.Trace().Uint64("token", token).Int("count", len(*out)).Msg("parking: removed all waiters for token")
	caller.qsbr.Checkpoint()
}

// tryRehash doubles the bucket count once the load factor exceeds 1.0.
// Only one rehash runs at a time; losers of the race return immediately.
func (p *parkingHT) tryRehash(caller *Scheduler, curSb *sizedBuckets) {
	if p.rehashing.Swap(true) {
		return
	}
	sb := p.buckets.Load()
	if sb != curSb {
		p.rehashing.Store(false)
		return
	}

	caller.logger.Debug().Uint("old_shift", sb.shift).Uint("new_shift", sb.shift+1).Msg("parking: rehash starting")

	newSb := newSizedBuckets(sb.shift+1, p.slicePool.Get)
	for i := range sb.arr {
		sb.arr[i].mu.Lock()
	}
	for i := range sb.arr {
		pb := &sb.arr[i]
		pb.wasRehashed = true
		for _, fi := range pb.waiters {
			h := mixHash(fi.parkToken)
			nb := newSb.getBucket(h)
			newSb.arr[nb].waiters = append(newSb.arr[nb].waiters, fi)
		}
		pb.waiters = pb.waiters[:0]
	}
	p.buckets.Store(newSb)
	for i := range sb.arr {
		sb.arr[i].mu.Unlock()
	}

	target := bumpEpochForDefer()
	oldArr := sb.arr
	caller.Defer(target, func() {
		for i := range oldArr {
			p.slicePool.Put(oldArr[i].waiters[:0])
		}
		caller.logger.Debug().Int("buckets", len(oldArr)).Msg("parking: old bucket array retired")
	})

	p.rehashing.Store(false)
}

var (
	globalParkingMu   sync.Mutex
	globalParkingHT   *parkingHT
	globalParkingRefs int
)

func acquireGlobalParkingHT() *parkingHT {
	globalParkingMu.Lock()
	defer globalParkingMu.Unlock()
	if globalParkingHT == nil {
		globalParkingHT = newParkingHT()
	}
	globalParkingRefs++
	return globalParkingHT
}

func releaseGlobalParkingHT() {
	globalParkingMu.Lock()
	defer globalParkingMu.Unlock()
	globalParkingRefs--
	if globalParkingRefs == 0 {
		globalParkingHT = nil
	}
}

// ParkingTableStats reports the entry and bucket counts of the process-wide
// parking table, for debug probes and metrics. Both are zero if no
// scheduler is currently running.
func ParkingTableStats() (entries uint32, buckets int) {
	globalParkingMu.Lock()
	ht := globalParkingHT
	globalParkingMu.Unlock()
	if ht == nil {
		return 0, 0
	}
	return ht.numEntries.Load(), len(ht.buckets.Load().arr)
}
