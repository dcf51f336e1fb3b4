package service

import "sync"

// keyedMutex serializes work per key. Different keys never contend, so an
// increment for one subject cannot wait behind another subject's.
type keyedMutex struct {
	locks sync.Map // key -> *sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	v, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}
