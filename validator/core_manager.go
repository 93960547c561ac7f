package validator

import (
	"sync"
	"time"
)

// Result pairs a transaction with its validation outcome.
type Result struct {
	Txn *Txn
	Err error
}

// CoreManager holds a fixed-size pool of validation workers and runs
// batches of transactions through Validate concurrently, mirroring
// validator_core_manager.rs's rayon::ThreadPool-backed manager.
type CoreManager struct {
	size     int
	accounts AccountReader
	jobs     chan job
	wg       sync.WaitGroup
}

type job struct {
	txn    *Txn
	now    time.Time
	result chan<- Result
}

// NewCoreManager starts size worker goroutines reading from a shared job
// channel.
func NewCoreManager(size int, accounts AccountReader) *CoreManager {
	if size < 1 {
		size = 1
	}
	cm := &CoreManager{
		size:     size,
		accounts: accounts,
		jobs:     make(chan job, size*4),
	}
	for i := 0; i < size; i++ {
		cm.wg.Add(1)
		go cm.worker()
	}
	return cm
}

func (cm *CoreManager) worker() {
	defer cm.wg.Done()
	for j := range cm.jobs {
		err := Validate(j.txn, cm.accounts, j.now)
		j.result <- Result{Txn: j.txn, Err: err}
	}
}

// Validate runs every txn in batch through the pool and returns one Result
// per txn, in arbitrary order (the caller only needs the set, per spec
// §5's ValidatorCoreManager contract).
func (cm *CoreManager) Validate(batch []*Txn) []Result {
	now := time.Now()
	results := make(chan Result, len(batch))
	for _, t := range batch {
		cm.jobs <- job{txn: t, now: now, result: results}
	}
	out := make([]Result, 0, len(batch))
	for range batch {
		out = append(out, <-results)
	}
	return out
}

// Clone builds a fresh pool of the same size and account reader. Thread
// pools are not trivially duplicable (spec §5): cloning a CoreManager must
// not share the original's job channel or goroutines.
func (cm *CoreManager) Clone() *CoreManager {
	return NewCoreManager(cm.size, cm.accounts)
}

// Close shuts the pool down; Validate must not be called afterward.
func (cm *CoreManager) Close() {
	close(cm.jobs)
	cm.wg.Wait()
}
