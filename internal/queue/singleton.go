package queue

import (
	"log"
	"sync"

	"content-job-queue/internal/storage"
)

// DefaultStorePath is the sqlite file backing the default manager.
const DefaultStorePath = "queue.db"

var (
	defaultOnce sync.Once
	defaultMgr  *Manager
)

// Default returns the process-wide manager, constructing and starting it on
// first use. The instance loads its snapshot from DefaultStorePath, registers
// the batch handler and runs for the lifetime of the process; there is no
// teardown in normal operation. Callers that need custom wiring should build
// their own Manager instead.
func Default() *Manager {
	defaultOnce.Do(func() {
		store, err := storage.NewStore(DefaultStorePath)
		if err != nil {
			log.Fatalf("[queue] failed to open default store: %v", err)
		}
		defaultMgr = NewManager(store, Config{Concurrency: 2})
		defaultMgr.RegisterHandler(TypeBatch, NewBatchHandler(defaultMgr, 0))
		defaultMgr.Start()
	})
	return defaultMgr
}
