/*
	This file implements a monitor of reads from the store.  Readers notify
	channels that are tallied each second to track I/O bandwidth.
*/

package storage

import (
	"sync"
	"time"
)

const MonitorBuffer = 10000

var (
	// Channel to notify bytes read from the store.
	StoreBytesRead chan int

	monitorMu sync.RWMutex

	// totals for the last complete second
	storeBytesReadPerSec int
	readsPerSec          int
)

// IOStats are the store reads during the last complete second.
type IOStats struct {
	BytesReadPerSec int `json:"bytesReadPerSec"`
	ReadsPerSec     int `json:"readsPerSec"`
}

func init() {
	StoreBytesRead = make(chan int, MonitorBuffer)
	go loadMonitor()
}

// notifyRead never blocks a reader; tallies are dropped when the buffer is full.
func notifyRead(n int) {
	select {
	case StoreBytesRead <- n:
	default:
	}
}

// ReadStats returns the bandwidth of store reads.
func ReadStats() IOStats {
	monitorMu.RLock()
	defer monitorMu.RUnlock()
	return IOStats{BytesReadPerSec: storeBytesReadPerSec, ReadsPerSec: readsPerSec}
}

func loadMonitor() {
	secondTick := time.Tick(1 * time.Second)
	var bytesRead, reads int
	for {
		select {
		case b := <-StoreBytesRead:
			bytesRead += b
			reads++
		case <-secondTick:
			monitorMu.Lock()
			storeBytesReadPerSec = bytesRead
			readsPerSec = reads
			monitorMu.Unlock()
			bytesRead, reads = 0, 0
		}
	}
}
