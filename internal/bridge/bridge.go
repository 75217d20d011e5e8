// Package bridge splices two byte streams until either side closes.
package bridge

import (
	"io"
	"net"
	"sync"

	"github.com/subwaynet/subway/pkg/logger"
)

// copyBuf is the per-direction read buffer size. Back-pressure comes from the
// transport send buffers; the bridge never holds more than one read.
const copyBuf = 32 * 1024

// Splice copies bytes between a and b in both directions concurrently. A
// half-close or transport error on either side tears down both connections.
// Errors are absorbed: Splice always returns normally once both directions
// have finished.
func Splice(a, b net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)
	go pipe(a, b, &wg)
	go pipe(b, a, &wg)
	wg.Wait()
}

func pipe(src, dst net.Conn, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, copyBuf)
	if _, err := io.CopyBuffer(dst, src, buf); err != nil {
		logger.Debug("bridge %s -> %s: %v", src.RemoteAddr(), dst.RemoteAddr(), err)
	}
	// Either EOF or error: close both ends so the peer direction unblocks.
	_ = dst.Close()
	_ = src.Close()
}
