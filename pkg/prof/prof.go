//go:build profile

package prof

import (
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	rpprof "runtime/pprof"
	"sync"
)

// Enabled reports whether profiling is compiled in.
const Enabled = true

// ErrCPUProfileActive is returned by StartCPU while a CPU profile runs.
var ErrCPUProfileActive = errors.New("cpu profile already active")

var (
	cpuMutex  sync.Mutex
	cpuActive bool
)

// StartCPU writes a CPU profile to path until the returned stop function
// is called.
func StartCPU(path string) (stop func() error, err error) {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()
	if cpuActive {
		return nil, ErrCPUProfileActive
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := rpprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, err
	}
	cpuActive = true

	return func() error {
		cpuMutex.Lock()
		defer cpuMutex.Unlock()
		if !cpuActive {
			return nil
		}
		rpprof.StopCPUProfile()
		cpuActive = false
		return f.Close()
	}, nil
}

// WriteHeap writes a heap profile to path after a garbage collection.
func WriteHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	runtime.GC()
	if err := rpprof.WriteHeapProfile(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Register adds the /debug/pprof/ handlers to mux.
func Register(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}
