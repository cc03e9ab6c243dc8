// Package prof collects runtime profiles of the bridge process.
//
// Profiling is compiled in only with the "profile" build tag:
//
//	go build -tags profile ./cmd/tildabridge
//
// Without the tag every function is a no-op and Enabled is false, so the
// flags that request profiles can stay in place in release builds.
//
// With the tag, the run command accepts --cpu-profile and --heap-profile,
// and the metrics endpoint also serves /debug/pprof/.
package prof
