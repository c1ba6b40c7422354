// Package benchmark holds performance benchmarks for workingdb.
//
// Run benchmarks with:
//
//	go test -bench=. -benchmem ./internal/tests/benchmark/...
//
// Run one family at a larger scale:
//
//	go test -bench=BenchmarkExecutor -benchmem -benchtime=10s ./internal/tests/benchmark/...
//
// Compare results:
//
//	go test -bench=. -benchmem -count=5 ./internal/tests/benchmark/... | tee new.txt
//	benchstat old.txt new.txt
package benchmark
