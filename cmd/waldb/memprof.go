//go:build memprof

package main

import (
	"fmt"
	"os"
	"runtime/pprof"
)

func init() {
	hooks = append(hooks, &memprof{})
}

type memprof struct {
	f *os.File
}

func (m *memprof) OnStart() error {
	f, err := os.Create("mem.prof")
	if err != nil {
		return err
	}
	m.f = f
	return nil
}

func (m *memprof) OnEnd() error {
	fmt.Println("writing heap profile...")
	if err := pprof.WriteHeapProfile(m.f); err != nil {
		return err
	}
	return m.f.Close()
}
