//go:build cpuprof

package main

import (
	"fmt"
	"os"
	"runtime/pprof"
)

func init() {
	hooks = append(hooks, &cpuprof{})
}

type cpuprof struct {
	f *os.File
}

func (c *cpuprof) OnStart() error {
	f, err := os.Create("cpu.prof")
	if err != nil {
		return err
	}
	c.f = f

	fmt.Println("starting CPU profiling...")
	return pprof.StartCPUProfile(c.f)
}

func (c *cpuprof) OnEnd() error {
	fmt.Println("stopping CPU profiling...")
	pprof.StopCPUProfile()
	return c.f.Close()
}
