package infra

import (
	"math"
	"runtime"
	"sync/atomic"

	"github.com/shirou/gopsutil/v3/mem"

	"admission-gateway/middleware/ratelimit/domain"
)

var (
	_ domain.PressureSampler = HeapSampler{}
	_ domain.PressureSampler = SystemSampler{}
	_ domain.PressureSampler = (*StaticSampler)(nil)
)

// HeapSampler mede HeapInuse / HeapSys do próprio processo.
//
// runtime.ReadMemStats faz stop-the-world curto; é lido a cada decisão porque
// a carga muda rápido e o limite adaptativo não usa cache.
type HeapSampler struct{}

func (HeapSampler) Pressure() (float64, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapSys == 0 {
		return 0, nil
	}
	return clampRatio(float64(ms.HeapInuse) / float64(ms.HeapSys)), nil
}

// SystemSampler mede a memória usada do host (gopsutil).
type SystemSampler struct{}

func (SystemSampler) Pressure() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return clampRatio(vm.UsedPercent / 100), nil
}

// StaticSampler devolve um valor fixo, ajustável em runtime (testes, desligar).
type StaticSampler struct {
	bits atomic.Uint64
}

func NewStaticSampler(p float64) *StaticSampler {
	s := &StaticSampler{}
	s.Set(p)
	return s
}

func (s *StaticSampler) Set(p float64) { s.bits.Store(math.Float64bits(clampRatio(p))) }

func (s *StaticSampler) Pressure() (float64, error) {
	return math.Float64frombits(s.bits.Load()), nil
}

func clampRatio(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
