package infra

import (
	"context"
	"sync"
	"time"
)

// janitor roda uma função de limpeza em intervalo fixo até Stop ou até o ctx encerrar.
type janitor struct {
	every time.Duration
	fn    func()

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func newJanitor(every time.Duration, fn func()) *janitor {
	return &janitor{every: every, fn: fn, done: make(chan struct{})}
}

// start é idempotente. Com every <= 0 não inicia nada.
func (j *janitor) start(ctx context.Context) {
	if j.every <= 0 {
		return
	}
	j.startOnce.Do(func() {
		ctx, j.cancel = context.WithCancel(ctx)
		t := time.NewTicker(j.every)
		go func() {
			defer close(j.done)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					j.fn()
				}
			}
		}()
	})
}

// stop cancela a goroutine e espera ela sair. Seguro para múltiplas chamadas.
func (j *janitor) stop() {
	j.stopOnce.Do(func() {
		j.startOnce.Do(func() {}) // impede start depois de stop
		if j.cancel != nil {
			j.cancel()
			<-j.done
		}
	})
}
