package application

import (
	"admission-gateway/middleware/ratelimit/domain"
)

// LoadController reduz o teto configurado quando o processo está sob pressão.
//
// A pressão é amostrada a cada chamada (sem cache). O resultado é monotônico
// não-crescente na pressão e nunca passa de MaxRequests.
type LoadController struct {
	Sampler domain.PressureSampler
}

// ScaleForPressure aplica os degraus:
//
//	> 0.90 -> 30%
//	> 0.80 -> 50%
//	> 0.70 -> 70%
//	senão  -> 100%
//
// O mínimo é 1 para que tetos pequenos não virem "nega tudo".
func ScaleForPressure(maxRequests int, pressure float64) int {
	pct := 100
	switch {
	case pressure > 0.90:
		pct = 30
	case pressure > 0.80:
		pct = 50
	case pressure > 0.70:
		pct = 70
	}
	limit := maxRequests * pct / 100
	if limit < 1 && maxRequests > 0 {
		limit = 1
	}
	return limit
}

// EffectiveLimit retorna o teto efetivo para esta avaliação.
// Sem sampler, ou se a amostragem falhar, o teto configurado é mantido.
func (c LoadController) EffectiveLimit(cfg domain.PolicyConfig) int {
	if c.Sampler == nil {
		return cfg.MaxRequests
	}
	p, err := c.Sampler.Pressure()
	if err != nil {
		return cfg.MaxRequests
	}
	return ScaleForPressure(cfg.MaxRequests, p)
}
