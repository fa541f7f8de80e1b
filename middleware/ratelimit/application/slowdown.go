package application

import (
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// DelayFor calcula o atraso progressivo sugerido.
//
// Depois que count passa de floor(effectiveMax/2), o atraso é
// start + step*(count - floor(effectiveMax/2)), limitado a SlowDownDelayMax.
// É apenas consultivo: quem decide esperar é a camada HTTP.
func DelayFor(count int64, effectiveMax int, cfg domain.PolicyConfig) time.Duration {
	half := int64(effectiveMax / 2)
	if count <= half {
		return 0
	}
	over := count - half
	d := cfg.SlowDownDelayStart + time.Duration(over)*cfg.SlowDownDelayStep
	if d > cfg.SlowDownDelayMax || d < 0 {
		d = cfg.SlowDownDelayMax
	}
	return d
}
