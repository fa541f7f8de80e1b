package domain

import "time"

// Violation é o histórico de negações de uma chave (independente de política).
//
// BlockedUntil só é preenchido quando Violations >= threshold; a partir daí
// a chave é negada até now >= BlockedUntil, quando o registro é apagado.
type Violation struct {
	Key              Key
	Violations       int
	FirstViolationAt time.Time
	BlockedUntil     time.Time
}

// Banned indica se o bloqueio está ativo em `now`.
func (v Violation) Banned(now time.Time) bool {
	return !v.BlockedUntil.IsZero() && now.Before(v.BlockedUntil)
}

// ReputationGuard acumula negações por chave e emite bloqueios temporários.
type ReputationGuard interface {
	// IsBanned retorna (true, blockedUntil) enquanto o bloqueio estiver ativo.
	IsBanned(key Key) (bool, time.Time)
	// RecordDenial registra uma negação e retorna o estado resultante.
	RecordDenial(key Key, threshold int, banDuration time.Duration) Violation
}
