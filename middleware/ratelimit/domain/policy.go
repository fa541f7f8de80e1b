package domain

import (
	"strings"
	"time"
)

// Nomes das políticas conhecidas.
const (
	PolicyAuth          = "auth"
	PolicyAPI           = "api"
	PolicyUpload        = "upload"
	PolicyPasswordReset = "password_reset"
	PolicyAPIKey        = "apikey"
)

// CountMode define quais requisições contam para a janela.
type CountMode string

const (
	CountAll     CountMode = "all"
	CountSuccess CountMode = "success"
	CountFailure CountMode = "failure"
)

// ParseCountMode aceita "", "all", "success" e "failure" (case-insensitive).
func ParseCountMode(s string) (CountMode, error) {
	switch CountMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", CountAll:
		return CountAll, nil
	case CountSuccess:
		return CountSuccess, nil
	case CountFailure:
		return CountFailure, nil
	}
	return "", ErrConfiguration.New("invalid countOnlyOn %q", s)
}

// Counts indica se um resultado deve ser contado neste modo.
func (m CountMode) Counts(o Outcome) bool {
	switch m {
	case CountSuccess:
		return o == OutcomeSuccess
	case CountFailure:
		return o == OutcomeFailure
	}
	return true
}

// PolicyConfig é imutável depois do startup. O ajuste adaptativo produz um
// limite efetivo derivado, sem alterar a configuração.
type PolicyConfig struct {
	Name               string        `yaml:"name"`
	WindowDuration     time.Duration `yaml:"windowDuration"`
	MaxRequests        int           `yaml:"maxRequests"`
	SlowDownDelayStart time.Duration `yaml:"slowDownDelayStart"`
	SlowDownDelayStep  time.Duration `yaml:"slowDownDelayStep"`
	SlowDownDelayMax   time.Duration `yaml:"slowDownDelayMax"`
	ViolationThreshold int           `yaml:"violationThreshold"`
	BanDuration        time.Duration `yaml:"banDuration"`
	CountOnlyOn        CountMode     `yaml:"countOnlyOn"`
}

// Validate falha rápido para configurações malformadas.
func (c PolicyConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrConfiguration.New("policy name is required")
	}
	if c.WindowDuration <= 0 {
		return ErrConfiguration.New("policy %q: windowDuration must be > 0, got %s", c.Name, c.WindowDuration)
	}
	if c.MaxRequests <= 0 {
		return ErrConfiguration.New("policy %q: maxRequests must be > 0, got %d", c.Name, c.MaxRequests)
	}
	if c.SlowDownDelayStart < 0 || c.SlowDownDelayStep < 0 || c.SlowDownDelayMax < 0 {
		return ErrConfiguration.New("policy %q: slow down delays must be >= 0", c.Name)
	}
	if c.SlowDownDelayMax > 0 && c.SlowDownDelayStart > c.SlowDownDelayMax {
		return ErrConfiguration.New("policy %q: slowDownDelayStart (%s) exceeds slowDownDelayMax (%s)",
			c.Name, c.SlowDownDelayStart, c.SlowDownDelayMax)
	}
	if c.ViolationThreshold <= 0 {
		return ErrConfiguration.New("policy %q: violationThreshold must be > 0, got %d", c.Name, c.ViolationThreshold)
	}
	if c.BanDuration <= 0 {
		return ErrConfiguration.New("policy %q: banDuration must be > 0, got %s", c.Name, c.BanDuration)
	}
	if _, err := ParseCountMode(string(c.CountOnlyOn)); err != nil {
		return ErrConfiguration.New("policy %q: %v", c.Name, err)
	}
	return nil
}

// DefaultPolicies retorna as políticas padrão do backend agrícola.
// auth e password_reset contam apenas falhas (login inválido, token inválido).
func DefaultPolicies() map[string]PolicyConfig {
	return map[string]PolicyConfig{
		PolicyAuth: {
			Name:               PolicyAuth,
			WindowDuration:     15 * time.Minute,
			MaxRequests:        5,
			SlowDownDelayStart: 500 * time.Millisecond,
			SlowDownDelayStep:  500 * time.Millisecond,
			SlowDownDelayMax:   5 * time.Second,
			ViolationThreshold: 3,
			BanDuration:        time.Hour,
			CountOnlyOn:        CountFailure,
		},
		PolicyAPI: {
			Name:               PolicyAPI,
			WindowDuration:     15 * time.Minute,
			MaxRequests:        100,
			SlowDownDelayStart: 100 * time.Millisecond,
			SlowDownDelayStep:  100 * time.Millisecond,
			SlowDownDelayMax:   2 * time.Second,
			ViolationThreshold: 10,
			BanDuration:        time.Hour,
			CountOnlyOn:        CountAll,
		},
		PolicyUpload: {
			Name:               PolicyUpload,
			WindowDuration:     time.Hour,
			MaxRequests:        20,
			SlowDownDelayStart: time.Second,
			SlowDownDelayStep:  500 * time.Millisecond,
			SlowDownDelayMax:   5 * time.Second,
			ViolationThreshold: 5,
			BanDuration:        time.Hour,
			CountOnlyOn:        CountAll,
		},
		PolicyPasswordReset: {
			Name:               PolicyPasswordReset,
			WindowDuration:     time.Hour,
			MaxRequests:        3,
			SlowDownDelayStart: time.Second,
			SlowDownDelayStep:  time.Second,
			SlowDownDelayMax:   5 * time.Second,
			ViolationThreshold: 3,
			BanDuration:        2 * time.Hour,
			CountOnlyOn:        CountFailure,
		},
		PolicyAPIKey: {
			Name:               PolicyAPIKey,
			WindowDuration:     time.Minute,
			MaxRequests:        600,
			SlowDownDelayStart: 0,
			SlowDownDelayStep:  0,
			SlowDownDelayMax:   0,
			ViolationThreshold: 20,
			BanDuration:        30 * time.Minute,
			CountOnlyOn:        CountAll,
		},
	}
}
