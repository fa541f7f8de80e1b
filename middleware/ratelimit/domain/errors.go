package domain

import "github.com/zeebo/errs"

var (
	// ErrStoreUnavailable é uma falha transitória do CounterStore.
	// Nunca chega ao cliente: o WindowLimiter faz fail-open.
	ErrStoreUnavailable = errs.Class("store unavailable")

	// ErrInvalidPolicy é erro de programação (nome de política desconhecido),
	// detectado na validação de startup.
	ErrInvalidPolicy = errs.Class("invalid policy")

	// ErrConfiguration indica PolicyConfig ou configuração de processo malformada.
	ErrConfiguration = errs.Class("configuration error")
)

func IsStoreUnavailable(err error) bool { return ErrStoreUnavailable.Has(err) }

func IsInvalidPolicy(err error) bool { return ErrInvalidPolicy.Has(err) }

func IsConfigurationError(err error) bool { return ErrConfiguration.Has(err) }
