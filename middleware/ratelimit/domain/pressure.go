package domain

// PressureSampler mede a pressão de recursos do processo, em [0, 1].
//
// Implementações podem usar heap do runtime, memória do host, etc.
// Erros devem ser tratados pelo chamador como pressão zero (sem ajuste).
type PressureSampler interface {
	Pressure() (float64, error)
}
