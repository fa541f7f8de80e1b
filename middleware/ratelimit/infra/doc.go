// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryStore: janela fixa em memória (LRU limitado + janitor)
//   - RedisStore: janela fixa distribuída via script Lua no Redis
//   - ViolationTracker: reputação por chave com bloqueio temporário e sweep periódico
//   - HeapSampler / SystemSampler: pressão de memória para o limite adaptativo
//   - ChanPool: semáforo simples para segurar atrasos de slow down
package infra
