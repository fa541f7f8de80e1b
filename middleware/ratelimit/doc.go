// Package ratelimit fornece adapters HTTP (net/http) para o controle de admissão.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (reputação, limite adaptativo, janela fixa, slow down) sem net/http
//   - infra: implementações concretas (memória, Redis, Prometheus, semáforo)
//   - ratelimit (este pacote): middlewares HTTP + extração de chave + tradução da Decision para status/headers
//
// Fluxo no gateway:
//
//  1. Extrai a chave do cliente (usuário autenticado, senão IP)
//  2. Chama application.Service.Decide(policy, key)
//  3. Se negado, responde 429 com JSON {error, message, retryAfter} e Retry-After
//  4. Se admitido com atraso (slow down), segura a resposta pelo atraso (limitado)
//  5. Chama o próximo handler; em políticas que contam só sucesso/falha, informa o resultado
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como REDIS_ADDR, POLICIES_FILE, POLICY_<NOME>_MAX_REQUESTS e PRESSURE_SOURCE.
package ratelimit
