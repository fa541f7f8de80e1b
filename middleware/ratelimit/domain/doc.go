// Package domain define contratos e tipos de domínio do controle de admissão
// (rate limit por janela fixa, slow down, limite adaptativo e reputação por chave).
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar regras de negócio
// de detalhes de infraestrutura (memória, Redis, Prometheus).
package domain
