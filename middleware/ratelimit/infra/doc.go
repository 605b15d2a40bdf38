// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - FixedWindow: janela fixa por chave em memória (cache TTL)
//   - RedisFixedWindow: mesma janela fixa, compartilhada via Redis
//   - TokenBucket: token bucket por chave usando golang.org/x/time/rate
//   - ChanPool: semáforo simples para limite de concorrência
//   - Memory/Redis/Prometheus StatsStore: contadores de decisões
package infra
