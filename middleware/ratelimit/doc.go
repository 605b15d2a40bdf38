// Package ratelimit fornece adapters HTTP (net/http) para rate limit e limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (decisão allow/deny, acquire/timeout) sem net/http
//   - infra: implementações concretas (janela fixa, Redis, token bucket, semáforo)
//   - ratelimit (este pacote): middlewares HTTP + extração de chave + tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Extrai a chave do cliente (X-Client-ID/XFF/IP)
//  2. Chama a camada application para obter a decisão
//  3. Se bloqueado, responde 429 (rate limit) ou 503 (concorrência)
//  4. Se permitido, chama o próximo handler (webhook)
//
// Variáveis de ambiente do binário (cmd/gateway) controlam o comportamento,
// como RATE_MAX_REQUESTS, RATE_WINDOW, RATE_ALGORITHM e CONCURRENCY_MAX.
package ratelimit
