// Package domain define contratos e tipos de domínio para rate limit e concorrência.
//
// Este pacote não depende de net/http nem de implementações concretas.
// O contrato central é Counter: janela fixa por chave (memória ou Redis) ou
// token bucket, todos respondendo com uma Quota.
package domain
