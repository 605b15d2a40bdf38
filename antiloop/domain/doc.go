// Package domain contém os contratos do anti-loop: configuração, o estado de
// uma mensagem rastreada e a decisão devolvida para cada avistamento.
//
// Não conhece HTTP nem a forma de armazenamento (memória ou Redis).
package domain
