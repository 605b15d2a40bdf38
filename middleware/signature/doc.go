// Package signature valida a assinatura HMAC e o frescor dos webhooks.
//
// O provedor envia:
//
//   - X-Webhook-Timestamp: epoch em milissegundos (segundos também são aceitos)
//   - X-Webhook-Signature: hex(HMAC-SHA256(secret, "{timestamp}:{corpo cru}")),
//     opcionalmente com prefixo "sha256="
//
// A requisição passa se a assinatura bate (comparação em tempo constante) e
// |agora - timestamp| <= tolerância (5 minutos por padrão).
//
// Para o cliente toda falha vira o mesmo 401 "invalid signature"; o motivo
// específico só aparece no log.
package signature
