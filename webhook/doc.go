// Package webhook interpreta os eventos do provedor de mensagens (formato
// Evolution API) e normaliza as mensagens que interessam ao motor de
// automação.
//
// A cadeia do Filter para no primeiro motivo para ignorar:
//
//  1. sem data.key                         -> not_a_message
//  2. status@broadcast ou grupo (@g.us)     -> group_or_broadcast
//  3. sem data.message                      -> no_message
//  4. evento fora de messages.upsert        -> unsupported_event
//  5. fromMe (com IgnoreFromMe)             -> from_me
//
// Evento ignorado não é erro: o provedor recebe 200.
package webhook
