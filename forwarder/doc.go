// Package forwarder entrega as mensagens admitidas ao motor de automação.
//
// Client.Forward faz POST do JSON normalizado com timeout por tentativa e
// repete em falhas transitórias (timeout, erro de conexão, 5xx, 408) com
// backoff exponencial min(InitialDelay*2^n, MaxDelay). Os demais 4xx são
// terminais: repetir um payload recusado não muda a resposta.
//
// Queue desacopla a entrega da requisição do provedor: o handler responde
// 202 assim que a mensagem entra no buffer.
package forwarder
