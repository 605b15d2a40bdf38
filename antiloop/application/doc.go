// Package application decide se uma mensagem pode ser processada, usando o
// Tracker do domínio.
package application
