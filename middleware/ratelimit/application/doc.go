// Package application contém os casos de uso do controle de admissão.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Decide(ctx, policy, key) retorna uma Decision
// (admit/deny + motivo + restante + reset + retry-after/atraso).
package application
