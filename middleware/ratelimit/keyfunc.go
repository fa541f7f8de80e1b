package ratelimit

import (
	"net"
	"net/http"
	"regexp"
	"strings"
)

type KeyFunc func(r *http.Request) string

var forwardedForRegExp = regexp.MustCompile(`(?i)for="?\[?([^\]",; ]+)`)

// DefaultKeyFunc resolve a chave na ordem:
//
//  1. header de usuário autenticado, só se userHeader != "" (a camada de auth
//     à frente precisa sobrescrevê-lo; vindo do cliente ele é forjável)
//  2. se trustForwarded: Forwarded (for=), X-Forwarded-For (primeiro IP), X-Real-Ip
//  3. host de RemoteAddr
func DefaultKeyFunc(userHeader string, trustForwarded bool) KeyFunc {
	return func(r *http.Request) string {
		if userHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(userHeader)); v != "" {
				return "user:" + v
			}
		}
		return ClientIP(r, trustForwarded)
	}
}

// HeaderKeyFunc usa o valor de um header (ex.: X-Api-Key). Retorna "" se ausente.
func HeaderKeyFunc(header string) KeyFunc {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(header))
	}
}

// ClientIP retorna o IP de origem. Headers de proxy só são lidos com trustForwarded.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := r.Header.Get("Forwarded"); fwd != "" {
			if m := forwardedForRegExp.FindStringSubmatch(fwd); len(m) > 1 && m[1] != "" {
				return stripPort(m[1])
			}
		}
		// pega o primeiro IP do X-Forwarded-For (cliente original)
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-Ip")); ip != "" {
			return ip
		}
	}

	// fallback: RemoteAddr
	if host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr)); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func stripPort(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}
