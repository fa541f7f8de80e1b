package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
)

// Decider é o que o middleware precisa do controle de admissão.
// *application.Service implementa.
type Decider interface {
	Policy(name string) (domain.PolicyConfig, error)
	Decide(ctx context.Context, policy string, key domain.Key) domain.Decision
	Observe(ctx context.Context, key domain.Key, dec domain.Decision, outcome domain.Outcome)
}

var _ Decider = (*application.Service)(nil)

type Options struct {
	Decider Decider
	Policy  string

	KeyFn               KeyFunc
	UserHeader          string
	TrustForwardedFor   bool
	Skip                func(r *http.Request) bool
	AddRateLimitHeaders bool

	// Delay segura a resposta pelo atraso de slow down. Nil = não espera
	// (o atraso ainda é informado em X-SlowDown-Delay).
	Delay *application.DelayService

	// IsSuccess classifica o status da resposta para políticas que contam só
	// sucesso ou só falha. Padrão: status < 400.
	IsSuccess func(status int) bool

	Logger *zap.Logger
}

type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

var messages = map[domain.Reason]string{
	domain.ReasonRateLimited: "too many requests, please try again later",
	domain.ReasonBanned:      "too many rejected requests from this client, temporarily blocked",
}

// Middleware cria o middleware de uma política. Política desconhecida é
// erro de configuração e deve impedir o startup.
func Middleware(opts Options) (func(next http.Handler) http.Handler, error) {
	if opts.Decider == nil {
		return nil, domain.ErrConfiguration.New("ratelimit middleware requires a decider")
	}
	cfg, err := opts.Decider.Policy(opts.Policy)
	if err != nil {
		return nil, err
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.UserHeader, opts.TrustForwardedFor)
	}
	if opts.IsSuccess == nil {
		opts.IsSuccess = func(status int) bool { return status < http.StatusBadRequest }
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ratelimit").With(zap.String("policy", cfg.Name))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Skip != nil && opts.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			key := strings.TrimSpace(opts.KeyFn(r))
			if key == "" {
				key = "unknown"
			}

			dec := opts.Decider.Decide(r.Context(), cfg.Name, domain.Key(key))
			if opts.AddRateLimitHeaders {
				writeHeaders(w, dec)
			}

			if !dec.Admit {
				log.Info("request rejected",
					zap.String("key", key),
					zap.String("reason", string(dec.Reason)),
					zap.String("path", r.URL.Path))
				writeRejection(w, dec)
				return
			}

			if dec.Reason == domain.ReasonSlowed && dec.RetryAfter > 0 {
				w.Header().Set("X-SlowDown-Delay", strconv.FormatInt(dec.RetryAfter.Milliseconds(), 10))
				// sem vaga no pool, segue sem esperar; cliente desconectado, encerra
				if opts.Delay != nil && !opts.Delay.Hold(r.Context(), dec.RetryAfter) && r.Context().Err() != nil {
					return
				}
			}

			if !dec.Reserved {
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			outcome := domain.OutcomeFailure
			if opts.IsSuccess(rec.status) {
				outcome = domain.OutcomeSuccess
			}
			opts.Decider.Observe(r.Context(), domain.Key(key), dec, outcome)
		})
	}, nil
}

func writeHeaders(w http.ResponseWriter, dec domain.Decision) {
	if dec.Limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", formatInt(dec.Limit))
	w.Header().Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
	if !dec.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", formatUnix(dec.ResetAt))
	}
}

func writeRejection(w http.ResponseWriter, dec domain.Decision) {
	seconds := retryAfterSeconds(dec.RetryAfter)
	msg, ok := messages[dec.Reason]
	if !ok {
		msg = http.StatusText(http.StatusTooManyRequests)
	}

	w.Header().Set("Retry-After", formatInt(seconds))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:      string(dec.Reason),
		Message:    msg,
		RetryAfter: seconds,
	})
}

// statusRecorder captura o status para classificar sucesso/falha.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.wroteHeader = true
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
