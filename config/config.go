// Package config centraliza o carregamento de configurações do gateway.
//
// Ordem de precedência: políticas padrão < arquivo YAML (POLICIES_FILE) <
// variáveis POLICY_<NOME>_*. Qualquer valor inválido falha o startup.
package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"admission-gateway/middleware/ratelimit/domain"
)

type Config struct {
	ListenAddr  string
	UpstreamURL string
	MetricsAddr string

	LogLevel  string
	LogFormat string

	// UserHeader só deve ser ligado quando uma camada de autenticação à
	// frente do gateway sobrescreve o cabeçalho. Vazio: chave por IP.
	UserHeader     string
	APIKeyHeader   string
	TrustForwarded bool
	AddHeaders     bool

	Store     StoreConfig
	Stats     StatsConfig
	Pressure  string // heap | system | off
	Violation ViolationConfig
	Delay     DelayConfig

	Policies map[string]domain.PolicyConfig
}

type StoreConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Prefix        string
	Timeout       time.Duration
	MaxKeys       int
	CleanupEvery  time.Duration
}

// UseRedis indica a escolha do backend, feita uma vez no startup.
func (c StoreConfig) UseRedis() bool { return strings.TrimSpace(c.RedisAddr) != "" }

type StatsConfig struct {
	Redis     bool
	Prefix    string
	TTL       time.Duration
	Bucket    string
	TrackKeys bool
}

type ViolationConfig struct {
	Retention  time.Duration
	SweepEvery time.Duration
}

type DelayConfig struct {
	Enabled    bool
	MaxHolding int
}

// Load lê .env (se existir), o ambiente e o arquivo de políticas.
// envFile vazio usa ".env"; policiesFile vazio usa POLICIES_FILE.
func Load(envFile, policiesFile string) (Config, error) {
	if envFile == "" {
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFile); err != nil {
		return Config{}, domain.ErrConfiguration.New("load env file %q: %v", envFile, err)
	}

	var cfg Config
	var err error
	p := &parser{}

	cfg.ListenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.UpstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.MetricsAddr = getenvDefault("METRICS_ADDR", ":9090")
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.LogFormat = getenvDefault("LOG_FORMAT", "json")

	cfg.UserHeader = strings.TrimSpace(os.Getenv("USER_ID_HEADER"))
	cfg.APIKeyHeader = getenvDefault("API_KEY_HEADER", "X-Api-Key")
	cfg.TrustForwarded = p.bool("TRUST_XFF", false)
	cfg.AddHeaders = p.bool("ADD_RATELIMIT_HEADERS", true)

	cfg.Store = StoreConfig{
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       p.int("REDIS_DB", 0),
		Prefix:        getenvDefault("REDIS_PREFIX", "ratelimit:window"),
		Timeout:       p.duration("STORE_TIMEOUT", 75*time.Millisecond),
		MaxKeys:       p.int("STORE_MAX_KEYS", 100000),
		CleanupEvery:  p.duration("STORE_CLEANUP_EVERY", time.Minute),
	}
	cfg.Stats = StatsConfig{
		Redis:     p.bool("RATE_STATS_REDIS", false),
		Prefix:    getenvDefault("RATE_STATS_PREFIX", "ratelimit:stats"),
		TTL:       p.duration("RATE_STATS_TTL", 24*time.Hour),
		Bucket:    getenvDefault("RATE_STATS_BUCKET", "minute"),
		TrackKeys: p.bool("RATE_STATS_TRACK_KEYS", false),
	}
	cfg.Pressure = strings.ToLower(getenvDefault("PRESSURE_SOURCE", "heap"))
	cfg.Violation = ViolationConfig{
		Retention:  p.duration("VIOLATION_RETENTION", time.Hour),
		SweepEvery: p.duration("VIOLATION_SWEEP_EVERY", 5*time.Minute),
	}
	cfg.Delay = DelayConfig{
		Enabled:    p.bool("SLOWDOWN_ENABLED", true),
		MaxHolding: p.int("SLOWDOWN_MAX_HOLDING", 256),
	}
	if p.err != nil {
		return Config{}, p.err
	}

	if policiesFile == "" {
		policiesFile = os.Getenv("POLICIES_FILE")
	}
	cfg.Policies, err = LoadPolicies(policiesFile)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate verifica campos que não dependem das políticas e todas as políticas.
func (c Config) Validate() error {
	if strings.TrimSpace(c.UpstreamURL) == "" {
		return domain.ErrConfiguration.New("UPSTREAM_URL is required")
	}
	switch c.Pressure {
	case "heap", "system", "off":
	default:
		return domain.ErrConfiguration.New("PRESSURE_SOURCE must be heap, system or off, got %q", c.Pressure)
	}
	if c.Store.Timeout <= 0 {
		return domain.ErrConfiguration.New("STORE_TIMEOUT must be > 0")
	}
	if c.Store.MaxKeys <= 0 {
		return domain.ErrConfiguration.New("STORE_MAX_KEYS must be > 0")
	}
	if c.Stats.Redis && !c.Store.UseRedis() {
		return domain.ErrConfiguration.New("REDIS_ADDR is required when RATE_STATS_REDIS=true")
	}
	if c.Violation.Retention <= 0 {
		return domain.ErrConfiguration.New("VIOLATION_RETENTION must be > 0")
	}
	if c.Delay.MaxHolding <= 0 {
		return domain.ErrConfiguration.New("SLOWDOWN_MAX_HOLDING must be > 0")
	}
	for _, name := range sortedNames(c.Policies) {
		if err := c.Policies[name].Validate(); err != nil {
			return err
		}
	}
	return nil
}

type policiesFile struct {
	Policies []domain.PolicyConfig `yaml:"policies"`
}

// LoadPolicies parte das políticas padrão, aplica o YAML (se path != "") e
// depois as variáveis POLICY_<NOME>_*.
func LoadPolicies(path string) (map[string]domain.PolicyConfig, error) {
	policies := domain.DefaultPolicies()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.ErrConfiguration.New("read policies file %q: %v", path, err)
		}
		var f policiesFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return nil, domain.ErrConfiguration.New("parse policies file %q: %v", path, err)
		}
		for _, pc := range f.Policies {
			name := strings.TrimSpace(pc.Name)
			if name == "" {
				return nil, domain.ErrConfiguration.New("policies file %q: policy without name", path)
			}
			policies[name] = mergePolicy(policies[name], pc)
		}
	}

	for _, name := range sortedNames(policies) {
		pc, err := applyEnv(policies[name])
		if err != nil {
			return nil, err
		}
		policies[name] = pc
	}
	return policies, nil
}

// mergePolicy sobrepõe em base apenas os campos definidos em override.
func mergePolicy(base, override domain.PolicyConfig) domain.PolicyConfig {
	base.Name = override.Name
	if override.WindowDuration != 0 {
		base.WindowDuration = override.WindowDuration
	}
	if override.MaxRequests != 0 {
		base.MaxRequests = override.MaxRequests
	}
	if override.SlowDownDelayStart != 0 {
		base.SlowDownDelayStart = override.SlowDownDelayStart
	}
	if override.SlowDownDelayStep != 0 {
		base.SlowDownDelayStep = override.SlowDownDelayStep
	}
	if override.SlowDownDelayMax != 0 {
		base.SlowDownDelayMax = override.SlowDownDelayMax
	}
	if override.ViolationThreshold != 0 {
		base.ViolationThreshold = override.ViolationThreshold
	}
	if override.BanDuration != 0 {
		base.BanDuration = override.BanDuration
	}
	if override.CountOnlyOn != "" {
		base.CountOnlyOn = override.CountOnlyOn
	}
	return base
}

func applyEnv(pc domain.PolicyConfig) (domain.PolicyConfig, error) {
	prefix := "POLICY_" + strings.ToUpper(pc.Name) + "_"
	p := &parser{}

	pc.WindowDuration = p.duration(prefix+"WINDOW", pc.WindowDuration)
	pc.MaxRequests = p.int(prefix+"MAX_REQUESTS", pc.MaxRequests)
	pc.SlowDownDelayStart = p.duration(prefix+"SLOWDOWN_START", pc.SlowDownDelayStart)
	pc.SlowDownDelayStep = p.duration(prefix+"SLOWDOWN_STEP", pc.SlowDownDelayStep)
	pc.SlowDownDelayMax = p.duration(prefix+"SLOWDOWN_MAX", pc.SlowDownDelayMax)
	pc.ViolationThreshold = p.int(prefix+"VIOLATION_THRESHOLD", pc.ViolationThreshold)
	pc.BanDuration = p.duration(prefix+"BAN_DURATION", pc.BanDuration)
	if v, ok := lookup(prefix + "COUNT_ONLY_ON"); ok {
		mode, err := domain.ParseCountMode(v)
		if err != nil {
			return pc, err
		}
		pc.CountOnlyOn = mode
	}
	if pc.CountOnlyOn == "" {
		pc.CountOnlyOn = domain.CountAll
	}
	return pc, p.err
}

func sortedNames(m map[string]domain.PolicyConfig) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// parser guarda o primeiro erro de conversão; valores inválidos não caem
// silenciosamente no padrão.
type parser struct {
	err error
}

func (p *parser) fail(k, v string, err error) {
	if p.err == nil {
		p.err = domain.ErrConfiguration.New("invalid %s=%q: %v", k, v, err)
	}
}

func (p *parser) int(k string, def int) int {
	v, ok := lookup(k)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		p.fail(k, v, err)
		return def
	}
	return i
}

func (p *parser) bool(k string, def bool) bool {
	v, ok := lookup(k)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(k, v, err)
		return def
	}
	return b
}

func (p *parser) duration(k string, def time.Duration) time.Duration {
	v, ok := lookup(k)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(k, v, err)
		return def
	}
	return d
}

func lookup(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func getenvDefault(k, def string) string {
	if v, ok := lookup(k); ok {
		return v
	}
	return def
}
