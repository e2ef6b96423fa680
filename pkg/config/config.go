package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// GuardThreshold carries the soft/hard pair for one named guard.
type GuardThreshold struct {
	Soft float64 `yaml:"soft"`
	Hard float64 `yaml:"hard"`
}

// Profile names one independent decision stream.
type Profile struct {
	Name         string  `yaml:"name" validate:"required"`
	BaseNotional float64 `yaml:"base_notional" default:"10000" validate:"gt=0"`
}

type Config struct {
	Environment string `yaml:"environment" default:"dev" validate:"required"`

	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"5s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`

	Logging struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"logging"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`

	Profiles []Profile `yaml:"profiles" validate:"required,min=1,dive"`

	Calibration struct {
		AlphaBase        float64 `yaml:"alpha_base" default:"0.1" validate:"gt=0,lt=1"`
		AlphaMin         float64 `yaml:"alpha_min" default:"0.02" validate:"gt=0,lt=1"`
		AlphaMax         float64 `yaml:"alpha_max" default:"0.3" validate:"gt=0,lt=1"`
		TransitionBoost  float64 `yaml:"transition_boost" default:"0.05"`
		ACIWeight        float64 `yaml:"aci_weight" default:"0.1"`
		LearnRateBase    float64 `yaml:"learn_rate_base" default:"0.01" validate:"gt=0"`
		LearnRateShift   float64 `yaml:"learn_rate_shift" default:"0.05" validate:"gt=0"`
		CoverageLambda   float64 `yaml:"coverage_lambda" default:"0.02" validate:"gt=0,lt=1"`
		CooldownCycles   int     `yaml:"cooldown_cycles" default:"5" validate:"gte=0"`
		InflationCeiling float64 `yaml:"inflation_ceiling" default:"1.25" validate:"gte=1"`
		MinCalibration   int     `yaml:"min_calibration" default:"100" validate:"gt=0"`
		ReferenceZ       float64 `yaml:"reference_z" default:"1.645" validate:"gt=0"`
		QuantileWarmup   int     `yaml:"quantile_warmup" default:"100" validate:"gt=0"`
		QuantileDefault  float64 `yaml:"quantile_default" default:"1.645" validate:"gt=0"`
	} `yaml:"calibration"`

	Uncertainty struct {
		StateWeight    float64 `yaml:"state_weight" default:"0.3" validate:"gte=0"`
		ModelWeight    float64 `yaml:"model_weight" default:"0.35" validate:"gte=0"`
		ForecastWeight float64 `yaml:"forecast_weight" default:"0.35" validate:"gte=0"`
		Gamma          float64 `yaml:"gamma" default:"0.7" validate:"gte=0,lte=1"`
		BCCLambda      float64 `yaml:"bcc_lambda" default:"0.05" validate:"gt=0,lt=1"`
		WidthScale     float64 `yaml:"width_scale" default:"4.0" validate:"gt=0"`
	} `yaml:"uncertainty"`

	Orchestrator struct {
		DwellMinDerisk     int            `yaml:"dwell_min_derisk" default:"3" validate:"gt=0"`
		DwellMinRecovery   int            `yaml:"dwell_min_recovery" default:"10" validate:"gt=0"`
		BlockCooldown      int            `yaml:"block_cooldown" default:"20" validate:"gt=0"`
		BlockCleanWindow   int            `yaml:"block_clean_window" default:"30" validate:"gt=0"`
		AllowBlockFastPath bool           `yaml:"allow_block_fast_path" default:"true"`
		KappaPlusSoftFloor float64        `yaml:"kappa_plus_soft_floor" default:"0.15" validate:"gte=0,lte=1"`
		CoverageEMA        GuardThreshold `yaml:"coverage_ema" default:"{\"Soft\": 0.85, \"Hard\": 0.75}"`
		CoverageMissStreak GuardThreshold `yaml:"coverage_miss_streak" default:"{\"Soft\": 5, \"Hard\": 12}"`
		LatencyP95Ms       GuardThreshold `yaml:"latency_p95_ms" default:"{\"Soft\": 80, \"Hard\": 150}"`
		SurprisalP95       GuardThreshold `yaml:"surprisal_p95" default:"{\"Soft\": 3.0, \"Hard\": 5.0}"`
		RelIntervalWidth   GuardThreshold `yaml:"rel_interval_width" default:"{\"Soft\": 0.08, \"Hard\": 0.2}"`
		Kappa              GuardThreshold `yaml:"kappa" default:"{\"Soft\": 0.6, \"Hard\": 0.85}"`
		KappaPlus          GuardThreshold `yaml:"kappa_plus" default:"{\"Soft\": 0.65, \"Hard\": 0.9}"`
	} `yaml:"orchestrator"`

	Gate struct {
		ScalePass        float64 `yaml:"scale_pass" default:"1.0" validate:"gte=0,lte=1"`
		ScaleDerisk      float64 `yaml:"scale_derisk" default:"0.5" validate:"gte=0,lte=1"`
		ScaleBlock       float64 `yaml:"scale_block" default:"0.0" validate:"gte=0,lte=1"`
		MinNotional      float64 `yaml:"min_notional" default:"0" validate:"gte=0"`
		MaxNotional      float64 `yaml:"max_notional" default:"1000000" validate:"gt=0"`
		HardBlockOnGuard bool    `yaml:"hard_block_on_guard" default:"true"`
	} `yaml:"gate"`

	Ledger struct {
		TotalBudget   float64 `yaml:"total_budget" default:"0.05" validate:"gt=0,lt=1"`
		Policy        string  `yaml:"policy" default:"uniform" validate:"oneof=uniform alpha_decreasing fdr_linear"`
		ExpectedTests int     `yaml:"expected_tests" default:"10" validate:"gt=0"`
	} `yaml:"ledger"`

	Governance struct {
		Beta      float64 `yaml:"beta" default:"0.2" validate:"gt=0,lt=1"`
		Mu0       float64 `yaml:"mu0" default:"0.0"`
		Mu1       float64 `yaml:"mu1" default:"0.05"`
		Sigma     float64 `yaml:"sigma" default:"1.0" validate:"gt=0"`
		MaxSample int     `yaml:"max_sample" default:"5000" validate:"gt=0"`
	} `yaml:"governance"`

	Pipeline struct {
		CycleBudget     time.Duration `yaml:"cycle_budget" default:"10ms" validate:"gt=0"`
		LatencyWindow   int           `yaml:"latency_window" default:"256" validate:"gt=0"`
		SurprisalWindow int           `yaml:"surprisal_window" default:"256" validate:"gt=0"`
	} `yaml:"pipeline"`

	Snapshot struct {
		Dir        string        `yaml:"dir" default:"./state"`
		Interval   time.Duration `yaml:"interval" default:"5s" validate:"gt=0"`
		RetryMin   time.Duration `yaml:"retry_min" default:"100ms"`
		RetryMax   time.Duration `yaml:"retry_max" default:"5s"`
		MaxRetries int           `yaml:"max_retries" default:"5" validate:"gt=0"`
	} `yaml:"snapshot"`

	Kafka struct {
		Enabled       bool     `yaml:"enabled" default:"false"`
		Brokers       []string `yaml:"brokers"`
		ForecastTopic string   `yaml:"forecast_topic" default:"aurora.forecasts"`
		OutcomeTopic  string   `yaml:"outcome_topic" default:"aurora.outcomes"`
		PolicyTopic   string   `yaml:"policy_topic" default:"aurora.policy_metrics"`
		DecisionTopic string   `yaml:"decision_topic" default:"aurora.decisions"`
		Consumer      struct {
			GroupID    string        `yaml:"group_id" default:"aurora-core"`
			Workers    int           `yaml:"workers" default:"2" validate:"gt=0"`
			BufferSize int           `yaml:"buffer_size" default:"256" validate:"gt=0"`
			RetryMax   int           `yaml:"retry_max" default:"3" validate:"gte=0"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"aurora.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"5s"`
			Async        bool          `yaml:"async" default:"true"`
		} `yaml:"producer"`
	} `yaml:"kafka"`

	ModelFeed struct {
		Enabled        bool          `yaml:"enabled" default:"false"`
		WebSocketURL   string        `yaml:"websocket_url"`
		APIKey         string        `yaml:"api_key"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"3s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"15s"`
	} `yaml:"model_feed"`

	ClickHouse struct {
		Enabled      bool          `yaml:"enabled" default:"false"`
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"aurora"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		AsyncInsert  bool          `yaml:"async_insert" default:"true"`
		WaitForAsync bool          `yaml:"wait_for_async_insert" default:"false"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		BatchSize    int           `yaml:"batch_size" default:"500" validate:"gt=0"`
		FlushEvery   time.Duration `yaml:"flush_every" default:"2s" validate:"gt=0"`
	} `yaml:"clickhouse"`

	Redis struct {
		Enabled  bool          `yaml:"enabled" default:"false"`
		Addr     string        `yaml:"addr" default:"localhost:6379"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db" default:"0"`
		TTL      time.Duration `yaml:"ttl" default:"30s"`
	} `yaml:"redis"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file, applies defaults, and
// validates it. Any violation fails fast; the process must not serve decisions
// on a bad config.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("MODELFEED_URL"); v != "" {
		c.ModelFeed.WebSocketURL = v
	}
	if v := os.Getenv("MODELFEED_API_KEY"); v != "" {
		c.ModelFeed.APIKey = v
	}
	if v := os.Getenv("SNAPSHOT_DIR"); v != "" {
		c.Snapshot.Dir = v
	}

	return c, nil
}

// Validate checks cross-field constraints the tag language cannot express.
func (c *Config) Validate() error {
	cal := &c.Calibration
	if cal.AlphaMin >= cal.AlphaMax {
		return fmt.Errorf("calibration.alpha_min %.4f must be below alpha_max %.4f", cal.AlphaMin, cal.AlphaMax)
	}
	if cal.AlphaBase < cal.AlphaMin || cal.AlphaBase > cal.AlphaMax {
		return fmt.Errorf("calibration.alpha_base %.4f outside [alpha_min, alpha_max]", cal.AlphaBase)
	}

	u := &c.Uncertainty
	if sum := u.StateWeight + u.ModelWeight + u.ForecastWeight; sum <= 0 {
		return fmt.Errorf("uncertainty weights must not all be zero")
	}

	orc := &c.Orchestrator
	if orc.BlockCleanWindow <= orc.DwellMinRecovery {
		return fmt.Errorf("orchestrator.block_clean_window %d must exceed dwell_min_recovery %d",
			orc.BlockCleanWindow, orc.DwellMinRecovery)
	}
	// Lower-bound guards: breach when value drops below threshold, so soft must
	// sit above hard. Upper-bound guards: the reverse.
	lower := map[string]GuardThreshold{
		"coverage_ema": orc.CoverageEMA,
	}
	upper := map[string]GuardThreshold{
		"coverage_miss_streak": orc.CoverageMissStreak,
		"latency_p95_ms":       orc.LatencyP95Ms,
		"surprisal_p95":        orc.SurprisalP95,
		"rel_interval_width":   orc.RelIntervalWidth,
		"kappa":                orc.Kappa,
		"kappa_plus":           orc.KappaPlus,
	}
	for name, g := range lower {
		if g.Soft < g.Hard {
			return fmt.Errorf("orchestrator.%s: soft %.4f must be >= hard %.4f (lower-bound guard)", name, g.Soft, g.Hard)
		}
	}
	for name, g := range upper {
		if g.Soft > g.Hard {
			return fmt.Errorf("orchestrator.%s: soft %.4f must be <= hard %.4f (upper-bound guard)", name, g.Soft, g.Hard)
		}
	}

	g := &c.Gate
	if g.MinNotional > g.MaxNotional {
		return fmt.Errorf("gate.min_notional %.2f exceeds max_notional %.2f", g.MinNotional, g.MaxNotional)
	}
	if g.ScaleBlock > g.ScaleDerisk || g.ScaleDerisk > g.ScalePass {
		return fmt.Errorf("gate scales must be ordered: block <= derisk <= pass")
	}

	if c.Governance.Mu1 == c.Governance.Mu0 {
		return fmt.Errorf("governance.mu1 must differ from mu0")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.ModelFeed.Enabled && c.ModelFeed.WebSocketURL == "" {
		return fmt.Errorf("model_feed.websocket_url is required when model_feed is enabled")
	}

	seen := make(map[string]bool, len(c.Profiles))
	for _, p := range c.Profiles {
		if seen[p.Name] {
			return fmt.Errorf("duplicate profile name %q", p.Name)
		}
		seen[p.Name] = true
	}

	return nil
}
