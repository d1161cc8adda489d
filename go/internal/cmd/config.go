package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/jemima/go/internal/dbconfig"
)

// Config is the resolved runtime configuration. The YAML file fills it
// first; flags and JEMIMA_* environment variables override the file.
type Config struct {
	Store struct {
		Backend      string        `yaml:"backend"`
		PostgresDSN  string        `yaml:"postgres_dsn"`
		MongoURI     string        `yaml:"mongo_uri"`
		MongoDB      string        `yaml:"mongo_db"`
		PollInterval time.Duration `yaml:"poll_interval"`
	} `yaml:"store"`

	Feed struct {
		Kind          string `yaml:"kind"`
		NATSURL       string `yaml:"nats_url"`
		Stream        string `yaml:"stream"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"feed"`

	Gateway struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"gateway"`

	Client struct {
		RoleCache       string        `yaml:"role_cache"`
		QuestionTimeout time.Duration `yaml:"question_timeout"`
		TickInterval    time.Duration `yaml:"tick_interval"`
		AwardHold       time.Duration `yaml:"award_hold"`
		InterludeHold   time.Duration `yaml:"interlude_hold"`
		MathsHold       time.Duration `yaml:"maths_hold"`
	} `yaml:"client"`
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Store.Backend = "memory"
	ep := dbconfig.FromEnv()
	cfg.Store.PostgresDSN = ep.Postgres.DSN()
	cfg.Store.MongoURI = ep.Mongo.URI
	cfg.Store.MongoDB = ep.Mongo.Database
	cfg.Feed.Kind = "pq"
	cfg.Feed.NATSURL = ep.NATSURL
	cfg.Gateway.Addr = ":8080"
	cfg.Gateway.AllowedOrigins = []string{"*"}
	return cfg
}

func loadConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory", "postgres", "mongo":
	default:
		return fmt.Errorf("invalid store backend %q (memory, postgres or mongo)", c.Store.Backend)
	}
	switch c.Feed.Kind {
	case "pq", "jetstream":
	default:
		return fmt.Errorf("invalid feed %q (pq or jetstream)", c.Feed.Kind)
	}
	return nil
}

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath  string
	logLevel    string
	store       string
	feed        string
	postgresDSN string
	mongoURI    string
	natsURL     string
}

func (g *globalFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&g.configPath, "config", "", "path to a YAML config file (env: JEMIMA_CONFIG)")
	fs.StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn, error (env: JEMIMA_LOG_LEVEL)")
	fs.StringVar(&g.store, "store", "", "store backend: memory, postgres or mongo (env: JEMIMA_STORE)")
	fs.StringVar(&g.feed, "feed", "", "postgres change feed: pq or jetstream (env: JEMIMA_FEED)")
	fs.StringVar(&g.postgresDSN, "postgres-dsn", "", "Postgres URL, defaults to DB_* variables (env: JEMIMA_POSTGRES_DSN)")
	fs.StringVar(&g.mongoURI, "mongo-uri", "", "MongoDB URL, defaults to MONGO_URI (env: JEMIMA_MONGO_URI)")
	fs.StringVar(&g.natsURL, "nats-url", "", "NATS URL, defaults to NATS_URL (env: JEMIMA_NATS_URL)")
}

// resolve layers the config file and any set flags over the defaults.
func (g *globalFlags) resolve() (*Config, error) {
	cfg := defaultConfig()
	if g.configPath != "" {
		if err := loadConfig(g.configPath, cfg); err != nil {
			return nil, err
		}
	}
	override(&cfg.Store.Backend, g.store)
	override(&cfg.Feed.Kind, g.feed)
	override(&cfg.Store.PostgresDSN, g.postgresDSN)
	override(&cfg.Store.MongoURI, g.mongoURI)
	override(&cfg.Feed.NATSURL, g.natsURL)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// bindEnv lets JEMIMA_<FLAG_NAME> supply any flag not given on the command line.
func bindEnv(fs *pflag.FlagSet) {
	v := viper.New()
	v.SetEnvPrefix("JEMIMA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}
