package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Auth struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"auth"`
	Collab struct {
		RingCap    int `mapstructure:"ringcap"`
		WsSubmits  int `mapstructure:"wssubmits"`
		Dispatcher struct {
			QueueSize   int           `mapstructure:"queuesize"`
			Workers     int           `mapstructure:"workers"`
			MaxRetry    int           `mapstructure:"maxretry"`
			Inflight    int           `mapstructure:"inflight"`
			BaseBackoff time.Duration `mapstructure:"basebackoff"`
			MaxBackoff  time.Duration `mapstructure:"maxbackoff"`
		} `mapstructure:"dispatcher"`
	} `mapstructure:"collab"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("running.port", 8082)
	v.SetDefault("kafka.topic", "doc-ops")
	v.SetDefault("collab.ringcap", 1024)
	v.SetDefault("collab.wssubmits", 256)
	v.SetDefault("collab.dispatcher.queuesize", 10_000)
	v.SetDefault("collab.dispatcher.workers", 4)
	v.SetDefault("collab.dispatcher.maxretry", 3)
	v.SetDefault("collab.dispatcher.inflight", 64)
	v.SetDefault("collab.dispatcher.basebackoff", 50*time.Millisecond)
	v.SetDefault("collab.dispatcher.maxbackoff", time.Second)
}

// Load 读取 collabConfig.yaml，环境变量 PIECETABLE_XXX_YYY 可覆盖对应配置项
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("collabConfig")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		// 兼容从项目根目录或 backend 目录启动
		paths = []string{"./backend/config", "./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	setDefaults(v)
	v.SetEnvPrefix("PIECETABLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
