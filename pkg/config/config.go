package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type MongoConfig struct {
	Host       string `yaml:"host"`
	DBName     string `yaml:"dbname"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	AuthSource string `yaml:"authSource"`
}

// SourceConfig 照片来源
type SourceConfig struct {
	Provider  string        `yaml:"provider"`
	BaseURL   string        `yaml:"baseURL"`
	AccessKey string        `yaml:"accessKey"`
	Timeout   time.Duration `yaml:"timeout"`
	// RequestsPerSecond 为 0 时不限速
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
}

// CycleConfig 采集循环
type CycleConfig struct {
	Collection string        `yaml:"collection"`
	StartPage  int           `yaml:"startPage"`
	PageSize   int           `yaml:"pageSize"`
	SortOrder  string        `yaml:"sortOrder"`
	AdvanceMin time.Duration `yaml:"advanceMin"`
	AdvanceMax time.Duration `yaml:"advanceMax"`
	BackoffMin time.Duration `yaml:"backoffMin"`
	BackoffMax time.Duration `yaml:"backoffMax"`
}

type TransferConfig struct {
	Dir string `yaml:"dir"`
}

type BackfillConfig struct {
	Spots    string        `yaml:"spots"`
	Geo      string        `yaml:"geo"`
	MaxDelay time.Duration `yaml:"maxDelay"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type APIConfig struct {
	// Addr 为空时不启动状态接口
	Addr string `yaml:"addr"`
}

type Config struct {
	Mongo    MongoConfig    `yaml:"mongo"`
	Source   SourceConfig   `yaml:"source"`
	Cycle    CycleConfig    `yaml:"cycle"`
	Transfer TransferConfig `yaml:"transfer"`
	Backfill BackfillConfig `yaml:"backfill"`
	Log      LogConfig      `yaml:"log"`
	API      APIConfig      `yaml:"api"`
}

// Default 未配置项的默认值
func Default() Config {
	return Config{
		Mongo: MongoConfig{
			Host:   "localhost:27017",
			DBName: "photo_scout",
		},
		Source: SourceConfig{
			Provider: "unsplash",
			Timeout:  10 * time.Second,
		},
		Cycle: CycleConfig{
			Collection: "photos",
			StartPage:  1,
			PageSize:   15,
			SortOrder:  "popular",
			AdvanceMin: 10 * time.Minute,
			AdvanceMax: 30 * time.Minute,
			BackoffMin: time.Hour,
			BackoffMax: time.Hour,
		},
		Transfer: TransferConfig{Dir: "export"},
		Backfill: BackfillConfig{
			Spots:    "spots",
			Geo:      "geo",
			MaxDelay: 3 * time.Second,
		},
		Log: LogConfig{Level: "info"},
		API: APIConfig{Addr: ":8080"},
	}
}

// LoadConfig 读取 yaml 配置；.env 与环境变量中的账号密钥覆盖文件内容
func LoadConfig(path string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Mongo.Host = getEnv("MONGO_HOST", c.Mongo.Host)
	c.Mongo.Username = getEnv("MONGO_USERNAME", c.Mongo.Username)
	c.Mongo.Password = getEnv("MONGO_PASSWORD", c.Mongo.Password)
	c.Source.AccessKey = getEnv("UNSPLASH_ACCESS_KEY", c.Source.AccessKey)
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
