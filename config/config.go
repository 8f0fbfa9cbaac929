package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	ETCD     ETCDConfig     `mapstructure:"etcd"`
	GraphQL  GraphQLConfig  `mapstructure:"graphql"`
	Treasury TreasuryConfig `mapstructure:"treasury"`
	Lottery  LotteryConfig  `mapstructure:"lottery"`
	Keeper   KeeperConfig   `mapstructure:"keeper"`
	Tokens   []TokenGenesis `mapstructure:"tokens"`
	// Native 开发环境原生币初始余额，地址 -> 金额
	Native map[string]string `mapstructure:"native_balances"`
}

type ServerConfig struct {
	Port     int `mapstructure:"port"`
	RESTPort int `mapstructure:"rest_port"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"`
	Development bool   `mapstructure:"development"`
}

type MySQLConfig struct {
	Master       string `mapstructure:"master"`
	Slave        string `mapstructure:"slave"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	// 快照缓存Redis
	DataAddress string        `mapstructure:"data_address"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`

	// Redlock使用的Redis节点
	LockAddresses []string `mapstructure:"lock_addresses"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
	Workers int      `mapstructure:"workers"`
}

type ETCDConfig struct {
	Endpoints      []string      `mapstructure:"endpoints"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
}

type GraphQLConfig struct {
	Path string `mapstructure:"path"`
}

// TreasuryConfig 金库配置，金额以最小单位的十进制字符串表示
type TreasuryConfig struct {
	CreationFee    string `mapstructure:"creation_fee"`
	BuyFee         string `mapstructure:"buy_fee"`
	ReserveFund    string `mapstructure:"reserve_fund"`
	CustodyAddress string `mapstructure:"custody_address"`
}

type LotteryConfig struct {
	BurnPercent        int64  `mapstructure:"burn_percent"`
	PrizePercent       int64  `mapstructure:"prize_percent"`
	Entropy            string `mapstructure:"entropy"`
	EntropySeed        string `mapstructure:"entropy_seed"`
	MaxTicketsPerRound int64  `mapstructure:"max_tickets_per_round"`
}

type KeeperConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Schedule    string        `mapstructure:"schedule"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
	LockDriver  string        `mapstructure:"lock_driver"`
	RetryCount  int           `mapstructure:"retry_count"`
}

// TokenGenesis 开发账本中的代币初始状态
type TokenGenesis struct {
	Address    string            `mapstructure:"address"`
	Symbol     string            `mapstructure:"symbol"`
	Balances   map[string]string `mapstructure:"balances"`
	Allowances map[string]string `mapstructure:"allowances"`
}

var AppConfig Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("TL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}

	AppConfig = cfg
	return &AppConfig, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rest_port", 8090)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("mysql.max_open_conns", 20)
	v.SetDefault("mysql.max_idle_conns", 5)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.timeout", "3s")
	v.SetDefault("redis.cache_ttl", "1h")
	v.SetDefault("kafka.topic", "lottery-events")
	v.SetDefault("kafka.group_id", "tokenlottery")
	v.SetDefault("kafka.workers", 4)
	v.SetDefault("etcd.dial_timeout", "5s")
	v.SetDefault("etcd.request_timeout", "3s")
	v.SetDefault("etcd.session_ttl", "10s")
	v.SetDefault("graphql.path", "/graphql")
	v.SetDefault("treasury.creation_fee", "200000000000000000000000")
	v.SetDefault("treasury.buy_fee", "10000000000000000000000")
	v.SetDefault("lottery.burn_percent", 40)
	v.SetDefault("lottery.prize_percent", 40)
	v.SetDefault("lottery.entropy", "crypto")
	v.SetDefault("lottery.max_tickets_per_round", 100000)
	v.SetDefault("keeper.enabled", true)
	v.SetDefault("keeper.schedule", "*/10 * * * * *")
	v.SetDefault("keeper.lock_timeout", "30s")
	v.SetDefault("keeper.lock_driver", "local")
	v.SetDefault("keeper.retry_count", 3)
}

// Validate 校验金库与开奖配置
func (c *Config) Validate() error {
	if _, _, err := c.Treasury.Fees(); err != nil {
		return err
	}
	if !common.IsHexAddress(c.Treasury.ReserveFund) {
		return fmt.Errorf("无效的储备金地址: %q", c.Treasury.ReserveFund)
	}
	if !common.IsHexAddress(c.Treasury.CustodyAddress) {
		return fmt.Errorf("无效的托管地址: %q", c.Treasury.CustodyAddress)
	}
	if c.Lottery.BurnPercent < 0 || c.Lottery.PrizePercent < 0 || c.Lottery.BurnPercent+c.Lottery.PrizePercent > 100 {
		return fmt.Errorf("销毁比例(%d)与奖池比例(%d)之和不能超过100", c.Lottery.BurnPercent, c.Lottery.PrizePercent)
	}
	if c.Lottery.MaxTicketsPerRound <= 0 {
		return fmt.Errorf("单轮票数上限必须为正: %d", c.Lottery.MaxTicketsPerRound)
	}
	switch c.Lottery.Entropy {
	case "crypto", "seed":
	default:
		return fmt.Errorf("未知的随机源类型: %s", c.Lottery.Entropy)
	}
	return nil
}

// Fees 解析创建费与购票费
func (t TreasuryConfig) Fees() (creation, buy decimal.Decimal, err error) {
	creation, err = parseAmount("treasury.creation_fee", t.CreationFee)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	buy, err = parseAmount("treasury.buy_fee", t.BuyFee)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return creation, buy, nil
}

func parseAmount(key, raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	if amount.IsNegative() || !amount.IsInteger() {
		return decimal.Zero, fmt.Errorf("%s 必须是非负整数: %s", key, raw)
	}
	return amount, nil
}
