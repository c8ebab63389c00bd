package main

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"livebid/api"
)

func ParseArgs() Args {
	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")
	pflag.String("node-id", uuid.NewString(), "")
	pflag.Bool("demo", false, "run without redis and database, with synthetic bids")
	pflag.String("transport", "redis", "bid channel implementation (redis or pubnub)")

	// local user config
	pflag.String("user-id", "local-user", "")
	pflag.String("user-name", "You", "")
	pflag.String("user-initial-balance", "1000", "")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "", "")

	// redis config
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")
	pflag.String("redis-key-prefix", "livebid:", "")
	pflag.String("redis-consumer-group", "livebid-bid-sync", "")

	// redis stream keys
	pflag.String("redis-stream-key-for-bids", "livebid-shared-bid-stream", "")
	pflag.String("redis-stream-key-for-events", "livebid-shared-event-stream", "")

	// pubnub config
	pflag.String("pubnub-publish-key", "", "")
	pflag.String("pubnub-subscribe-key", "", "")

	// auction config
	pflag.Duration("payment-grace-period", 5*time.Minute, "")
	pflag.Bool("synthetic-bids", false, "")
	pflag.Duration("synthetic-interval", 5*time.Second, "")
	pflag.Float64("synthetic-chance", 0.35, "")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("LIVEBID")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// initial arguments
	return Args{
		ServerURL: viper.GetString("server-url"),
		ServerConfig: api.ServerConfig{
			ID:        viper.GetString("node-id"),
			Demo:      viper.GetBool("demo"),
			Transport: viper.GetString("transport"),
			User: api.UserConfig{
				ID:             viper.GetString("user-id"),
				Name:           viper.GetString("user-name"),
				InitialBalance: viper.GetString("user-initial-balance"),
			},
			DB: api.DBConfig{
				User:     viper.GetString("db-user"),
				Password: viper.GetString("db-password"),
				Host:     viper.GetString("db-host"),
				Port:     viper.GetInt("db-port"),
				Database: viper.GetString("db-database"),
				Schema:   viper.GetString("db-schema"),
			},
			Redis: api.RedisConfig{
				Addr:          viper.GetString("redis-addr"),
				Password:      viper.GetString("redis-password"),
				DB:            viper.GetInt("redis-db"),
				KeyPrefix:     viper.GetString("redis-key-prefix"),
				ConsumerGroup: viper.GetString("redis-consumer-group"),
				StreamKeys: api.RedisStreamKeys{
					Bids:   viper.GetString("redis-stream-key-for-bids"),
					Events: viper.GetString("redis-stream-key-for-events"),
				},
			},
			PubNub: api.PubNubConfig{
				PublishKey:   viper.GetString("pubnub-publish-key"),
				SubscribeKey: viper.GetString("pubnub-subscribe-key"),
			},
			Auction: api.AuctionConfig{
				GracePeriod:       viper.GetDuration("payment-grace-period"),
				SyntheticBids:     viper.GetBool("synthetic-bids"),
				SyntheticInterval: viper.GetDuration("synthetic-interval"),
				SyntheticChance:   viper.GetFloat64("synthetic-chance"),
			},
		},
	}
}

type Args struct {
	ServerURL    string
	ServerConfig api.ServerConfig
}

func (args Args) Validate() bool {
	if args.ServerURL == "" || args.ServerConfig.User.ID == "" {
		return false
	}
	if args.ServerConfig.Demo {
		return true
	}
	return args.ServerConfig.Redis.Addr != "" && args.ServerConfig.DB.Host != ""
}
