package config

import "time"

// IngressConfig configures the ingress router process.
type IngressConfig struct {
	Redis RedisConfig
	Bus   BusConfig

	BatchSize   int           `env:"INGRESS_BATCH_SIZE" envDefault:"10"`
	PollTimeout time.Duration `env:"INGRESS_POLL_TIMEOUT" envDefault:"20s"`
	MetricsAddr string        `env:"METRICS_ADDR" envDefault:":9090"`
}

// DispatcherConfig configures one channel dispatcher process.
type DispatcherConfig struct {
	Redis     RedisConfig
	Bus       BusConfig
	Transport TransportConfig

	// Channel selects which channel this process serves: sms or email.
	// Push runs inside the wsgateway process, next to the live sockets.
	Channel string `env:"CHANNEL,required"`

	BatchSize   int           `env:"DISPATCHER_BATCH_SIZE" envDefault:"10"`
	PollTimeout time.Duration `env:"DISPATCHER_POLL_TIMEOUT" envDefault:"5s"`
	IdleSleep   time.Duration `env:"DISPATCHER_IDLE_SLEEP" envDefault:"1s"`
	Concurrency int           `env:"DISPATCHER_CONCURRENCY" envDefault:"10"`
	MetricsAddr string        `env:"METRICS_ADDR" envDefault:":9090"`
}

// GatewayConfig configures the WebSocket gateway process, which also
// hosts the push channel dispatcher.
type GatewayConfig struct {
	Redis     RedisConfig
	Bus       BusConfig
	Transport TransportConfig

	ListenAddr  string        `env:"WS_LISTEN_ADDR" envDefault:":8080"`
	BatchSize   int           `env:"DISPATCHER_BATCH_SIZE" envDefault:"10"`
	PollTimeout time.Duration `env:"DISPATCHER_POLL_TIMEOUT" envDefault:"5s"`
	IdleSleep   time.Duration `env:"DISPATCHER_IDLE_SLEEP" envDefault:"1s"`
	Concurrency int           `env:"DISPATCHER_CONCURRENCY" envDefault:"10"`
	MetricsAddr string        `env:"METRICS_ADDR" envDefault:":9090"`
}

// TransportConfig holds the external vendor credentials.
type TransportConfig struct {
	SMSURL        string        `env:"SMS_API_URL"`
	SMSAccountSID string        `env:"SMS_ACCOUNT_SID"`
	SMSAuthToken  string        `env:"SMS_AUTH_TOKEN"`
	SMSFrom       string        `env:"SMS_FROM_NUMBER"`
	SMSTimeout    time.Duration `env:"SMS_TIMEOUT" envDefault:"5s"`

	EmailURL     string        `env:"EMAIL_API_URL"`
	EmailToken   string        `env:"EMAIL_API_TOKEN"`
	EmailSender  string        `env:"EMAIL_SENDER"`
	EmailTimeout time.Duration `env:"EMAIL_TIMEOUT" envDefault:"5s"`

	APNsURL     string        `env:"APNS_URL"`
	APNsToken   string        `env:"APNS_TOKEN"`
	APNsTopic   string        `env:"APNS_TOPIC"`
	APNsTimeout time.Duration `env:"APNS_TIMEOUT" envDefault:"10s"`
}

// BusConfig tunes the Redis Streams broker client.
type BusConfig struct {
	Visibility time.Duration `env:"BUS_VISIBILITY_TIMEOUT" envDefault:"30s"`
}
