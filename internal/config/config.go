package config

import "github.com/kelseyhightower/envconfig"

type APIConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// operator surface
	AdminToken string `envconfig:"ADMIN_TOKEN" required:"true"`

	// AWS / SQS
	AWSRegion          string `envconfig:"AWS_REGION" required:"true"`
	EventsQueueURL     string `envconfig:"EVENTS_QUEUE_URL" required:"true"`
	EventsDLQURL       string `envconfig:"EVENTS_DLQ_URL" required:"true"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`

	// ceilings
	MaxManualRetries int `envconfig:"MAX_MANUAL_RETRIES" default:"5"`
}

type WorkerConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// AWS / SQS
	AWSRegion          string `envconfig:"AWS_REGION" required:"true"`
	EventsQueueURL     string `envconfig:"EVENTS_QUEUE_URL" required:"true"`
	EventsDLQURL       string `envconfig:"EVENTS_DLQ_URL" required:"true"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
	SQSWaitTime        int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs         int32  `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout      int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`

	WorkerConcurrency int `envconfig:"WORKER_CONCURRENCY" default:"10"`

	// delivery
	MaxAttempts     int     `envconfig:"MAX_DELIVERY_ATTEMPTS" default:"5"`
	DeliveryTimeout int     `envconfig:"DELIVERY_TIMEOUT_SECONDS" default:"30"`
	DeliveryRPS     float64 `envconfig:"DELIVERY_RPS_PER_POD" default:"20"`
	DeliveryBurst   int     `envconfig:"DELIVERY_BURST" default:"40"`
}

type ReceiverConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	AdminToken string `envconfig:"ADMIN_TOKEN" required:"true"`

	// Signatures older than this are rejected; 0 disables the skew check.
	MaxClockSkewSeconds int `envconfig:"MAX_CLOCK_SKEW_SECONDS" default:"300"`
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWorker() WorkerConfig {
	var cfg WorkerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadReceiver() ReceiverConfig {
	var cfg ReceiverConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
