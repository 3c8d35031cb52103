package main

import (
	configsqlite "omniasync-backend/lib/configutil/sqlite"
	"omniasync-backend/lib/notify"
	"omniasync-backend/lib/sinks/webform"
)

type PortalConfig struct {
	BaseUrl  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type RetryConfig struct {
	MaxAttempts  int `json:"max_attempts"`
	DelaySeconds int `json:"delay_seconds"`
}

type Config struct {
	Database configsqlite.Struct `json:"database"`
	Portal   PortalConfig        `json:"portal"`

	// seconds between ingestion cycles, defaults to 20
	PollSeconds int `json:"poll_seconds"`
	// Workers > 0 enables the pipelined cycle
	Workers       int `json:"workers"`
	QueueCapacity int `json:"queue_capacity"`

	// sub-schema name -> "upsert" | "append", unlisted sub-schemas
	// default to upsert
	Persistence map[string]string `json:"persistence"`

	Retry        RetryConfig           `json:"retry"`
	Destinations []webform.Destination `json:"destinations"`
	Smtp         *notify.SmtpConfig    `json:"smtp"`
}
