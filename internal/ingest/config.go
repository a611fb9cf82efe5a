package ingest

import "time"

type Config struct {
	// CallTimeout bounds each storage transfer and each record insert.
	CallTimeout time.Duration `mapstructure:"callTimeout"`
	MaxSessions int           `mapstructure:"maxSessions"`
	SessionTTL  time.Duration `mapstructure:"sessionTTL"`

	// MaxBatchItems and MaxBatchBytes cap one batch's selection. Device file bytes are held in
	// the session until the batch is transferred.
	MaxBatchItems int   `mapstructure:"maxBatchItems"`
	MaxBatchBytes int64 `mapstructure:"maxBatchBytes"`
}
