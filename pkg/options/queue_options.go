package options

import (
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*QueueOptions)(nil)

// QueueOptions configures the durable offline queue of undelivered location writes.
type QueueOptions struct {
	// Path of the bbolt file. Empty keeps the queue in memory only.
	Path string `json:"path" mapstructure:"path"`

	// OpenTimeout bounds waiting for the file lock held by another process.
	OpenTimeout time.Duration `json:"open-timeout" mapstructure:"open-timeout" validate:"gt=0"`
}

func NewQueueOptions() *QueueOptions {
	return &QueueOptions{
		Path:        "/var/lib/transitlive/uplink.db",
		OpenTimeout: time.Second,
	}
}

func (o *QueueOptions) Validate() []error {
	return validateStruct(o)
}

func (o *QueueOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Path, "queue.path", o.Path, "File backing the offline uplink queue; empty keeps it in memory.")
	fs.DurationVar(&o.OpenTimeout, "queue.open-timeout", o.OpenTimeout, "How long to wait for the queue file lock.")
}
