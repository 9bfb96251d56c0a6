package options

import (
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*GrpcOptions)(nil)

// GrpcOptions configures the client connection to the transit backend.
type GrpcOptions struct {
	// Addr is the backend address in host:port form.
	Addr string `json:"addr" mapstructure:"addr" validate:"required"`

	// Timeout bounds every unary call that carries no deadline of its own.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout" validate:"gt=0"`

	// Insecure disables transport security.
	Insecure bool `json:"insecure" mapstructure:"insecure"`
}

// NewGrpcOptions returns GrpcOptions with default values.
func NewGrpcOptions() *GrpcOptions {
	return &GrpcOptions{
		Addr:     "localhost:8091",
		Timeout:  10 * time.Second,
		Insecure: true,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *GrpcOptions) Validate() []error {
	errors := validateStruct(o)

	if err := ValidateAddress(o.Addr); err != nil {
		errors = append(errors, err)
	}

	return errors
}

// AddFlags adds flags for the backend client to the specified FlagSet.
func (o *GrpcOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Addr, "backend.addr", o.Addr, "The gRPC address of the transit backend.")
	fs.DurationVar(&o.Timeout, "backend.timeout", o.Timeout, "Default deadline of backend calls.")
	fs.BoolVar(&o.Insecure, "backend.insecure", o.Insecure, "Connect to the backend without TLS.")
}
