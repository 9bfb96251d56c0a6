package options

import (
	"fmt"
	"net"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
)

// IOptions is implemented by every option group.
type IOptions interface {
	// Validate returns every problem found rather than stopping at the first.
	Validate() []error

	// AddFlags binds the group's flags to fs.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct runs the `validate` struct tags of o and flattens the result.
func validateStruct(o any) []error {
	err := validate.Struct(o)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []error{err}
	}

	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("%s: failed %q constraint (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return errs
}

// ValidateAddress checks that addr is a host:port pair with a valid port.
func ValidateAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%q is not a valid address: %w", addr, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("%q has an invalid port %q", addr, port)
	}
	return nil
}
