package options

import (
	"github.com/spf13/pflag"
)

var _ IOptions = (*S3Options)(nil)

// S3Options locates the route catalog object.
type S3Options struct {
	Endpoint        string `json:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string `json:"access-key-id" mapstructure:"access-key-id"`
	SecretAccessKey string `json:"secret-access-key" mapstructure:"secret-access-key"`
	UseSSL          bool   `json:"use-ssl" mapstructure:"use-ssl"`
	BucketName      string `json:"bucket-name" mapstructure:"bucket-name" validate:"required_with=Endpoint"`
	Region          string `json:"region" mapstructure:"region"`

	// RoutesObject is the key of the JSON route catalog inside BucketName.
	RoutesObject string `json:"routes-object" mapstructure:"routes-object" validate:"required_with=Endpoint"`
}

func NewS3Options() *S3Options {
	return &S3Options{
		Endpoint:     "",
		UseSSL:       true,
		BucketName:   "transit-static",
		Region:       "us-east-1",
		RoutesObject: "routes.json",
	}
}

// Enabled reports whether a route catalog store is configured.
func (o *S3Options) Enabled() bool {
	return o != nil && o.Endpoint != ""
}

func (o *S3Options) Validate() []error {
	if !o.Enabled() {
		return nil
	}
	return validateStruct(o)
}

func (o *S3Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Endpoint, "s3.endpoint", o.Endpoint, "S3 endpoint holding the route catalog (empty disables route display fields).")
	fs.StringVar(&o.AccessKeyID, "s3.access-key-id", o.AccessKeyID, "S3 access key ID")
	fs.StringVar(&o.SecretAccessKey, "s3.secret-access-key", o.SecretAccessKey, "S3 secret access key")
	fs.BoolVar(&o.UseSSL, "s3.use-ssl", o.UseSSL, "Enable SSL for S3 connection")
	fs.StringVar(&o.BucketName, "s3.bucket-name", o.BucketName, "S3 bucket holding static transit data")
	fs.StringVar(&o.Region, "s3.region", o.Region, "S3 region")
	fs.StringVar(&o.RoutesObject, "s3.routes-object", o.RoutesObject, "Object key of the route catalog JSON")
}
