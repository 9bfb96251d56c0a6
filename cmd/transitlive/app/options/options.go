package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/transitlive/internal/transit"
	"github.com/autopeer-io/transitlive/pkg/app"
	"github.com/autopeer-io/transitlive/pkg/log"
	"github.com/autopeer-io/transitlive/pkg/options"
)

type AgentOptions struct {
	DeviceOptions    *options.DeviceOptions    `json:"device" mapstructure:"device"`
	UplinkOptions    *options.UplinkOptions    `json:"uplink" mapstructure:"uplink"`
	LifecycleOptions *options.LifecycleOptions `json:"lifecycle" mapstructure:"lifecycle"`
	FleetOptions     *options.FleetOptions     `json:"fleet" mapstructure:"fleet"`
	GrpcOptions      *options.GrpcOptions      `json:"backend" mapstructure:"backend"`
	MqttOptions      *options.MqttOptions      `json:"mqtt" mapstructure:"mqtt"`
	HttpOptions      *options.HttpOptions      `json:"http" mapstructure:"http"`
	S3Options        *options.S3Options        `json:"s3" mapstructure:"s3"`
	QueueOptions     *options.QueueOptions     `json:"queue" mapstructure:"queue"`
	Log              *log.Options              `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*AgentOptions)(nil)

func NewAgentOptions() *AgentOptions {
	return &AgentOptions{
		DeviceOptions:    options.NewDeviceOptions(),
		UplinkOptions:    options.NewUplinkOptions(),
		LifecycleOptions: options.NewLifecycleOptions(),
		FleetOptions:     options.NewFleetOptions(),
		GrpcOptions:      options.NewGrpcOptions(),
		MqttOptions:      options.NewMqttOptions(),
		HttpOptions:      options.NewHttpOptions(),
		S3Options:        options.NewS3Options(),
		QueueOptions:     options.NewQueueOptions(),
		Log:              log.NewOptions(),
	}
}

func (o *AgentOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.DeviceOptions.AddFlags(fss.FlagSet("device"))
	o.UplinkOptions.AddFlags(fss.FlagSet("uplink"))
	o.LifecycleOptions.AddFlags(fss.FlagSet("lifecycle"))
	o.FleetOptions.AddFlags(fss.FlagSet("fleet"))
	o.GrpcOptions.AddFlags(fss.FlagSet("backend"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.QueueOptions.AddFlags(fss.FlagSet("queue"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *AgentOptions) Complete() error {
	return nil
}

func (o *AgentOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.DeviceOptions.Validate()...)
	errs = append(errs, o.UplinkOptions.Validate()...)
	errs = append(errs, o.LifecycleOptions.Validate()...)
	errs = append(errs, o.FleetOptions.Validate()...)
	errs = append(errs, o.GrpcOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.QueueOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *AgentOptions) Config(version string) (*transit.Config, error) {
	return &transit.Config{
		Version:          version,
		DeviceOptions:    o.DeviceOptions,
		UplinkOptions:    o.UplinkOptions,
		LifecycleOptions: o.LifecycleOptions,
		FleetOptions:     o.FleetOptions,
		GrpcOptions:      o.GrpcOptions,
		MqttOptions:      o.MqttOptions,
		HttpOptions:      o.HttpOptions,
		S3Options:        o.S3Options,
		QueueOptions:     o.QueueOptions,
	}, nil
}
