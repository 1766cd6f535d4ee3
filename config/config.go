package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"dsched/dispatch"
	"dsched/logging"
	"dsched/mq"
	"dsched/store"

	"github.com/go-redis/redis/v8"
	"gopkg.in/yaml.v3"
)

// Transport values.
const (
	TransportRedis = "redis"
	TransportKafka = "kafka"
)

type Redis struct {
	Addrs      []string `yaml:"addrs"`
	MasterName string   `yaml:"master_name"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	DB         int      `yaml:"db"`
	// Namespace prefixes every key. Defaults to "{dsched}".
	Namespace string `yaml:"namespace"`
}

// Client returns a single node, sentinel or cluster client depending on
// the addresses and master name.
func (r Redis) Client() redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      r.Addrs,
		MasterName: r.MasterName,
		Username:   r.Username,
		Password:   r.Password,
		DB:         r.DB,
	})
}

// Etcd configures leader election. Without endpoints the daemon runs as a
// standalone leader.
type Etcd struct {
	Endpoints   []string      `yaml:"endpoints"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	ElectionKey string        `yaml:"election_key"`
	// TTL of the election lease in seconds.
	TTL int `yaml:"ttl"`
}

type Tick struct {
	Interval        time.Duration `yaml:"interval"`
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
}

type Poll struct {
	Interval time.Duration `yaml:"interval"`
	Batch    int           `yaml:"batch"`
}

// Handler declares a job class and the queue it runs on.
type Handler struct {
	Class string `yaml:"class"`
	Queue string `yaml:"queue"`
}

// Config is the daemon configuration file.
type Config struct {
	// Env is the environment this process schedules for.
	Env string `yaml:"env"`
	// Dynamic allows schedules to be changed at run time.
	Dynamic bool `yaml:"dynamic"`
	// Location is the IANA zone cron expressions are evaluated in.
	Location string `yaml:"location"`

	// Address identifies this node in the leader election. Followers dial
	// the leader's address to forward schedule changes, so it has to reach
	// the management API. Defaults to this host and the Listen port.
	Address string `yaml:"address"`
	// Listen is the address of the management gRPC server. Empty disables it.
	Listen string `yaml:"listen"`

	// Schedule is the path of the schedule file. It is watched for changes.
	Schedule string `yaml:"schedule"`

	// Transport is redis or kafka.
	Transport string    `yaml:"transport"`
	Redis     Redis     `yaml:"redis"`
	Kafka     mq.Config `yaml:"kafka"`
	Etcd      Etcd      `yaml:"etcd"`

	Store   store.Config   `yaml:"store"`
	Logging logging.Config `yaml:"logging"`

	Tick    Tick `yaml:"tick"`
	Poll    Poll `yaml:"poll"`
	Workers int  `yaml:"workers"`

	Handlers []Handler `yaml:"handlers"`
}

// Load reads the configuration file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a configuration, fills in defaults and validates it.
// Unknown keys are rejected.
func Parse(b []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) defaults() {
	if c.Transport == "" {
		c.Transport = TransportRedis
	}
	if len(c.Redis.Addrs) == 0 {
		c.Redis.Addrs = []string{"127.0.0.1:6379"}
	}
	if c.Redis.Namespace == "" {
		c.Redis.Namespace = store.DefaultNamespace
	}
	if c.Store.Namespace == "" {
		c.Store.Namespace = c.Redis.Namespace
	}
	if c.Address == "" {
		c.Address = advertise(c.Listen)
	}
	if c.Etcd.DialTimeout == 0 {
		c.Etcd.DialTimeout = 5 * time.Second
	}
	if c.Etcd.TTL == 0 {
		c.Etcd.TTL = 30
	}
	if c.Tick.Interval == 0 {
		c.Tick.Interval = time.Minute
	}
	if c.Tick.DispatchTimeout == 0 {
		c.Tick.DispatchTimeout = 10 * time.Second
	}
	if c.Poll.Interval == 0 {
		c.Poll.Interval = 5 * time.Second
	}
	if c.Poll.Batch == 0 {
		c.Poll.Batch = 100
	}
	if c.Workers == 0 {
		c.Workers = 16
	}
}

// advertise turns a listen address into one other nodes can dial.
func advertise(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err == nil && host != "" && host != "0.0.0.0" && host != "::" {
		return listen
	}
	hostname, herr := os.Hostname()
	if herr != nil {
		hostname = "localhost"
	}
	if err != nil {
		return hostname
	}
	return net.JoinHostPort(hostname, port)
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportRedis:
	case TransportKafka:
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka transport needs brokers")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.Tick.Interval < 0 || c.Poll.Interval < 0 || c.Tick.DispatchTimeout < 0 {
		return errors.New("intervals must be positive")
	}
	if c.Workers < 0 || c.Poll.Batch < 0 {
		return errors.New("workers and batch must be positive")
	}
	if _, err := c.TimeLocation(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Handlers))
	for _, h := range c.Handlers {
		if h.Class == "" {
			return errors.New("handler without class")
		}
		if _, ok := seen[h.Class]; ok {
			return fmt.Errorf("handler %q declared twice", h.Class)
		}
		seen[h.Class] = struct{}{}
	}
	return nil
}

// TimeLocation resolves Location, UTC when unset.
func (c *Config) TimeLocation() (*time.Location, error) {
	if c.Location == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return nil, fmt.Errorf("location: %w", err)
	}
	return loc, nil
}

// DispatchHandlers converts the handler table for the dispatcher.
func (c *Config) DispatchHandlers() *dispatch.Handlers {
	handlers := make([]dispatch.Handler, 0, len(c.Handlers))
	for _, h := range c.Handlers {
		handlers = append(handlers, dispatch.Handler{Class: h.Class, Queue: h.Queue})
	}
	return dispatch.NewHandlers(handlers...)
}
