// pkg/config/config.go
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/andrej220/bat/internal/lg"
	"github.com/andrej220/bat/pkg/config/configstore"
	"github.com/andrej220/bat/pkg/config/filestore"
	"github.com/andrej220/bat/pkg/config/mongostore"
	"github.com/andrej220/bat/pkg/executor"
	"github.com/andrej220/bat/pkg/orchestrator"
	"github.com/andrej220/bat/pkg/poller"
)

type StoreType int

const (
	FileStore StoreType = iota
	MongoStore
)

const (
	ServiceName        = "batwait"
	defaultBinary      = "bosh"
	defaultUser        = "vcap"
	defaultLogFormat   = "json"
	defaultDialTimeout = 10 * time.Second
)

var (
	ErrInvalidStoreType = errors.New("invalid store type")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// Config interface that combines all store capabilities
type Config interface {
	configstore.ConfigStore
	Watch(onChange func()) error // Optional for stores that support watching
}

type FileConfig struct {
	Path string `yaml:"path" json:"path"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" json:"uri"`
	DBName   string `yaml:"dbName" json:"dbName"`
	CollName string `yaml:"collName" json:"collName"`
	ID       string `yaml:"id" json:"id"` // Document ID, e.g. the environment name
}

func NewStore(storeType StoreType, cfg any) (Config, error) {
	switch storeType {
	case FileStore:
		fileCfg, ok := cfg.(*FileConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for file store, expected *FileConfig")
		}
		return filestore.New(fileCfg.Path), nil
	case MongoStore:
		mongoCfg, ok := cfg.(*MongoConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for mongo store, expected *MongoConfig")
		}
		store, err := mongostore.New(mongoCfg.URI, mongoCfg.DBName, mongoCfg.CollName, mongoCfg.ID)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, ErrInvalidStoreType
	}
}

// Env describes the deployment under test and how to reach it.
type Env struct {
	Deployment string         `yaml:"deployment" json:"deployment" bson:"deployment" validate:"required"`
	Director   DirectorConfig `yaml:"director" json:"director" bson:"director"`
	SSH        SSHConfig      `yaml:"ssh" json:"ssh" bson:"ssh"`
	Poll       PollConfig     `yaml:"poll" json:"poll" bson:"poll"`
	Log        LogConfig      `yaml:"log" json:"log" bson:"log"`
}

type DirectorConfig struct {
	Binary      string   `yaml:"binary" json:"binary" bson:"binary"`
	Environment string   `yaml:"environment" json:"environment" bson:"environment"`
	Env         []string `yaml:"env,omitempty" json:"env,omitempty" bson:"env,omitempty" validate:"dive,contains=="`
}

type SSHConfig struct {
	User                  string        `yaml:"user" json:"user" bson:"user"`
	PrivateKey            string        `yaml:"privateKey" json:"privateKey" bson:"privateKey"`
	Keys                  []string      `yaml:"keys,omitempty" json:"keys,omitempty" bson:"keys,omitempty"`
	Port                  string        `yaml:"port" json:"port" bson:"port" validate:"omitempty,numeric"`
	Timeout               time.Duration `yaml:"timeout" json:"timeout" bson:"timeout" validate:"gte=0"`
	KnownHostsFile        string        `yaml:"knownHostsFile" json:"knownHostsFile" bson:"knownHostsFile"`
	InsecureIgnoreHostKey bool          `yaml:"insecureIgnoreHostKey" json:"insecureIgnoreHostKey" bson:"insecureIgnoreHostKey"`
	BreakerFailures       uint32        `yaml:"breakerFailures" json:"breakerFailures" bson:"breakerFailures"`
}

type PollConfig struct {
	Timeout  time.Duration `yaml:"timeout" json:"timeout" bson:"timeout" validate:"gte=0"`
	Attempts int           `yaml:"attempts" json:"attempts" bson:"attempts" validate:"gte=0"`
}

type LogConfig struct {
	Debug  bool   `yaml:"debug" json:"debug" bson:"debug"`
	Format string `yaml:"format" json:"format" bson:"format" validate:"omitempty,oneof=json console"`
}

var validate = validator.New()

// Load reads an Env from store, fills defaults and validates it.
func Load(store configstore.ConfigStore) (*Env, error) {
	env := &Env{}
	if err := store.Load(env); err != nil {
		return nil, err
	}
	env.SetDefaults()
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

func (e *Env) SetDefaults() {
	if e.Director.Binary == "" {
		e.Director.Binary = defaultBinary
	}
	if e.SSH.User == "" {
		e.SSH.User = defaultUser
	}
	if e.SSH.Timeout == 0 {
		e.SSH.Timeout = defaultDialTimeout
	}
	if e.Poll.Timeout == 0 {
		e.Poll.Timeout = poller.DefaultTimeout
	}
	if e.Poll.Attempts == 0 {
		e.Poll.Attempts = poller.DefaultAttempts
	}
	if e.Log.Format == "" {
		e.Log.Format = defaultLogFormat
	}
}

func (e *Env) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// PollSchedule spreads Poll.Timeout over Poll.Attempts.
func (e *Env) PollSchedule() poller.Config {
	attempts := e.Poll.Attempts
	if attempts <= 0 {
		attempts = poller.DefaultAttempts
	}
	return poller.Config{Attempts: attempts, Interval: e.Poll.Timeout / time.Duration(attempts)}
}

func (e *Env) RemoteOptions() executor.RemoteOptions {
	return executor.RemoteOptions{
		Keys:                  e.SSH.Keys,
		PrivateKey:            e.SSH.PrivateKey,
		Port:                  e.SSH.Port,
		Timeout:               e.SSH.Timeout,
		KnownHostsFile:        e.SSH.KnownHostsFile,
		InsecureIgnoreHostKey: e.SSH.InsecureIgnoreHostKey,
	}
}

func (e *Env) Runner() *orchestrator.CLIRunner {
	return &orchestrator.CLIRunner{
		Binary:      e.Director.Binary,
		Environment: e.Director.Environment,
		Env:         e.Director.Env,
	}
}

func (e *Env) LogConfig() *lg.Config {
	return &lg.Config{ServiceName: ServiceName, Debug: e.Log.Debug, Format: e.Log.Format}
}
