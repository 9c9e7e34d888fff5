package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	// configuration of the public REST server
	Server   Server   `yaml:"server" json:"server"`
	// used for OTEL as an application identifier
	Name     string   `yaml:"name" json:"name" env:"APP_NAME" env-default:"zenstep"`
	// target of annotation service calls
	Services Services `yaml:"services" json:"services"`
	Engine   Engine   `yaml:"engine" json:"engine"`
	Tracing  Tracing  `yaml:"tracing" json:"tracing"`
}

type Server struct {
	Context string `yaml:"context" json:"context" env:"REST_API_CONTEXT" env-default:"/"`
	Addr    string `yaml:"addr" json:"addr" env:"REST_API_ADDR" env-default:":8080"`
}

type Services struct {
	Host    string        `yaml:"host" json:"host" env:"SERVICES_HOST" env-default:"localhost"`
	Port    int           `yaml:"port" json:"port" env:"SERVICES_PORT" env-default:"8080"`
	Secure  bool          `yaml:"secure" json:"secure" env:"SERVICES_SECURE" env-default:"false"`
	BaseUrl string        `yaml:"baseUrl" json:"baseUrl" env:"SERVICES_BASE_URL" env-default:"/services"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"SERVICES_TIMEOUT" env-default:"10s"`
}

type Engine struct {
	// DefinitionPath is a directory of YAML definitions registered at startup, empty disables loading
	DefinitionPath    string        `yaml:"definitionPath" json:"definitionPath" env:"ENGINE_DEFINITION_PATH"`
	Retention         time.Duration `yaml:"retention" json:"retention" env:"ENGINE_RETENTION" env-default:"24h"`
	PurgeInterval     time.Duration `yaml:"purgeInterval" json:"purgeInterval" env:"ENGINE_PURGE_INTERVAL" env-default:"1h"`
	RetainedInstances int           `yaml:"retainedInstances" json:"retainedInstances" env:"ENGINE_RETAINED_INSTANCES" env-default:"1000"`
}

type Tracing struct {
	Enabled  bool   `yaml:"enabled" json:"enabled" env:"OTEL_ENABLED" env-default:"false"`
	Endpoint string `yaml:"endpoint" json:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Name     string `yaml:"name" json:"name" env:"OTEL_SERVICE_NAME"`
}

func (c Config) defaults() Config {
	if c.Tracing.Name == "" {
		c.Tracing.Name = c.Name
	}
	if c.Engine.PurgeInterval <= 0 {
		c.Engine.PurgeInterval = time.Hour
	}
	return c
}

func InitConfig() Config {
	c := Config{}
	var fileName string
	confFile := os.Getenv("CONFIG_FILE")
	if confFile == "" {
		wd, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		fileName = fmt.Sprintf("%s/conf.yaml", wd)
	} else {
		fileName = confFile
	}
	var err error
	if _, perr := os.Stat(fileName); errors.Is(perr, os.ErrNotExist) {
		err = cleanenv.ReadEnv(&c)
		fmt.Printf("Configuration file %s not found. Reading config from ENV.\n", fileName)
	} else {
		err = cleanenv.ReadConfig(fileName, &c)
	}
	if err != nil {
		fmt.Printf("Error occurred while reading the configuration: %s\n", err)
		panic(err)
	}
	return c.defaults()
}
