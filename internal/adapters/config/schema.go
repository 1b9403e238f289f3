package config

// File represents the structure of the cratesync.yaml configuration file.
// Every field is optional; unset fields keep their default.
type File struct {
	Storage     *string           `yaml:"storage"`
	Lockfile    *string           `yaml:"lockfile"`
	Root        *string           `yaml:"root"`
	Index       *IndexDTO         `yaml:"index"`
	Concurrency *ConcurrencyDTO   `yaml:"concurrency"`
	Retry       *RetryDTO         `yaml:"retry"`
	HTTP        *HTTPDTO          `yaml:"http"`
	Registries  map[string]string `yaml:"registries"`
}

// IndexDTO configures the registry index mirror.
type IndexDTO struct {
	Include *bool   `yaml:"include"`
	TTL     *string `yaml:"ttl"`
}

// ConcurrencyDTO sizes the worker pools.
type ConcurrencyDTO struct {
	Network *int `yaml:"network"`
	CPU     *int `yaml:"cpu"`
}

// RetryDTO configures transport retries.
type RetryDTO struct {
	MaxAttempts *int    `yaml:"max_attempts"`
	Initial     *string `yaml:"initial"`
	Max         *string `yaml:"max"`
}

// HTTPDTO configures origin requests.
type HTTPDTO struct {
	Timeout *string `yaml:"timeout"`
}
