// Package config loads replica settings from an optional CUE file.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaSource string

// Config holds the engine and transport settings.
type Config struct {
	OperationTimeout  time.Duration
	StuckAfter        time.Duration
	SweepInterval     time.Duration
	PendingQueueLimit int
	LowStockThreshold int
	PageSize          int
	ProvisionalPrefix string
	Topic             string
	SubjectPrefix     string
}

// raw mirrors #Config field for field.
type raw struct {
	OperationTimeout  string `json:"operation_timeout"`
	StuckAfter        string `json:"stuck_after"`
	SweepInterval     string `json:"sweep_interval"`
	PendingQueueLimit int    `json:"pending_queue_limit"`
	LowStockThreshold int    `json:"low_stock_threshold"`
	PageSize          int    `json:"page_size"`
	ProvisionalPrefix string `json:"provisional_prefix"`
	Topic             string `json:"topic"`
	SubjectPrefix     string `json:"subject_prefix"`
}

// Default returns the schema defaults.
func Default() Config {
	cfg, err := Parse(nil, "default")
	if err != nil {
		// The embedded schema is fixed at build time.
		panic(fmt.Sprintf("config: embedded schema: %v", err))
	}
	return cfg
}

// Load reads and validates the CUE file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, path)
}

// Parse validates src against the schema and applies defaults. Unknown
// fields are rejected. filename is used in error positions only.
func Parse(src []byte, filename string) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile schema: %w", err)
	}
	value := schema.LookupPath(cue.ParsePath("#Config"))

	if len(src) > 0 {
		user := ctx.CompileBytes(src, cue.Filename(filename))
		if err := user.Err(); err != nil {
			return Config{}, fmt.Errorf("compile %s: %w", filename, err)
		}
		value = value.Unify(user)
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return Config{}, fmt.Errorf("validate %s: %w", filename, err)
	}

	var r raw
	if err := value.Decode(&r); err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", filename, err)
	}
	return r.config()
}

func (r raw) config() (Config, error) {
	cfg := Config{
		PendingQueueLimit: r.PendingQueueLimit,
		LowStockThreshold: r.LowStockThreshold,
		PageSize:          r.PageSize,
		ProvisionalPrefix: r.ProvisionalPrefix,
		Topic:             r.Topic,
		SubjectPrefix:     r.SubjectPrefix,
	}
	durations := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"operation_timeout", r.OperationTimeout, &cfg.OperationTimeout},
		{"stuck_after", r.StuckAfter, &cfg.StuckAfter},
		{"sweep_interval", r.SweepInterval, &cfg.SweepInterval},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.src)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}
	return cfg, nil
}
