// Package config loads the server configuration from defaults, an optional
// YAML file, LLMSERVER_-prefixed environment variables, and CLI overrides.
// Later sources win.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	MCP       MCPConfig       `koanf:"mcp"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Trace     TraceConfig     `koanf:"trace"`
	Prompts   PromptsConfig   `koanf:"prompts"`
}

type ServerConfig struct {
	Addr                 string `koanf:"addr"`
	ReadTimeoutSeconds   int    `koanf:"read_timeout_seconds"`
	WriteTimeoutSeconds  int    `koanf:"write_timeout_seconds"`
	ShutdownGraceSeconds int    `koanf:"shutdown_grace_seconds"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider           string  `koanf:"provider"` // ollama, openai, mock
	Model              string  `koanf:"model"`
	BaseURL            string  `koanf:"base_url"`
	APIKey             string  `koanf:"api_key"`
	Temperature        float64 `koanf:"temperature"`
	CallTimeoutSeconds int     `koanf:"call_timeout_seconds"`
}

// MCPConfig describes the remote tool server the registry loads its catalog
// from and the client invokes tools against.
type MCPConfig struct {
	URL                string `koanf:"url"`
	Transport          string `koanf:"transport"` // http, stdio
	Command            string `koanf:"command"`   // stdio transport only
	ProtocolVersion    string `koanf:"protocol_version"`
	CallTimeoutSeconds int    `koanf:"call_timeout_seconds"`
	LoadRetries        int    `koanf:"load_retries"`
	LoadBackoffMs      int    `koanf:"load_backoff_ms"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// TraceConfig controls the best-effort dispatch trace emitter.
type TraceConfig struct {
	QueueSize  int    `koanf:"queue_size"`
	SQLitePath string `koanf:"sqlite_path"` // empty disables the sqlite sink
}

type PromptsConfig struct {
	Path string `koanf:"path"` // prompts.yaml; empty uses built-in defaults
}

// Global k instance
var k = koanf.New(".")

func Load(path string) (*Config, error) {
	// Defaults
	k.Set("server.addr", ":8000")
	k.Set("server.read_timeout_seconds", 15)
	k.Set("server.write_timeout_seconds", 120)
	k.Set("server.shutdown_grace_seconds", 10)

	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("llm.provider", "ollama")
	k.Set("llm.model", "qwen2.5:7b-instruct")
	k.Set("llm.base_url", "http://localhost:11434")
	k.Set("llm.temperature", 0.3)
	k.Set("llm.call_timeout_seconds", 120)

	k.Set("mcp.transport", "http")
	k.Set("mcp.url", "http://localhost:8080/mcp")
	k.Set("mcp.call_timeout_seconds", 30)
	k.Set("mcp.load_retries", 5)
	k.Set("mcp.load_backoff_ms", 500)

	k.Set("telemetry.exporter", "stdout")

	k.Set("trace.queue_size", 256)

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV. Only the first underscore separates the section
	// from the key, so LLMSERVER_LLM_BASE_URL maps to llm.base_url.
	if err := k.Load(env.Provider("LLMSERVER_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "LLMSERVER_"))
		section, rest, ok := strings.Cut(key, "_")
		if !ok {
			return key
		}
		return section + "." + rest
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadWithCLI loads the configuration with CLI argument overrides applied on
// top of file and environment sources. Supported flags:
//
//	--config <path>      config file path
//	--set key=value      dotted-key override, repeatable
func LoadWithCLI(args []string) (*Config, error) {
	path, overrides, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if len(overrides) == 0 {
		return cfg, nil
	}
	for key, value := range overrides {
		k.Set(key, value)
	}
	var merged Config
	if err := k.Unmarshal("", &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

func parseCLIOverrides(args []string) (string, map[string]string, error) {
	var path string
	overrides := make(map[string]string)

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("--config requires a value")
			}
			i++
			path = args[i]
		case "--set":
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("--set requires a value")
			}
			i++
			key, value, ok := strings.Cut(args[i], "=")
			if !ok || key == "" {
				return "", nil, fmt.Errorf("--set expects key=value, got %q", args[i])
			}
			overrides[key] = value
		}
	}
	return path, overrides, nil
}
