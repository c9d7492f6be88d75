package mcp

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/universal-tool-calling-protocol/go-mcp/src/routing"
)

// Transport type names accepted in ServerConfig.Type.
const (
	TransportHTTP      = "http"
	TransportGRPC      = "grpc"
	TransportSDK       = "sdk"
	TransportWebSocket = "websocket"
)

// VariableNotFound is returned when a ${VAR} reference cannot be resolved.
type VariableNotFound struct {
	VariableName string
}

func (e *VariableNotFound) Error() string {
	return fmt.Sprintf(
		"variable %q referenced in MCP configuration not found; "+
			"add it to the environment, an env file or the variables section",
		e.VariableName,
	)
}

// VariablesLoader is a source of configuration variables.
type VariablesLoader interface {
	Load() (map[string]string, error)
	Get(key string) (string, error)
}

// DotEnv loads variables from a .env file.
type DotEnv struct {
	EnvFilePath string
}

func NewDotEnv(path string) *DotEnv {
	return &DotEnv{EnvFilePath: path}
}

func (d *DotEnv) Load() (map[string]string, error) {
	return godotenv.Read(d.EnvFilePath)
}

func (d *DotEnv) Get(key string) (string, error) {
	vars, err := d.Load()
	if err != nil {
		return "", err
	}
	if val, ok := vars[key]; ok {
		return val, nil
	}
	return "", &VariableNotFound{VariableName: key}
}

type InterceptorConfig struct {
	Name string         `yaml:"name"`
	Args map[string]any `yaml:"args,omitempty"`
}

// ServerConfig selects and parameterises the transport for one server.
type ServerConfig struct {
	Name          string              `yaml:"name"`
	Type          string              `yaml:"type,omitempty"`
	BaseURL       string              `yaml:"baseUrl,omitempty"`
	Host          string              `yaml:"host,omitempty"`
	Port          int                 `yaml:"port,omitempty"`
	Plaintext     *bool               `yaml:"plaintext,omitempty"`
	SDK           string              `yaml:"sdk,omitempty"`
	SDKArgs       map[string]any      `yaml:"sdkArgs,omitempty"`
	Interceptors  []InterceptorConfig `yaml:"interceptors,omitempty"`
	StreamTimeout time.Duration       `yaml:"streamTimeout,omitempty"`
}

// IsPlaintext defaults to true.
func (s ServerConfig) IsPlaintext() bool {
	return s.Plaintext == nil || *s.Plaintext
}

// ClientConfig is the declarative description of servers and routes.
type ClientConfig struct {
	ClientID      string                `yaml:"clientId,omitempty"`
	DefaultServer string                `yaml:"defaultServer,omitempty"`
	Servers       []ServerConfig        `yaml:"servers"`
	Routes        []routing.RouteConfig `yaml:"routes,omitempty"`

	// Variables take precedence over every loader.
	Variables map[string]string `yaml:"variables,omitempty"`
	// EnvFiles are read with godotenv, relative to the config file.
	EnvFiles []string `yaml:"envFiles,omitempty"`

	LoadVariablesFrom []VariablesLoader `yaml:"-"`
}

func (c *ClientConfig) applyDefaults() {
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	for i := range c.Servers {
		if c.Servers[i].Type == "" {
			c.Servers[i].Type = TransportHTTP
		}
	}
	for i := range c.Routes {
		c.Routes[i] = c.Routes[i].WithDefaults()
	}
}

// Validate checks names are present and unique.
func (c *ClientConfig) Validate() error {
	seen := make(map[string]bool, len(c.Servers))
	for _, s := range c.Servers {
		if s.Name == "" {
			return errors.New("server without a name")
		}
		if seen[s.Name] {
			return fmt.Errorf("server %s configured twice", s.Name)
		}
		seen[s.Name] = true
	}
	if c.DefaultServer != "" && !seen[c.DefaultServer] {
		return fmt.Errorf("default server %s is not configured", c.DefaultServer)
	}
	routes := make(map[string]bool, len(c.Routes))
	for _, r := range c.Routes {
		if r.Name == "" {
			return fmt.Errorf("route without a name (tool %q)", r.Tool)
		}
		if routes[r.Name] {
			return fmt.Errorf("route %s configured twice", r.Name)
		}
		routes[r.Name] = true
	}
	return nil
}

// Server looks up a server by name.
func (c *ClientConfig) Server(name string) (ServerConfig, bool) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return ServerConfig{}, false
}

// ResolveDefaultServer returns the configured default, else the first server.
func (c *ClientConfig) ResolveDefaultServer() (string, error) {
	if c.DefaultServer != "" {
		return c.DefaultServer, nil
	}
	if len(c.Servers) > 0 {
		return c.Servers[0].Name, nil
	}
	return "", errors.New("no MCP servers configured")
}

// LoadConfig reads a YAML (or JSON) client configuration and substitutes
// ${VAR} and $VAR references in every scalar.
func LoadConfig(path string, loaders ...VariablesLoader) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data, filepath.Dir(path), loaders...)
}

// ParseConfig is LoadConfig on bytes. Env files resolve against baseDir.
func ParseConfig(data []byte, baseDir string, loaders ...VariablesLoader) (*ClientConfig, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if root.Kind == 0 {
		return nil, errors.New("empty config")
	}

	var head struct {
		Variables map[string]string `yaml:"variables"`
		EnvFiles  []string          `yaml:"envFiles"`
	}
	if err := root.Decode(&head); err != nil {
		return nil, fmt.Errorf("decode config variables: %w", err)
	}
	vars := &variableResolver{explicit: head.Variables, loaders: loaders}
	for _, f := range head.EnvFiles {
		if !filepath.IsAbs(f) && baseDir != "" {
			f = filepath.Join(baseDir, f)
		}
		vars.loaders = append(vars.loaders, NewDotEnv(f))
	}

	if err := substituteNode(&root, vars); err != nil {
		return nil, err
	}

	var cfg ClientConfig
	if err := root.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.LoadVariablesFrom = vars.loaders
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var varPattern = regexp.MustCompile(`\$\{(\w+)\}|\$(\w+)`)

type variableResolver struct {
	explicit map[string]string
	loaders  []VariablesLoader
}

// get looks in explicit variables, then loaders in order, then the process
// environment.
func (r *variableResolver) get(key string) (string, error) {
	if v, ok := r.explicit[key]; ok {
		return v, nil
	}
	for _, l := range r.loaders {
		if v, err := l.Get(key); err == nil {
			return v, nil
		}
	}
	if v, ok := os.LookupEnv(key); ok {
		return v, nil
	}
	return "", &VariableNotFound{VariableName: key}
}

func (r *variableResolver) replace(s string) (string, error) {
	var firstErr error
	out := varPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := varPattern.FindStringSubmatch(m)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		v, err := r.get(name)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return m
		}
		return v
	})
	return out, firstErr
}

func substituteNode(n *yaml.Node, vars *variableResolver) error {
	if n.Kind == yaml.ScalarNode {
		if n.ShortTag() != "!!str" {
			return nil
		}
		v, err := vars.replace(n.Value)
		if err != nil {
			return err
		}
		if v != n.Value {
			n.Value = v
			if n.Style == 0 {
				// let plain scalars re-resolve, so port: ${PORT} decodes as int
				n.Tag = ""
			}
		}
		return nil
	}
	for _, c := range n.Content {
		if err := substituteNode(c, vars); err != nil {
			return err
		}
	}
	return nil
}
