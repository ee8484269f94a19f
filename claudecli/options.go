package claudecli

// Config holds adapter-level settings shared by all sessions it spawns.
type Config struct {
	// BinaryPath is the CLI binary. Defaults to "claude".
	BinaryPath string

	// Model overrides the backend's default model when set.
	Model string

	// ExtraArgs are appended verbatim to every invocation (escape hatch).
	ExtraArgs []string

	// Env are extra KEY=VALUE pairs added to the process environment.
	Env []string

	// StderrHandler receives stderr lines from spawned processes. Nil means
	// stderr is captured only for error reporting.
	StderrHandler func(line string)

	// EventBufferSize is the capacity of the adapter's event channel.
	EventBufferSize int
}

// Option configures the adapter.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		BinaryPath:      "claude",
		EventBufferSize: 100,
	}
}

// WithBinaryPath sets the CLI binary path.
func WithBinaryPath(path string) Option {
	return func(c *Config) { c.BinaryPath = path }
}

// WithModel sets the default model for spawned sessions.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithExtraArgs appends extra CLI arguments to every invocation.
func WithExtraArgs(args ...string) Option {
	return func(c *Config) { c.ExtraArgs = append(c.ExtraArgs, args...) }
}

// WithEnv adds KEY=VALUE pairs to the process environment.
func WithEnv(env ...string) Option {
	return func(c *Config) { c.Env = append(c.Env, env...) }
}

// WithStderrHandler sets a callback for stderr lines.
func WithStderrHandler(fn func(line string)) Option {
	return func(c *Config) { c.StderrHandler = fn }
}

// WithEventBufferSize sets the event channel capacity.
func WithEventBufferSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.EventBufferSize = n
		}
	}
}
