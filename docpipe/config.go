package docpipe

import "log/slog"

// Config configures the document pipeline.
type Config struct {
	// MaxFileSize is the maximum package size to process (default: 100 MB).
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size"`

	// MaxPartSize caps the decompressed size of a single part (default: 64 MB).
	MaxPartSize int64 `json:"max_part_size" yaml:"max_part_size"`

	// MaxDepth is the maximum XML nesting depth accepted in the body (default: 256).
	MaxDepth int `json:"max_depth" yaml:"max_depth"`

	// Logger for debug/error messages.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 100 * 1024 * 1024
	}
	if c.MaxPartSize <= 0 {
		c.MaxPartSize = 64 * 1024 * 1024
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 256
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
