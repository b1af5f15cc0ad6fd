package banana

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is an on-disk connection configuration: the shared vocabulary
// word list and the long-token size limit.
type Config struct {
	Vocab  VocabConfig  `toml:"vocab"`
	Limits LimitsConfig `toml:"limits"`
}

// VocabConfig lists the pre-agreed vocabulary words, in table order.
type VocabConfig struct {
	Words []string `toml:"words"`
}

// LimitsConfig bounds long-token bodies accepted by a decoder. Zero keeps
// the default.
type LimitsConfig struct {
	MaxTokenSize uint64 `toml:"max-token-size"`
}

// LoadConfig parses a banana TOML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("banana: cannot read %s: %w", path, err)
	}
	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("banana: parse error in %s: %w", path, err)
	}
	return &c, nil
}

// Vocabulary builds the table described by the config, or nil if the
// config names no words.
func (c *Config) Vocabulary() *Vocabulary {
	if len(c.Vocab.Words) == 0 {
		return nil
	}
	return NewVocabulary(c.Vocab.Words)
}
