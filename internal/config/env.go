package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
)

// DefaultEnvFiles are loaded before flag parsing, most specific first.
var DefaultEnvFiles = []string{".env.local", ".env"}

// LoadEnvFiles loads dotenv files into the process environment and returns the
// ones that were found. Missing files are skipped. Variables already present
// in the environment win over file values.
func LoadEnvFiles(paths []string) ([]string, error) {
	var loaded []string
	for _, p := range paths {
		err := godotenv.Load(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return loaded, fmt.Errorf("config: load env file %s: %w", p, err)
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}
