package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads the given dotenv files into the process environment,
// skipping any that do not exist. Variables already set are not overridden.
// It returns how many files were loaded.
func LoadEnvFiles(files ...string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return 0, &ConfigurationError{Field: "env-file", Reason: "cannot stat " + file, Err: err}
		}
		existing = append(existing, file)
	}
	if len(existing) == 0 {
		return 0, nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return 0, &ConfigurationError{Field: "env-file", Reason: "cannot parse", Err: err}
	}
	return len(existing), nil
}
