package config

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
)

// loadDotEnv loads KEY=VALUE pairs from dotenv files into the process environment.
// Missing files are skipped and variables already present are not overwritten.
func loadDotEnv(paths ...string) error {
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return eris.Wrapf(err, "config: stat %s", p)
		}
		existing = append(existing, p)
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return eris.Wrap(err, "config: load dotenv")
	}
	return nil
}
