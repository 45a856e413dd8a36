package yamlconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"bytemomo/armada/internal/domain"

	"gopkg.in/yaml.v3"
)

// LoadSuite reads a suite file. Relative file paths in the suite are taken
// relative to the suite file. Fields that command-line flags may still
// override (output, devices) are checked later by Suite.Validate.
func LoadSuite(path string) (*domain.Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var suite domain.Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse suite: %w", err)
	}

	for i, svc := range suite.Discovery.Services {
		if svc == nil {
			return nil, fmt.Errorf("discovery service %d is nil", i)
		}
		if err := svc.Validate(); err != nil {
			return nil, fmt.Errorf("invalid discovery service %d: %w", i, err)
		}
	}
	if err := suite.Executor.Validate(); err != nil {
		return nil, fmt.Errorf("invalid executor: %w", err)
	}

	base := filepath.Dir(path)
	suite.Run.Output = resolve(base, suite.Run.Output)
	suite.Run.ApkPath = resolve(base, suite.Run.ApkPath)
	suite.Run.TestApkPath = resolve(base, suite.Run.TestApkPath)
	if suite.Sinks.SQLite != nil {
		suite.Sinks.SQLite.Path = resolve(base, suite.Sinks.SQLite.Path)
	}
	return &suite, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
