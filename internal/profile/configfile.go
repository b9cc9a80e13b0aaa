package profile

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigFilePath is "~/.oci/config", matching the CLI's convention.
func DefaultConfigFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".oci", "config")
}

// DefaultProfileName is the section read when profileName is empty.
const DefaultProfileName = "DEFAULT"

// configFileSection holds the recognised keys of one [section] of an OCI
// config file. Unknown keys are ignored.
type configFileSection struct {
	Tenancy           string
	User              string
	Fingerprint       string
	KeyFile           string
	PassPhrase        string
	Region            string
	SecurityTokenFile string
}

// readConfigFile parses an INI-like file (case-sensitive "[section]"
// headers, "key = value" or "key=value" lines, "#"/";" comments) and returns
// the requested section. No ecosystem INI library in the retrieved corpus
// handles this particular dialect (OCI's own CLI hand-rolls its own too), so
// this is a minimal hand-written scanner — see DESIGN.md.
func readConfigFile(path, profileName string) (configFileSection, error) {
	if profileName == "" {
		profileName = DefaultProfileName
	}

	f, err := os.Open(path)
	if err != nil {
		return configFileSection{}, fmt.Errorf("profile: open config file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	sections := map[string]map[string]string{}
	current := ""

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			current = strings.TrimSpace(line[1 : len(line)-1])
			if _, ok := sections[current]; !ok {
				sections[current] = map[string]string{}
			}
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if current == "" {
			current = DefaultProfileName
			if _, ok := sections[current]; !ok {
				sections[current] = map[string]string{}
			}
		}
		sections[current][key] = value
	}
	if err := scanner.Err(); err != nil {
		return configFileSection{}, fmt.Errorf("profile: scan config file %s: %w", path, err)
	}

	raw, ok := sections[profileName]
	if !ok {
		return configFileSection{}, fmt.Errorf("profile: section %q not found in %s", profileName, path)
	}

	return configFileSection{
		Tenancy:           raw["tenancy"],
		User:              raw["user"],
		Fingerprint:       raw["fingerprint"],
		KeyFile:           raw["key_file"],
		PassPhrase:        raw["pass_phrase"],
		Region:            raw["region"],
		SecurityTokenFile: raw["security_token_file"],
	}, nil
}

// ConfigFileProvider delegates to UserProvider with credentials assembled
// from an OCI config file section, and surfaces the file's region.
type ConfigFileProvider struct {
	*UserProvider
	region string
}

// NewConfigFileProvider parses path/profileName and builds the underlying
// user-credentials provider.
func NewConfigFileProvider(path, profileName string) (*ConfigFileProvider, error) {
	if path == "" {
		path = DefaultConfigFilePath()
	}

	section, err := readConfigFile(path, profileName)
	if err != nil {
		return nil, err
	}
	if section.SecurityTokenFile != "" {
		return nil, fmt.Errorf("profile: config section has security_token_file set; use NewSessionTokenProvider instead")
	}

	user, err := NewUserProvider(UserCredentials{
		TenancyID:   section.Tenancy,
		UserID:      section.User,
		Fingerprint: section.Fingerprint,
		PEMPath:     section.KeyFile,
		Passphrase:  []byte(section.PassPhrase),
	})
	if err != nil {
		return nil, fmt.Errorf("profile: config file %s: %w", path, err)
	}

	return &ConfigFileProvider{UserProvider: user, region: section.Region}, nil
}

// RegionID returns the config file's "region" key, for client endpoint
// auto-discovery.
func (p *ConfigFileProvider) RegionID() string { return p.region }

var _ Provider = (*ConfigFileProvider)(nil)
