package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// SeedRepo is one repository from the seed file.
type SeedRepo struct {
	FullName  string
	ChannelID int64
}

type seedEntry struct {
	Name      string `yaml:"name"`
	ChannelID int64  `yaml:"channel_id"`
}

// LoadSeeds reads the seed file, a mapping of owner to repositories:
//
//	octo:
//	  - name: hello
//	    channel_id: -1001234567890
//
// A missing file yields no seeds. Entries without a name or channel are
// skipped. The result is sorted by full name.
func LoadSeeds(path string) ([]SeedRepo, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseSeeds(b)
}

func ParseSeeds(data []byte) ([]SeedRepo, error) {
	var raw map[string][]seedEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("seed file: %w", err)
	}
	var out []SeedRepo
	for owner, entries := range raw {
		owner = strings.TrimSpace(owner)
		if owner == "" {
			continue
		}
		for _, e := range entries {
			name := strings.TrimSpace(e.Name)
			if name == "" || e.ChannelID == 0 {
				continue
			}
			out = append(out, SeedRepo{FullName: owner + "/" + name, ChannelID: e.ChannelID})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}
