package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tally-lab/project-tally/internal/aggregate"
)

// Profile defines the validation shape expected of a candidate result for
// one granularity: the group-key columns it must carry and a sanity bound on
// its row count.
type Profile struct {
	Granularity string   `yaml:"granularity"`
	KeyColumns  []string `yaml:"key_columns"`
	MaxRows     int      `yaml:"max_rows"`
}

// ProfileSet resolves the validation profile per granularity.
type ProfileSet struct {
	byGranularity map[string]Profile
}

// DefaultProfiles returns the built-in validation profiles.
func DefaultProfiles() *ProfileSet {
	return &ProfileSet{byGranularity: map[string]Profile{
		aggregate.GranDaily:     {Granularity: aggregate.GranDaily, KeyColumns: []string{"date"}, MaxRows: 1100},
		aggregate.GranWeekly:    {Granularity: aggregate.GranWeekly, KeyColumns: []string{"week"}, MaxRows: 530},
		aggregate.GranMonthly:   {Granularity: aggregate.GranMonthly, KeyColumns: []string{"month"}, MaxRows: 240},
		aggregate.GranOverall:   {Granularity: aggregate.GranOverall, KeyColumns: nil, MaxRows: 1},
		aggregate.GranPerEntity: {Granularity: aggregate.GranPerEntity, KeyColumns: []string{"entity"}, MaxRows: 100000},
	}}
}

// LoadProfiles overlays *.yaml files from dir onto the defaults. Each file
// holds exactly one profile. A missing directory is valid (defaults only).
func LoadProfiles(dir string) (*ProfileSet, error) {
	ps := DefaultProfiles()
	if dir == "" {
		return ps, nil
	}

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return ps, nil
	}
	if err != nil {
		return nil, fmt.Errorf("validation profile dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("validation profile path %q is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading validation profile dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading profile file %s: %w", path, err)
		}

		var p Profile
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parsing profile file %s: %w", path, err)
		}
		if p.Granularity == "" {
			continue // skip empty / comment-only files
		}

		if _, ok := ps.byGranularity[p.Granularity]; !ok {
			return nil, fmt.Errorf("profile %s: unknown granularity %q", path, p.Granularity)
		}
		if p.MaxRows <= 0 {
			return nil, fmt.Errorf("profile %s: max_rows must be > 0", path)
		}

		base := ps.byGranularity[p.Granularity]
		if len(p.KeyColumns) == 0 {
			p.KeyColumns = base.KeyColumns
		}
		ps.byGranularity[p.Granularity] = p
	}

	return ps, nil
}

// For returns the profile for a normalized granularity.
func (ps *ProfileSet) For(granularity string) Profile {
	return ps.byGranularity[granularity]
}
