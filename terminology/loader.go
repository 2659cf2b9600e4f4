package terminology

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gofhir/fhir/r4"
)

// LoadStats counts what a load call added.
type LoadStats struct {
	CodeSystems int
	ValueSets   int
	Errors      int
}

func (s *LoadStats) add(o LoadStats) {
	s.CodeSystems += o.CodeSystems
	s.ValueSets += o.ValueSets
	s.Errors += o.Errors
}

type probe struct {
	ResourceType string `json:"resourceType"`
}

type bundle struct {
	Entry []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

// LoadJSON loads a CodeSystem, a ValueSet or a Bundle of them. Bundle
// entries of other types are ignored; entries that fail to parse are
// counted in Errors.
func (s *Store) LoadJSON(data []byte) (LoadStats, error) {
	var p probe
	if err := json.Unmarshal(data, &p); err != nil {
		return LoadStats{}, errors.Wrap(err, "invalid terminology json")
	}

	switch p.ResourceType {
	case "Bundle":
		return s.loadBundle(data)
	case "CodeSystem", "ValueSet":
		var stats LoadStats
		if err := s.loadResource(p.ResourceType, data, &stats); err != nil {
			return stats, err
		}
		return stats, nil
	default:
		return LoadStats{}, errors.Newf("unsupported resourceType %q", p.ResourceType)
	}
}

// LoadFile reads and loads one JSON file.
func (s *Store) LoadFile(path string) (LoadStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadStats{}, errors.Wrapf(err, "read terminology file %s", path)
	}
	stats, err := s.LoadJSON(data)
	if err != nil {
		return stats, errors.Wrapf(err, "load %s", path)
	}
	return stats, nil
}

// LoadDir loads every *.json file in dir. Code systems are loaded before
// value sets. Files that fail are counted in Errors and skipped.
func (s *Store) LoadDir(dir string) (LoadStats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return LoadStats{}, errors.Wrapf(err, "read terminology dir %s", dir)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || name == "package.json" || name == ".index.json" {
			continue
		}
		names = append(names, name)
	}
	sort.SliceStable(names, func(i, j int) bool {
		return loadRank(names[i]) < loadRank(names[j])
	})

	var stats LoadStats
	for _, name := range names {
		got, err := s.LoadFile(filepath.Join(dir, name))
		stats.add(got)
		if err != nil {
			stats.Errors++
		}
	}
	return stats, nil
}

// loadRank orders package files so that code systems come first.
func loadRank(name string) int {
	switch {
	case strings.HasPrefix(name, "CodeSystem-"):
		return 0
	case strings.HasPrefix(name, "ValueSet-"):
		return 2
	default:
		return 1
	}
}

func (s *Store) loadBundle(data []byte) (LoadStats, error) {
	var b bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return LoadStats{}, errors.Wrap(err, "invalid bundle")
	}

	var stats LoadStats
	var valueSets []json.RawMessage
	for _, e := range b.Entry {
		if e.Resource == nil {
			continue
		}
		var p probe
		if err := json.Unmarshal(e.Resource, &p); err != nil {
			stats.Errors++
			continue
		}
		switch p.ResourceType {
		case "CodeSystem":
			if err := s.loadResource(p.ResourceType, e.Resource, &stats); err != nil {
				stats.Errors++
			}
		case "ValueSet":
			valueSets = append(valueSets, e.Resource)
		}
	}
	for _, raw := range valueSets {
		if err := s.loadResource("ValueSet", raw, &stats); err != nil {
			stats.Errors++
		}
	}
	return stats, nil
}

func (s *Store) loadResource(resourceType string, data []byte, stats *LoadStats) error {
	switch resourceType {
	case "CodeSystem":
		var cs r4.CodeSystem
		if err := json.Unmarshal(data, &cs); err != nil {
			return errors.Wrap(err, "parse CodeSystem")
		}
		if err := s.LoadCodeSystem(&cs); err != nil {
			return err
		}
		stats.CodeSystems++
	case "ValueSet":
		var vs r4.ValueSet
		if err := json.Unmarshal(data, &vs); err != nil {
			return errors.Wrap(err, "parse ValueSet")
		}
		if err := s.LoadValueSet(&vs); err != nil {
			return err
		}
		stats.ValueSets++
	}
	return nil
}
