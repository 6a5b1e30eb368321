package exercise

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// overrideFile is the YAML layout accepted by LoadOverrides:
//
//	exercises:
//	  - name: Squat
//	    met: 5.0
//	  - name: Burpees
//	    catalog: strength
//	    method: learned
//	    met: 8.0
//	    minutes: 5
type overrideFile struct {
	Exercises []Descriptor `yaml:"exercises"`
}

// LoadOverrides reads a YAML file and returns the built-in table with its
// entries applied on top. Entries matching an existing name replace the
// non-zero numeric fields of that exercise; unknown names are added as new
// exercises and must name a catalog and method.
func LoadOverrides(path string) (*Table, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read exercise overrides: %w", err)
	}

	var f overrideFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse exercise overrides: %w", err)
	}

	t := Builtin()
	next := ID(len(builtin) + 1)
	for i, o := range f.Exercises {
		if o.Name == "" {
			return nil, fmt.Errorf("exercise override %d: missing name", i)
		}
		if o.MET < 0 || o.Minutes < 0 || o.Calories < 0 {
			return nil, fmt.Errorf("exercise override %q: negative values are not allowed", o.Name)
		}

		if cur, ok := t.byName[key(o.Name)]; ok {
			if o.MET > 0 {
				cur.MET = o.MET
			}
			if o.Minutes > 0 {
				cur.Minutes = o.Minutes
			}
			if o.Calories > 0 {
				cur.Calories = o.Calories
			}
			t.byName[key(o.Name)] = cur
			continue
		}

		switch o.Catalog {
		case CatalogWarmUp, CatalogFlexibility, CatalogStrength:
		default:
			return nil, fmt.Errorf("exercise override %q: unknown catalog %q", o.Name, o.Catalog)
		}
		switch o.Method {
		case MethodGeometric, MethodLearned:
		default:
			return nil, fmt.Errorf("exercise override %q: unknown method %q", o.Name, o.Method)
		}
		o.ID = next
		next++
		t.byName[key(o.Name)] = o
	}
	return t, nil
}
