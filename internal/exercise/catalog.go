// Package exercise holds the static exercise catalogs and the calorie
// arithmetic used to size per-repetition increments.
package exercise

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownExercise is returned by Lookup when no catalog has the name.
var ErrUnknownExercise = errors.New("unknown exercise")

// ID enumerates every exercise the app knows about.
type ID int

const (
	Flamingo ID = iota + 1
	JumpingJacks
	Bhujangasana
	Lotus
	Planks
	ChairPose
	WeightLifting
	Squat
	RussianTwist
)

// Catalog is one of the three fixed exercise groupings.
type Catalog string

const (
	CatalogWarmUp      Catalog = "warmup"
	CatalogFlexibility Catalog = "flexibility"
	CatalogStrength    Catalog = "strength"
)

// Method selects which classifier family counts repetitions.
type Method string

const (
	// MethodGeometric counts static or two-phase postures from joint angles.
	MethodGeometric Method = "geometric"
	// MethodLearned counts periodic motion from a cumulative-count model.
	MethodLearned Method = "learned"
)

// Descriptor is an immutable catalog entry.
type Descriptor struct {
	ID       ID      `json:"id" yaml:"-"`
	Name     string  `json:"name" yaml:"name"`
	Catalog  Catalog `json:"catalog" yaml:"catalog"`
	Method   Method  `json:"method" yaml:"method"`
	MET      float64 `json:"met" yaml:"met"`
	Minutes  float64 `json:"minutes" yaml:"minutes"`   // nominal session length
	Calories float64 `json:"calories" yaml:"calories"` // nominal calories for Minutes
}

// String returns the display name.
func (id ID) String() string {
	if d, ok := builtin[id]; ok {
		return d.Name
	}
	return fmt.Sprintf("ID(%d)", int(id))
}

// Bhujangasana and Lotus have no repetition rule; they are listed so the
// catalogs are complete and selecting them is a valid no-op session.
var builtin = map[ID]Descriptor{
	Flamingo:      {ID: Flamingo, Name: "Flamingo", Catalog: CatalogWarmUp, Method: MethodGeometric, MET: 3.0, Minutes: 3, Calories: 10},
	JumpingJacks:  {ID: JumpingJacks, Name: "Jumping Jacks", Catalog: CatalogWarmUp, Method: MethodLearned, MET: 8.0, Minutes: 5, Calories: 30},
	Bhujangasana:  {ID: Bhujangasana, Name: "Bhujangasana", Catalog: CatalogFlexibility, Method: MethodGeometric, MET: 2.5, Minutes: 10, Calories: 30},
	Lotus:         {ID: Lotus, Name: "Lotus", Catalog: CatalogFlexibility, Method: MethodGeometric, MET: 2.0, Minutes: 10, Calories: 35},
	Planks:        {ID: Planks, Name: "Planks", Catalog: CatalogFlexibility, Method: MethodGeometric, MET: 4.0, Minutes: 1, Calories: 4},
	ChairPose:     {ID: ChairPose, Name: "Chair Pose", Catalog: CatalogFlexibility, Method: MethodGeometric, MET: 2.5, Minutes: 3, Calories: 15},
	WeightLifting: {ID: WeightLifting, Name: "Weight Lifting", Catalog: CatalogStrength, Method: MethodLearned, MET: 3.5, Minutes: 3, Calories: 10},
	Squat:         {ID: Squat, Name: "Squat", Catalog: CatalogStrength, Method: MethodGeometric, MET: 3.5, Minutes: 5, Calories: 30},
	RussianTwist:  {ID: RussianTwist, Name: "Russian Twist", Catalog: CatalogStrength, Method: MethodLearned, MET: 4.0, Minutes: 3, Calories: 20},
}

// Table is a name-indexed view over a set of descriptors.
type Table struct {
	byName map[string]Descriptor
}

// Builtin returns the compiled-in table.
func Builtin() *Table {
	t := &Table{byName: make(map[string]Descriptor, len(builtin))}
	for _, d := range builtin {
		t.byName[key(d.Name)] = d
	}
	return t
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Lookup finds a descriptor by display name. Matching ignores case and
// surrounding whitespace.
func (t *Table) Lookup(name string) (Descriptor, error) {
	d, ok := t.byName[key(name)]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownExercise, name)
	}
	return d, nil
}

// Catalog returns every descriptor in the given catalog, sorted by name.
func (t *Table) Catalog(c Catalog) []Descriptor {
	var out []Descriptor
	for _, d := range t.byName {
		if d.Catalog == c {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// All returns every descriptor sorted by catalog then name.
func (t *Table) All() []Descriptor {
	out := make([]Descriptor, 0, len(t.byName))
	for _, d := range t.byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Catalog != out[j].Catalog {
			return out[i].Catalog < out[j].Catalog
		}
		return out[i].Name < out[j].Name
	})
	return out
}
