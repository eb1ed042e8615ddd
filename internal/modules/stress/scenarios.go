package stress

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/aristath/riskboard/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed scenarios.yaml
var defaultScenarios []byte

// Scenario is a named set of factor shocks. A shock is the fractional return of the
// factor's proxy, e.g. -0.10 for a 10% decline.
type Scenario struct {
	ID          string                      `json:"id"`
	Name        string                      `json:"name"`
	Category    string                      `json:"category,omitempty"`
	Description string                      `json:"description,omitempty"`
	Shocks      map[domain.FactorID]float64 `json:"shocks"`
}

// Validate checks the shocks are usable
func (s Scenario) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: scenario id is required", domain.ErrInvalidInput)
	}
	if len(s.Shocks) == 0 {
		return fmt.Errorf("%w: scenario %s has no shocks", domain.ErrInvalidInput, s.ID)
	}
	for f, shock := range s.Shocks {
		if math.IsNaN(shock) || math.IsInf(shock, 0) {
			return fmt.Errorf("%w: scenario %s has a non-finite %s shock", domain.ErrInvalidInput, s.ID, f)
		}
		if shock < -1 {
			return fmt.Errorf("%w: scenario %s shocks %s below -100%%", domain.ErrInvalidInput, s.ID, f)
		}
	}
	return nil
}

// ShockedFactors returns the shocked factors in stable order
func (s Scenario) ShockedFactors() []domain.FactorID {
	out := make([]domain.FactorID, 0, len(s.Shocks))
	for f := range s.Shocks {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type scenarioFile struct {
	Scenarios []scenarioSpec `yaml:"scenarios"`
}

type scenarioSpec struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Category    string             `yaml:"category"`
	Description string             `yaml:"description"`
	Shocks      map[string]float64 `yaml:"shocks"`
}

// Library is an immutable set of scenarios
type Library struct {
	scenarios []Scenario
	byID      map[string]int
}

// LoadLibrary reads scenarios from path, or the built-in library when path is empty
func LoadLibrary(path string) (*Library, error) {
	data := defaultScenarios
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read scenario file: %w", err)
		}
	}
	return ParseLibrary(data)
}

// ParseLibrary decodes a YAML scenario document. Factor keys are resolved here, so an
// unknown key fails the load rather than a later lookup.
func ParseLibrary(data []byte) (*Library, error) {
	var file scenarioFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse scenarios: %w", err)
	}

	lib := &Library{byID: make(map[string]int, len(file.Scenarios))}
	for _, spec := range file.Scenarios {
		sc, err := spec.resolve()
		if err != nil {
			return nil, err
		}
		if _, dup := lib.byID[sc.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate scenario id %q", domain.ErrInvalidInput, sc.ID)
		}
		lib.byID[sc.ID] = len(lib.scenarios)
		lib.scenarios = append(lib.scenarios, sc)
	}
	return lib, nil
}

func (s scenarioSpec) resolve() (Scenario, error) {
	sc := Scenario{
		ID:          s.ID,
		Name:        s.Name,
		Category:    s.Category,
		Description: s.Description,
		Shocks:      make(map[domain.FactorID]float64, len(s.Shocks)),
	}
	if sc.Name == "" {
		sc.Name = sc.ID
	}
	for key, shock := range s.Shocks {
		id, err := domain.ParseFactorID(key)
		if err != nil {
			return Scenario{}, fmt.Errorf("scenario %s: %w", s.ID, err)
		}
		sc.Shocks[id] = shock
	}
	if err := sc.Validate(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

// Get returns a scenario by id
func (l *Library) Get(id string) (Scenario, bool) {
	i, ok := l.byID[id]
	if !ok {
		return Scenario{}, false
	}
	return l.scenarios[i], true
}

// List returns all scenarios in file order
func (l *Library) List() []Scenario {
	out := make([]Scenario, len(l.scenarios))
	copy(out, l.scenarios)
	return out
}
