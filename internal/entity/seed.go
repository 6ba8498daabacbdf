package entity

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/assay-cli/internal/model"
)

// Seed is the on-disk format of an entity seed file.
type Seed struct {
	Entities []model.Entity `yaml:"entities"`
}

// ParseSeed decodes a YAML seed document.
func ParseSeed(data []byte) ([]model.Entity, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, eris.Wrap(err, "entity: parse seed")
	}
	return seed.Entities, nil
}

// LoadSeed reads and decodes a YAML seed file.
func LoadSeed(path string) ([]model.Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "entity: read seed %s", path)
	}
	return ParseSeed(data)
}

// MarshalSeed encodes entities as a YAML seed document.
func MarshalSeed(entities []model.Entity) ([]byte, error) {
	data, err := yaml.Marshal(Seed{Entities: entities})
	if err != nil {
		return nil, eris.Wrap(err, "entity: marshal seed")
	}
	return data, nil
}
