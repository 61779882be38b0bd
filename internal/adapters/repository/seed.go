package repository

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/tempo/internal/domain/model"
)

// Seed is the catalog and player list loaded into a MemoryStore at startup.
//
//	players:
//	  - id: p1
//	    display_name: ALICE
//	    public: true
//	charts:
//	  - id: c1
//	    music_id: m1
//	    title: Song
//	    difficulty: master
//	    level: 13.7
type Seed struct {
	Players []SeedPlayer `koanf:"players"`
	Charts  []SeedChart  `koanf:"charts"`
}

// SeedPlayer is one player entry of a Seed.
type SeedPlayer struct {
	ID          string `koanf:"id"`
	DisplayName string `koanf:"display_name"`
	Public      bool   `koanf:"public"`
	XP          uint32 `koanf:"xp"`
	Rating      uint32 `koanf:"rating"`
}

// SeedChart is one chart entry of a Seed. Level is written as 13.7.
type SeedChart struct {
	ID         string `koanf:"id"`
	MusicID    string `koanf:"music_id"`
	Title      string `koanf:"title"`
	Difficulty string `koanf:"difficulty"`
	Level      string `koanf:"level"`
	Test       bool   `koanf:"test"`
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) (Seed, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Seed{}, fmt.Errorf("load seed %s: %w", path, err)
	}
	var seed Seed
	if err := k.UnmarshalWithConf("", &seed, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Seed{}, fmt.Errorf("decode seed %s: %w", path, err)
	}
	return seed, nil
}

// ApplySeed stores every player and chart of seed. Nothing is stored when a
// chart level is invalid.
func (s *MemoryStore) ApplySeed(seed Seed) error {
	charts := make([]model.Chart, 0, len(seed.Charts))
	for _, c := range seed.Charts {
		level, err := model.ParseLevel(c.Level)
		if err != nil {
			return fmt.Errorf("chart %s: %w", c.ID, err)
		}
		charts = append(charts, model.Chart{
			ID:         c.ID,
			MusicID:    c.MusicID,
			Title:      c.Title,
			Difficulty: c.Difficulty,
			Level:      level,
			IsTest:     c.Test,
		})
	}
	for _, c := range charts {
		s.PutChart(c)
	}
	for _, p := range seed.Players {
		s.PutPlayer(model.Player{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			IsPublic:    p.Public,
			XP:          p.XP,
			Rating:      p.Rating,
		})
	}
	return nil
}
