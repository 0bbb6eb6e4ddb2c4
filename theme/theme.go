// Package theme holds the color presets and persists the selected one.
package theme

import (
	"encoding/json"
	"fmt"

	"echomemo/kv"
)

const Key = "echomemo_theme"

type Theme struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	BG              string `json:"bg"`
	Surface         string `json:"surface"`
	Primary         string `json:"primary"`
	Secondary       string `json:"secondary"`
	Accent          string `json:"accent"`
	Border          string `json:"border"`
	TextPrimary     string `json:"textPrimary"`
	TextSecondary   string `json:"textSecondary"`
	VisualizerColor string `json:"visualizerColor"`
}

var Presets = []Theme{
	{
		ID: "blackWhite", Name: "Onyx & Paper",
		BG: "#171717", Surface: "#262626", Primary: "#FFFFFF", Secondary: "#A3A3A3",
		Accent: "#FFFFFF", Border: "#404040", TextPrimary: "#FFFFFF", TextSecondary: "#A3A3A3",
		VisualizerColor: "#FFFFFF",
	},
	{
		ID: "pinkWhite", Name: "Rose Matte",
		BG: "#FDF2F8", Surface: "#FFFFFF", Primary: "#831843", Secondary: "#BE185D",
		Accent: "#F472B6", Border: "#FCE7F3", TextPrimary: "#831843", TextSecondary: "#BE185D",
		VisualizerColor: "#F472B6",
	},
	{
		ID: "blueWhite", Name: "Sky Matte",
		BG: "#EFF6FF", Surface: "#FFFFFF", Primary: "#1E3A8A", Secondary: "#1D4ED8",
		Accent: "#60A5FA", Border: "#DBEAFE", TextPrimary: "#1E3A8A", TextSecondary: "#1D4ED8",
		VisualizerColor: "#60A5FA",
	},
	{
		ID: "greenWhite", Name: "Forest Matte",
		BG: "#F0FDF4", Surface: "#FFFFFF", Primary: "#14532D", Secondary: "#15803D",
		Accent: "#4ADE80", Border: "#DCFCE7", TextPrimary: "#14532D", TextSecondary: "#15803D",
		VisualizerColor: "#4ADE80",
	},
	{
		ID: "brownWhite", Name: "Coffee Matte",
		BG: "#F2EBE3", Surface: "#FFFFFF", Primary: "#5D4E3F", Secondary: "#8C7B6A",
		Accent: "#A67C52", Border: "#D9CFC4", TextPrimary: "#5D4E3F", TextSecondary: "#8C7B6A",
		VisualizerColor: "#A67C52",
	},
}

// Default is Coffee Matte.
func Default() Theme {
	return Presets[len(Presets)-1]
}

// ByID looks up a preset.
func ByID(id string) (Theme, bool) {
	for _, t := range Presets {
		if t.ID == id {
			return t, true
		}
	}
	return Theme{}, false
}

// Next returns the preset following t, wrapping around.
func Next(t Theme) Theme {
	for i, p := range Presets {
		if p.ID == t.ID {
			return Presets[(i+1)%len(Presets)]
		}
	}
	return Presets[0]
}

type Store struct {
	kv kv.Store
}

func NewStore(s kv.Store) *Store {
	return &Store{kv: s}
}

// Load returns the persisted theme, or Default when it is absent, unreadable
// or corrupt. The error is informational; the returned theme is always usable.
func (s *Store) Load() (Theme, error) {
	data, ok, err := s.kv.Get(Key)
	if err != nil {
		return Default(), fmt.Errorf("load theme: %w", err)
	}
	if !ok {
		return Default(), nil
	}
	var t Theme
	if err := json.Unmarshal(data, &t); err != nil {
		return Default(), fmt.Errorf("load theme: %w", err)
	}
	if t.ID == "" || t.BG == "" || t.TextPrimary == "" {
		return Default(), fmt.Errorf("load theme: incomplete descriptor %q", t.ID)
	}
	return t, nil
}

func (s *Store) Save(t Theme) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode theme: %w", err)
	}
	if err := s.kv.Set(Key, data); err != nil {
		return fmt.Errorf("save theme: %w", err)
	}
	return nil
}
