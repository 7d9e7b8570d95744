// Package theme holds the gradient presets and the persisted theme choice.
// The current theme is owned by a Store value handed to whoever renders;
// there is no package-level mutable theme.
package theme

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	appLog "github.com/wlkla/iPredict/internal/log"
)

// Gradient is a two-stop colour ramp.
type Gradient struct {
	Colors [2]string `json:"colors"`
}

// Variant pairs the light and dark gradient of one surface.
type Variant struct {
	Light Gradient `json:"light"`
	Dark  Gradient `json:"dark"`
}

// Theme colours the three surfaces of the app.
type Theme struct {
	Countdown Variant `json:"countdown"`
	Date      Variant `json:"date"`
	Analytics Variant `json:"analytics"`
}

const (
	DefaultPreset = "default"
	CustomPreset  = "custom"

	presetKey = "theme_preset"
	customKey = "theme_custom"
)

func v(l1, l2, d1, d2 string) Variant {
	return Variant{
		Light: Gradient{Colors: [2]string{l1, l2}},
		Dark:  Gradient{Colors: [2]string{d1, d2}},
	}
}

// Presets are the built-in themes.
var Presets = map[string]Theme{
	DefaultPreset: {
		Countdown: v("#00C9FF", "#92FE9D", "#0077B6", "#48BFE3"),
		Date:      v("#FFF886", "#F072B6", "#E65100", "#EF6C00"),
		Analytics: v("#3C8CE7", "#00EAFF", "#1B5E20", "#2E7D32"),
	},
	"blueOcean": {
		Countdown: v("#2193b0", "#6dd5ed", "#1A3C40", "#2E5D63"),
		Date:      v("#4CA1AF", "#C4E0E5", "#003B46", "#07575B"),
		Analytics: v("#5C258D", "#4389A2", "#273746", "#37697A"),
	},
	"purpleHaze": {
		Countdown: v("#8E2DE2", "#4A00E0", "#5B1865", "#301B70"),
		Date:      v("#DA4453", "#89216B", "#5F0F40", "#310E68"),
		Analytics: v("#FF5F6D", "#FFC371", "#8B0000", "#A65055"),
	},
	"greenMeadow": {
		Countdown: v("#11998e", "#38ef7d", "#155263", "#207561"),
		Date:      v("#56ab2f", "#a8e063", "#2C5530", "#3B7A40"),
		Analytics: v("#134E5E", "#71B280", "#0A3628", "#2F5233"),
	},
}

// PresetNames lists built-in preset names, sorted.
func PresetNames() []string {
	out := make([]string, 0, len(Presets))
	for k := range Presets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Validate checks every colour is #RRGGBB.
func (t Theme) Validate() error {
	for _, variant := range []Variant{t.Countdown, t.Date, t.Analytics} {
		for _, g := range []Gradient{variant.Light, variant.Dark} {
			for _, c := range g.Colors {
				if !hexColor.MatchString(c) {
					return fmt.Errorf("theme: invalid colour %q", c)
				}
			}
		}
	}
	return nil
}

// Settings is the persistence the Store needs.
type Settings interface {
	Setting(key string) ([]byte, bool, error)
	PutSetting(key string, value []byte) error
}

// Store tracks the selected theme and notifies subscribers on change.
type Store struct {
	settings Settings

	mu      sync.RWMutex
	name    string
	current Theme
	subs    []func(name string, t Theme)
}

// NewStore loads the saved choice. Missing or broken settings fall back to
// the default preset.
func NewStore(settings Settings) (*Store, error) {
	if settings == nil {
		return nil, errors.New("theme: settings backend is nil")
	}
	s := &Store{settings: settings, name: DefaultPreset, current: Presets[DefaultPreset]}

	raw, ok, err := settings.Setting(presetKey)
	if err != nil {
		return nil, fmt.Errorf("theme: load preset: %w", err)
	}
	if !ok {
		return s, nil
	}
	name := string(raw)
	if name == CustomPreset {
		if t, err := s.loadCustom(); err == nil {
			s.name, s.current = CustomPreset, t
		} else {
			appLog.Error("theme: custom theme unreadable, using default", err)
		}
		return s, nil
	}
	if t, ok := Presets[name]; ok {
		s.name, s.current = name, t
	}
	return s, nil
}

func (s *Store) loadCustom() (Theme, error) {
	raw, ok, err := s.settings.Setting(customKey)
	if err != nil {
		return Theme{}, err
	}
	if !ok {
		return Theme{}, errors.New("theme: no custom theme saved")
	}
	var t Theme
	if err := json.Unmarshal(raw, &t); err != nil {
		return Theme{}, err
	}
	return t, t.Validate()
}

// Current returns the selected preset name and theme.
func (s *Store) Current() (string, Theme) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name, s.current
}

// Subscribe registers fn to be called after every change.
func (s *Store) Subscribe(fn func(name string, t Theme)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// Set selects a preset by name. Unknown names select the default preset.
// "custom" selects the saved custom theme.
func (s *Store) Set(name string) (string, error) {
	var t Theme
	switch {
	case name == CustomPreset:
		custom, err := s.loadCustom()
		if err != nil {
			return "", err
		}
		t = custom
	default:
		p, ok := Presets[name]
		if !ok {
			name, p = DefaultPreset, Presets[DefaultPreset]
		}
		t = p
	}
	if err := s.settings.PutSetting(presetKey, []byte(name)); err != nil {
		return "", fmt.Errorf("theme: save preset: %w", err)
	}
	s.apply(name, t)
	return name, nil
}

// SaveCustom stores t as the custom theme and selects it.
func (s *Store) SaveCustom(t Theme) error {
	if err := t.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := s.settings.PutSetting(customKey, data); err != nil {
		return fmt.Errorf("theme: save custom: %w", err)
	}
	if err := s.settings.PutSetting(presetKey, []byte(CustomPreset)); err != nil {
		return fmt.Errorf("theme: save preset: %w", err)
	}
	s.apply(CustomPreset, t)
	return nil
}

func (s *Store) apply(name string, t Theme) {
	s.mu.Lock()
	s.name, s.current = name, t
	subs := append([]func(string, Theme){}, s.subs...)
	s.mu.Unlock()

	appLog.Info("theme changed", "preset", name)
	for _, fn := range subs {
		fn(name, t)
	}
}
