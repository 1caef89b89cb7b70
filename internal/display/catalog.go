package display

import (
	_ "embed"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/fweather/internal/models"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Entry is one displayable text with its light and dark colors.
type Entry struct {
	Text      string `yaml:"text"`
	Color     string `yaml:"color"`
	DarkColor string `yaml:"dark_color"`
}

// Text is an entry picked for a given mode.
type Text struct {
	Key   string `json:"key"`
	Text  string `json:"text"`
	Color string `json:"color"`
}

type catalogFile struct {
	Unknown string              `yaml:"unknown"`
	Entries map[string]Entry    `yaml:"entries"`
	Arrays  map[string][]string `yaml:"arrays"`
	Images  map[string]string   `yaml:"images"`
}

// Catalog holds the text arrays and icon names keyed by resource name.
// Picks are random; the generator is guarded so a Catalog is safe for concurrent use.
type Catalog struct {
	unknownKey string
	entries    map[string]Entry
	arrays     map[string][]string
	images     map[string]string
	logger     *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewCatalog parses a YAML catalog. Every array item must name an existing entry.
func NewCatalog(data []byte, rng *rand.Rand, logger *zap.Logger) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if _, ok := f.Entries[f.Unknown]; !ok {
		return nil, errors.New("catalog: unknown entry is missing")
	}
	for name, keys := range f.Arrays {
		if len(keys) == 0 {
			return nil, fmt.Errorf("catalog: array %s is empty", name)
		}
		for _, k := range keys {
			if _, ok := f.Entries[k]; !ok {
				return nil, fmt.Errorf("catalog: array %s references missing entry %s", name, k)
			}
		}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		unknownKey: f.Unknown,
		entries:    f.Entries,
		arrays:     f.Arrays,
		images:     f.Images,
		logger:     logger.Named("catalog"),
		rng:        rng,
	}, nil
}

// DefaultCatalog loads the embedded catalog.
func DefaultCatalog(rng *rand.Rand, logger *zap.Logger) (*Catalog, error) {
	return NewCatalog(defaultCatalog, rng, logger)
}

// Pick returns a random entry from the named array, or the unknown entry when the
// array does not exist.
func (c *Catalog) Pick(resource string, dark bool) Text {
	keys, ok := c.arrays[resource]
	if !ok {
		c.logger.Warn("no resource named", zap.String("resource", resource))
		return c.text(c.unknownKey, dark)
	}
	key := keys[0]
	if len(keys) > 1 {
		c.mu.Lock()
		key = keys[c.rng.Intn(len(keys))]
		c.mu.Unlock()
	}
	return c.text(key, dark)
}

func (c *Catalog) text(key string, dark bool) Text {
	e := c.entries[key]
	color := e.Color
	if dark && e.DarkColor != "" {
		color = e.DarkColor
	}
	return Text{Key: key, Text: e.Text, Color: color}
}

// MainText picks the condition text for the snapshot.
func (c *Catalog) MainText(s models.WeatherSnapshot, dark bool) Text {
	return c.Pick(ResourceName(PrefixMainText, s.ConditionCode), dark)
}

// TemperatureText picks the text for the snapshot's temperature bucket.
func (c *Catalog) TemperatureText(s models.WeatherSnapshot, dark bool) Text {
	bound, ok := TemperatureRange(s)
	if !ok {
		return c.text(c.unknownKey, dark)
	}
	return c.Pick(ResourceName(PrefixTempText, bound), dark)
}

// Icon returns the icon name for the snapshot, with the dark variant suffix when needed.
func (c *Catalog) Icon(s models.WeatherSnapshot, dark bool) string {
	name, ok := c.images[ResourceName(PrefixImage, s.ConditionCode)]
	if !ok || name == "" {
		name = unknownImage
	}
	if dark {
		name += darkSuffix
	}
	return name
}

// Share builds the text shared for a snapshot: the main text in light mode plus the hashtag.
func (c *Catalog) Share(s models.WeatherSnapshot) string {
	return Share(c.MainText(s, false).Text)
}

// Share appends the hashtag to a main text.
func Share(mainText string) string {
	return mainText + " " + ShareVia
}
