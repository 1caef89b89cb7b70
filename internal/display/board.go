package display

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/fweather/internal/models"
)

// Settings are the user display preferences applied to every widget.
type Settings struct {
	DarkMode          bool `json:"darkMode"`
	BackgroundOpacity int  `json:"backgroundOpacity"`
	ShowTemperature   bool `json:"showTemperature"`
	ShowIcon          bool `json:"showIcon"`
	ShowButtons       bool `json:"showButtons"`
}

// DefaultSettings matches a freshly added widget.
func DefaultSettings() Settings {
	return Settings{ShowTemperature: true, ShowIcon: true, ShowButtons: true}
}

// View is what one widget currently shows.
type View struct {
	WidgetID        int                    `json:"widgetId"`
	Main            Text                   `json:"main"`
	Temperature     *Text                  `json:"temperature,omitempty"`
	Icon            string                 `json:"icon,omitempty"`
	TextColor       string                 `json:"textColor"`
	BackgroundColor string                 `json:"backgroundColor"`
	ShowButtons     bool                   `json:"showButtons"`
	Share           string                 `json:"share"`
	Snapshot        models.WeatherSnapshot `json:"snapshot"`
	RenderedAt      time.Time              `json:"renderedAt"`
}

// Notice is the last user-facing message.
type Notice struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Board keeps the rendered view of every widget. It implements the updater's
// Renderer and Notifier.
type Board struct {
	catalog *Catalog
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.RWMutex
	settings Settings
	views    map[int]View
	notice   Notice
}

func NewBoard(catalog *Catalog, settings Settings, logger *zap.Logger) *Board {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Board{
		catalog:  catalog,
		logger:   logger.Named("board"),
		now:      time.Now,
		settings: settings,
		views:    make(map[int]View),
	}
}

func (b *Board) Settings() Settings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.settings
}

// SetSettings applies to the next render.
func (b *Board) SetSettings(s Settings) {
	b.mu.Lock()
	b.settings = s
	b.mu.Unlock()
}

// Render builds a fresh view of the snapshot for each widget id.
func (b *Board) Render(widgetIDs []int, s models.WeatherSnapshot) {
	settings := b.Settings()
	now := b.now()

	views := make([]View, 0, len(widgetIDs))
	for _, id := range widgetIDs {
		b.logger.Debug("updating widget views", zap.Int("widgetId", id))
		views = append(views, b.build(id, s, settings, now))
	}

	b.mu.Lock()
	for _, v := range views {
		b.views[v.WidgetID] = v
	}
	b.mu.Unlock()
}

func (b *Board) build(id int, s models.WeatherSnapshot, settings Settings, now time.Time) View {
	dark := settings.DarkMode
	main := b.catalog.MainText(s, dark)
	v := View{
		WidgetID:        id,
		Main:            main,
		TextColor:       TextColor(dark),
		BackgroundColor: BackgroundColor(settings.BackgroundOpacity, dark),
		ShowButtons:     settings.ShowButtons,
		Share:           b.catalog.Share(s),
		Snapshot:        s,
		RenderedAt:      now,
	}
	if settings.ShowTemperature {
		t := b.catalog.TemperatureText(s, dark)
		v.Temperature = &t
	}
	if settings.ShowIcon {
		v.Icon = b.catalog.Icon(s, dark)
	}
	return v
}

// View returns the current view of a widget.
func (b *Board) View(id int) (View, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.views[id]
	return v, ok
}

// Views returns every rendered view ordered by widget id.
func (b *Board) Views() []View {
	b.mu.RLock()
	out := make([]View, 0, len(b.views))
	for _, v := range b.views {
		out = append(out, v)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].WidgetID < out[j].WidgetID })
	return out
}

// Notify records a user-facing message.
func (b *Board) Notify(message string) {
	b.logger.Info("notice", zap.String("message", message))
	b.mu.Lock()
	b.notice = Notice{Message: message, At: b.now()}
	b.mu.Unlock()
}

// LastNotice returns the most recent notice, if any.
func (b *Board) LastNotice() (Notice, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.notice, b.notice.Message != ""
}
