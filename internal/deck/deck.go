// Package deck describes fixed presentations and renders them into PPTX files.
package deck

import (
	"errors"
	"fmt"
	"strings"
)

// MaxLevel is the deepest supported bullet indentation.
const MaxLevel = 2

var ErrInvalidDeck = errors.New("invalid deck")

type Deck struct {
	Name     string         `json:"name"`
	FileName string         `json:"file_name"`
	Theme    Theme          `json:"theme"`
	Cover    CoverSlide     `json:"cover"`
	Slides   []ContentSlide `json:"slides"`
	Closing  CoverSlide     `json:"closing"`
}

// CoverSlide is used for the opening and the closing slide. Footer is the
// presenter line on the cover and the contact line on the closing slide.
type CoverSlide struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Footer   string `json:"footer"`
}

type ContentSlide struct {
	Title   string   `json:"title"`
	Bullets []Bullet `json:"bullets"`
}

type Bullet struct {
	Text  string `json:"text"`
	Level int    `json:"level"`
}

// Theme holds fonts, colors (RRGGBB) and point sizes.
type Theme struct {
	TitleFont  string `json:"title_font"`
	BodyFont   string `json:"body_font"`
	TitleColor string `json:"title_color"`
	TextColor  string `json:"text_color"`

	CoverTitleSize   int `json:"cover_title_size"`
	ClosingTitleSize int `json:"closing_title_size"`
	ContentTitleSize int `json:"content_title_size"`
	SubtitleSize     int `json:"subtitle_size"`
	FooterSize       int `json:"footer_size"`
	ContactSize      int `json:"contact_size"`
	BulletBase       int `json:"bullet_base"`
	LevelStep        int `json:"level_step"`
}

func DefaultTheme() Theme {
	return Theme{
		TitleFont:        "Calibri Light",
		BodyFont:         "Calibri",
		TitleColor:       "003366",
		TextColor:        "323232",
		CoverTitleSize:   48,
		ClosingTitleSize: 54,
		ContentTitleSize: 36,
		SubtitleSize:     28,
		FooterSize:       18,
		ContactSize:      24,
		BulletBase:       22,
		LevelStep:        2,
	}
}

// FontSize returns the bullet size in points for an indentation level.
func (t Theme) FontSize(level int) int {
	return t.BulletBase - level*t.LevelStep
}

// SlideCount counts the cover, the content slides and the closing slide.
func (d *Deck) SlideCount() int {
	return len(d.Slides) + 2
}

// Validate reports every problem found, joined into one error.
func (d *Deck) Validate() error {
	var problems []string

	if strings.TrimSpace(d.Cover.Title) == "" {
		problems = append(problems, "cover slide has no title")
	}
	if strings.TrimSpace(d.Closing.Title) == "" {
		problems = append(problems, "closing slide has no title")
	}
	for i, s := range d.Slides {
		if strings.TrimSpace(s.Title) == "" {
			problems = append(problems, fmt.Sprintf("slide %d has no title", i+2))
		}
		for j, b := range s.Bullets {
			if strings.TrimSpace(b.Text) == "" {
				problems = append(problems, fmt.Sprintf("slide %d bullet %d has no text", i+2, j+1))
			}
			if b.Level < 0 || b.Level > MaxLevel {
				problems = append(problems, fmt.Sprintf("slide %d bullet %d: level %d outside [0,%d]", i+2, j+1, b.Level, MaxLevel))
			}
		}
	}

	t := d.Theme
	sizes := []struct {
		name string
		pt   int
	}{
		{"cover_title_size", t.CoverTitleSize},
		{"closing_title_size", t.ClosingTitleSize},
		{"content_title_size", t.ContentTitleSize},
		{"subtitle_size", t.SubtitleSize},
		{"footer_size", t.FooterSize},
		{"contact_size", t.ContactSize},
		{"bullet_base", t.BulletBase},
	}
	for _, s := range sizes {
		if s.pt <= 0 {
			problems = append(problems, fmt.Sprintf("theme %s must be positive", s.name))
		}
	}
	if t.LevelStep <= 0 {
		problems = append(problems, "theme level_step must be positive")
	}
	if t.FontSize(MaxLevel) <= 0 {
		problems = append(problems, fmt.Sprintf("bullet size at level %d is %dpt", MaxLevel, t.FontSize(MaxLevel)))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDeck, strings.Join(problems, "; "))
	}
	return nil
}
