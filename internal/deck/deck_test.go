package deck

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	ppt "github.com/VantageDataChat/GoPPT"

	"github.com/gnemet/PromptDeck/internal/pptx"
)

func saveAndRead(t *testing.T, d *Deck) []pptx.SlideData {
	t.Helper()
	path := filepath.Join(t.TempDir(), d.FileName)
	if err := Save(d, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	slides, err := pptx.ReadSlides(path)
	if err != nil {
		t.Fatalf("ReadSlides: %v", err)
	}
	return slides
}

func TestDataScienceGenAIStructure(t *testing.T) {
	d := DataScienceGenAI()
	if d.SlideCount() != 10 {
		t.Fatalf("expected 10 slides, got %d", d.SlideCount())
	}

	slides := saveAndRead(t, d)
	if len(slides) != 10 {
		t.Fatalf("expected 10 slides in file, got %d", len(slides))
	}
	if got := slides[0].Slide.Title(); got != "Data Science with Gen AI and Agentic AI" {
		t.Errorf("slide 1 title = %q", got)
	}
	if got := slides[9].Slide.Title(); got != "Thank You!" {
		t.Errorf("slide 10 title = %q", got)
	}

	wantTitles := []string{
		"Introduction to Data Science",
		"Introduction to Generative AI",
		"Introduction to Agentic AI",
		"How Gen AI Enhances Data Science",
		"Architecture of Agentic AI Systems",
		"Agentic AI vs Gen AI",
		"Real-world Applications of Gen AI and Agentic AI",
		"Future of Data Science with Gen AI and Agentic AI",
	}
	wantBullets := []int{4, 4, 4, 10, 10, 10, 10, 10}
	for i, title := range wantTitles {
		s := slides[i+1].Slide
		if got := s.Title(); got != title {
			t.Errorf("slide %d title = %q, want %q", i+2, got, title)
		}
		bodies := s.ShapesOf("body")
		if len(bodies) != 1 {
			t.Fatalf("slide %d: expected one body, got %d", i+2, len(bodies))
		}
		if got := len(bodies[0].Paragraphs); got != wantBullets[i] {
			t.Errorf("slide %d: %d bullets, want %d", i+2, got, wantBullets[i])
		}
	}

	intro := slides[1].Slide.ShapesOf("body")[0].Paragraphs
	for _, p := range intro {
		if p.Level != 0 {
			t.Errorf("slide 2 bullet %q has level %d", p.Text(), p.Level)
		}
	}
	if got := intro[0].Text(); got != "Interdisciplinary field combining statistics, computer science, and domain expertise." {
		t.Errorf("slide 2 first bullet = %q", got)
	}

	closing := slides[9].Slide.ShapesOf("subtitle")
	if len(closing) != 1 || len(closing[0].Paragraphs) != 2 {
		t.Fatalf("closing slide should carry subtitle and contact paragraphs, got %+v", closing)
	}
	if got := closing[0].Paragraphs[1].Text(); got != "[Your Email] | [Your Website/LinkedIn]" {
		t.Errorf("contact line = %q", got)
	}
	if got := closing[0].Paragraphs[1].Runs[0].Size; got != 24 {
		t.Errorf("contact size = %d", got)
	}
}

func TestBulletSizeDecreasesWithLevel(t *testing.T) {
	d := DataScienceGenAI()
	slides := saveAndRead(t, d)

	for _, s := range slides[1:9] {
		for _, p := range s.Slide.ShapesOf("body")[0].Paragraphs {
			want := d.Theme.BulletBase - p.Level*d.Theme.LevelStep
			for _, r := range p.Runs {
				if r.Size != want {
					t.Errorf("slide %d %q: size %d at level %d, want %d", s.SlideNumber, r.Text, r.Size, p.Level, want)
				}
				if r.Font != "Calibri" || r.Color != "#323232" {
					t.Errorf("slide %d %q: font %q color %q", s.SlideNumber, r.Text, r.Font, r.Color)
				}
			}
		}
	}

	th := DefaultTheme()
	for level := 1; level <= MaxLevel; level++ {
		if th.FontSize(level) >= th.FontSize(level-1) {
			t.Errorf("FontSize(%d)=%d not below FontSize(%d)=%d", level, th.FontSize(level), level-1, th.FontSize(level-1))
		}
	}
	if th.FontSize(0) != 22 || th.FontSize(1) != 20 || th.FontSize(2) != 18 {
		t.Errorf("unexpected sizes %d/%d/%d", th.FontSize(0), th.FontSize(1), th.FontSize(2))
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	first := saveAndRead(t, DataScienceGenAI())
	second := saveAndRead(t, DataScienceGenAI())
	if !reflect.DeepEqual(first, second) {
		t.Error("two builds of the same deck differ")
	}
}

func TestSaveRoundTripsText(t *testing.T) {
	d := DataScienceGenAI()
	slides := saveAndRead(t, d)

	for i, s := range d.Slides {
		got := slides[i+1].Slide
		if got.Title() != s.Title {
			t.Errorf("title %q != %q", got.Title(), s.Title)
		}
		paras := got.ShapesOf("body")[0].Paragraphs
		for j, b := range s.Bullets {
			if paras[j].Text() != b.Text || paras[j].Level != b.Level {
				t.Errorf("slide %d bullet %d = (%q, %d), want (%q, %d)",
					i+2, j+1, paras[j].Text(), paras[j].Level, b.Text, b.Level)
			}
		}
	}
}

func TestCoverLayout(t *testing.T) {
	slides := saveAndRead(t, DataScienceGenAI())
	cover := slides[0].Slide

	title := cover.ShapesOf("title")[0].Paragraphs[0]
	if title.Align != "ctr" || title.Runs[0].Size != 48 || title.Runs[0].Color != "#003366" {
		t.Errorf("unexpected cover title %+v", title)
	}
	footer := cover.ShapesOf("other")
	if len(footer) != 1 || footer[0].Paragraphs[0].Text() != "Presented by [Your Name] | [Date]" {
		t.Errorf("unexpected footer %+v", footer)
	}
	if !strings.Contains(slides[0].Text, "Exploring the Next Frontier in Data-Driven Innovation") {
		t.Errorf("cover text missing subtitle: %q", slides[0].Text)
	}
}

func TestBuildGeometry(t *testing.T) {
	p, err := Build(DataScienceGenAI())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	all := p.GetAllSlides()
	if len(all) != 10 {
		t.Fatalf("expected 10 slides, got %d", len(all))
	}
	if got := p.GetDocumentProperties().Creator; got != "PromptDeck" {
		t.Errorf("creator = %q", got)
	}

	body := all[1].GetPlaceholderByIndex(1)
	if body == nil {
		t.Fatal("content slide has no body placeholder")
	}
	if body.GetOffsetX() != Inches(0.7) || body.GetOffsetY() != Inches(1.5) ||
		body.GetWidth() != Inches(8.6) || body.GetHeight() != Inches(3.8) || !body.GetWordWrap() {
		t.Errorf("content body at (%d,%d) %dx%d wrap %v",
			body.GetOffsetX(), body.GetOffsetY(), body.GetWidth(), body.GetHeight(), body.GetWordWrap())
	}
	if got := len(body.GetParagraphs()); got != 4 {
		t.Errorf("content body has %d paragraphs", got)
	}

	closingTitle := all[9].GetPlaceholderByIndex(0)
	if closingTitle == nil || closingTitle.GetOffsetY() != Inches(1.8) || closingTitle.GetHeight() != Inches(1.5) {
		t.Errorf("closing title placement %+v", closingTitle)
	}
	closingSub := all[9].GetPlaceholderByIndex(1)
	if closingSub == nil {
		t.Fatal("closing slide has no subtitle")
	}
	if closingSub.GetOffsetX() != Inches(0.5) || closingSub.GetOffsetY() != Inches(3.8) ||
		closingSub.GetWidth() != Inches(9.0) || closingSub.GetHeight() != Inches(1.5) {
		t.Errorf("closing subtitle at (%d,%d) %dx%d",
			closingSub.GetOffsetX(), closingSub.GetOffsetY(), closingSub.GetWidth(), closingSub.GetHeight())
	}
}

func TestAddSlideErrors(t *testing.T) {
	b := &builder{p: ppt.New(), theme: DefaultTheme()}
	if _, err := b.addSlide(Layout("two_content")); !errors.Is(err, ErrUnknownLayout) {
		t.Errorf("expected ErrUnknownLayout, got %v", err)
	}

	slide, err := b.addSlide(LayoutTitle)
	if err != nil {
		t.Fatalf("addSlide: %v", err)
	}
	if slide != b.p.GetAllSlides()[0] {
		t.Error("first slide should reuse the default slide")
	}
	if _, err := placeholder(slide, 7); !errors.Is(err, ErrPlaceholderNotFound) {
		t.Errorf("expected ErrPlaceholderNotFound, got %v", err)
	}

	if _, err := b.addSlide(LayoutTitleAndContent); err != nil {
		t.Fatalf("addSlide: %v", err)
	}
	if got := len(b.p.GetAllSlides()); got != 2 {
		t.Errorf("expected 2 slides, got %d", got)
	}
}

func TestSaveRemovesFileOnInvalidDeck(t *testing.T) {
	d := DataScienceGenAI()
	d.Cover.Title = ""
	path := filepath.Join(t.TempDir(), "out.pptx")
	if err := Save(d, path); !errors.Is(err, ErrInvalidDeck) {
		t.Fatalf("expected ErrInvalidDeck, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("no file should be written for an invalid deck")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Deck)
		want   string
	}{
		{"valid", func(*Deck) {}, ""},
		{"empty content title", func(d *Deck) { d.Slides[0].Title = " " }, "slide 2 has no title"},
		{"level too deep", func(d *Deck) { d.Slides[3].Bullets[1].Level = 3 }, "level 3 outside"},
		{"negative level", func(d *Deck) { d.Slides[3].Bullets[1].Level = -1 }, "level -1 outside"},
		{"missing closing", func(d *Deck) { d.Closing.Title = "" }, "closing slide has no title"},
		{"bullets vanish", func(d *Deck) { d.Theme.BulletBase = 4 }, "bullet size at level 2"},
		{"zero size", func(d *Deck) { d.Theme.ContentTitleSize = 0 }, "content_title_size"},
		{"empty bullet", func(d *Deck) { d.Slides[0].Bullets[0].Text = "" }, "bullet 1 has no text"},
		{"blank bullet", func(d *Deck) { d.Slides[4].Bullets[3].Text = "  " }, "slide 6 bullet 4 has no text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DataScienceGenAI()
			tt.mutate(d)
			err := d.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidDeck) {
				t.Fatalf("expected ErrInvalidDeck, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
			if _, err := Build(d); err == nil {
				t.Error("Build accepted an invalid deck")
			}
		})
	}
}

func TestCatalogProvider(t *testing.T) {
	p := NewCatalogProvider()
	names, err := p.Names()
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	if !reflect.DeepEqual(names, []string{DefaultCatalog}) {
		t.Errorf("unexpected catalog names %v", names)
	}
	if _, err := p.Load("missing"); err == nil {
		t.Error("expected error for unknown catalog")
	}
	d, err := p.Load(DefaultCatalog)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d.Theme != DefaultTheme() {
		t.Errorf("theme should fall back to defaults, got %+v", d.Theme)
	}
	if d.FileName != "Data_Science_with_Gen_AI_and_Agentic_AI.pptx" {
		t.Errorf("file name %q", d.FileName)
	}
}
