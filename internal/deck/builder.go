package deck

import (
	"errors"
	"fmt"
	"os"

	ppt "github.com/VantageDataChat/GoPPT"
)

const emuPerInch = 914400

// Inches converts inches to EMU.
func Inches(v float64) int64 { return int64(v * emuPerInch) }

var (
	ErrUnknownLayout       = errors.New("unknown slide layout")
	ErrPlaceholderNotFound = errors.New("placeholder not found")
)

// Layout names the placeholder set a slide starts with.
type Layout string

const (
	LayoutTitle           Layout = "title"
	LayoutTitleAndContent Layout = "title_and_content"
)

// Frame is a shape position and size in inches.
type Frame struct {
	X, Y, W, H float64
}

type placeholderDef struct {
	typ   ppt.PlaceholderType
	idx   int
	name  string
	frame Frame
}

// 16:9, 10in x 5.625in.
var layouts = map[Layout][]placeholderDef{
	LayoutTitle: {
		{ppt.PlaceholderCtrTitle, 0, "Title 1", Frame{0.75, 1.6, 8.5, 1.2}},
		{ppt.PlaceholderSubTitle, 1, "Subtitle 2", Frame{1.5, 2.95, 7.0, 1.1}},
	},
	LayoutTitleAndContent: {
		{ppt.PlaceholderTitle, 0, "Title 1", Frame{0.5, 0.25, 9.0, 0.95}},
		{ppt.PlaceholderBody, 1, "Content Placeholder 2", Frame{0.5, 1.3, 9.0, 3.9}},
	},
}

type font struct {
	name  string
	size  int
	color string
}

func titleFont(t Theme, size int) font { return font{t.TitleFont, size, t.TitleColor} }
func bodyFont(t Theme, size int) font  { return font{t.BodyFont, size, t.TextColor} }

// Build renders d into an in-memory presentation.
func Build(d *Deck) (*ppt.Presentation, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	b := &builder{p: ppt.New(), theme: d.Theme}
	b.p.GetLayout().SetCustomLayout(Inches(10), Inches(5.625))
	props := b.p.GetDocumentProperties()
	props.Title = d.Name
	props.Creator = "PromptDeck"
	props.LastModifiedBy = "PromptDeck"

	if err := b.addCover(d.Cover); err != nil {
		return nil, fmt.Errorf("cover slide: %w", err)
	}
	for i, s := range d.Slides {
		if err := b.addContent(s); err != nil {
			return nil, fmt.Errorf("slide %d (%s): %w", i+2, s.Title, err)
		}
	}
	if err := b.addClosing(d.Closing); err != nil {
		return nil, fmt.Errorf("closing slide: %w", err)
	}
	return b.p, nil
}

// Save builds d and writes it to path. A partially written file is removed.
func Save(d *Deck, path string) error {
	p, err := Build(d)
	if err != nil {
		return err
	}
	w, err := ppt.NewWriter(p, ppt.WriterPowerPoint2007)
	if err != nil {
		return err
	}
	if err := w.Save(path); err != nil {
		os.Remove(path)
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

type builder struct {
	p      *ppt.Presentation
	theme  Theme
	slides int
}

// addSlide starts a slide with the placeholders of layout. ppt.New already
// holds one empty slide, which becomes the first.
func (b *builder) addSlide(layout Layout) (*ppt.Slide, error) {
	defs, ok := layouts[layout]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLayout, layout)
	}

	slide := b.p.GetActiveSlide()
	if b.slides > 0 || slide == nil {
		slide = b.p.CreateSlide()
	}
	b.slides++

	for _, def := range defs {
		ph := slide.CreatePlaceholderShape(def.typ)
		ph.SetPlaceholderIndex(def.idx)
		ph.SetName(def.name)
		setFrame(&ph.RichTextShape, def.frame)
		ph.ClearAll()
	}
	return slide, nil
}

func placeholder(slide *ppt.Slide, idx int) (*ppt.PlaceholderShape, error) {
	ph := slide.GetPlaceholderByIndex(idx)
	if ph == nil {
		return nil, fmt.Errorf("%w: idx %d", ErrPlaceholderNotFound, idx)
	}
	return ph, nil
}

func setFrame(s *ppt.RichTextShape, f Frame) {
	s.SetOffsetX(Inches(f.X)).SetOffsetY(Inches(f.Y)).SetWidth(Inches(f.W)).SetHeight(Inches(f.H))
}

func styleParagraph(para *ppt.Paragraph, text string, level int, align ppt.HorizontalAlignment, f font) {
	para.SetAlignment(&ppt.Alignment{Horizontal: align, Level: level})
	run := para.CreateTextRun(text)
	run.GetFont().SetName(f.name).SetSize(f.size).SetColor(ppt.NewColor(f.color))
}

func (b *builder) addCover(c CoverSlide) error {
	t := b.theme
	slide, err := b.addSlide(LayoutTitle)
	if err != nil {
		return err
	}

	title, err := placeholder(slide, 0)
	if err != nil {
		return err
	}
	styleParagraph(title.CreateParagraph(), c.Title, 0, ppt.HorizontalCenter, titleFont(t, t.CoverTitleSize))

	subtitle, err := placeholder(slide, 1)
	if err != nil {
		return err
	}
	styleParagraph(subtitle.CreateParagraph(), c.Subtitle, 0, ppt.HorizontalCenter, bodyFont(t, t.SubtitleSize))

	if c.Footer != "" {
		box := slide.CreateRichTextShape()
		box.SetName("Presenter")
		setFrame(box, Frame{1.0, 4.5, 8.0, 0.5})
		box.SetWordWrap(true)
		styleParagraph(box.GetActiveParagraph(), c.Footer, 0, ppt.HorizontalCenter, bodyFont(t, t.FooterSize))
	}
	return nil
}

func (b *builder) addContent(s ContentSlide) error {
	t := b.theme
	slide, err := b.addSlide(LayoutTitleAndContent)
	if err != nil {
		return err
	}

	title, err := placeholder(slide, 0)
	if err != nil {
		return err
	}
	styleParagraph(title.CreateParagraph(), s.Title, 0, ppt.HorizontalLeft, titleFont(t, t.ContentTitleSize))

	body, err := placeholder(slide, 1)
	if err != nil {
		return err
	}
	body.ClearAll()
	for _, bullet := range s.Bullets {
		styleParagraph(body.CreateParagraph(), bullet.Text, bullet.Level, ppt.HorizontalLeft, bodyFont(t, t.FontSize(bullet.Level)))
	}
	body.SetWordWrap(true)
	setFrame(&body.RichTextShape, Frame{0.7, 1.5, 8.6, 3.8})
	return nil
}

func (b *builder) addClosing(c CoverSlide) error {
	t := b.theme
	slide, err := b.addSlide(LayoutTitle)
	if err != nil {
		return err
	}

	title, err := placeholder(slide, 0)
	if err != nil {
		return err
	}
	styleParagraph(title.CreateParagraph(), c.Title, 0, ppt.HorizontalCenter, titleFont(t, t.ClosingTitleSize))
	title.SetOffsetY(Inches(1.8)).SetHeight(Inches(1.5))

	subtitle, err := placeholder(slide, 1)
	if err != nil {
		return err
	}
	styleParagraph(subtitle.CreateParagraph(), c.Subtitle, 0, ppt.HorizontalCenter, bodyFont(t, t.SubtitleSize))
	if c.Footer != "" {
		styleParagraph(subtitle.CreateParagraph(), c.Footer, 0, ppt.HorizontalCenter, bodyFont(t, t.ContactSize))
	}
	setFrame(&subtitle.RichTextShape, Frame{0.5, 3.8, 9.0, 1.5})
	return nil
}
