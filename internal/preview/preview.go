// Package preview summarizes a presentation as titles and short texts.
package preview

import (
	"fmt"
	"strings"

	ppt "github.com/VantageDataChat/GoPPT"

	"github.com/gnemet/PromptDeck/internal/pptx"
)

const maxTextRunes = 120

type SlidePreview struct {
	Title string   `json:"title"`
	Texts []string `json:"texts,omitempty"`
}

type Preview struct {
	Title  string         `json:"title"`
	Source string         `json:"source"` // goppt or ooxml
	Slides []SlidePreview `json:"slides"`
}

// Build reads the presentation at path. GoPPT is tried first; when it cannot
// open the file or finds no text, the placeholder-aware OOXML reader is used.
func Build(path, title string) (*Preview, error) {
	p, gopptErr := fromGoPPT(path, title)
	if gopptErr == nil && hasText(p) {
		return p, nil
	}

	p, err := fromOOXML(path, title)
	if err != nil {
		if gopptErr != nil {
			return nil, fmt.Errorf("failed to open PPT file: %w (goppt: %v)", err, gopptErr)
		}
		return nil, fmt.Errorf("failed to open PPT file: %w", err)
	}
	return p, nil
}

func hasText(p *Preview) bool {
	for _, s := range p.Slides {
		if s.Title != "" || len(s.Texts) > 0 {
			return true
		}
	}
	return false
}

func fromGoPPT(path, title string) (*Preview, error) {
	reader := &ppt.PPTXReader{}
	pres, err := reader.Read(path)
	if err != nil {
		return nil, err
	}

	slides := pres.GetAllSlides()
	if len(slides) == 0 {
		return nil, fmt.Errorf("PPT file has no slides")
	}

	out := &Preview{Title: title, Source: "goppt"}
	for _, slide := range slides {
		var sp SlidePreview
		for _, shape := range slide.GetShapes() {
			// Placeholders embed a RichTextShape.
			text, ok := shape.(interface{ GetParagraphs() []*ppt.Paragraph })
			if !ok {
				continue
			}
			for _, para := range text.GetParagraphs() {
				var text string
				for _, elem := range para.GetElements() {
					if run, ok := elem.(*ppt.TextRun); ok {
						text += run.GetText()
					}
				}
				sp.add(text)
			}
		}
		out.Slides = append(out.Slides, sp)
	}
	return out, nil
}

func fromOOXML(path, title string) (*Preview, error) {
	slides, err := pptx.ReadSlides(path)
	if err != nil {
		return nil, err
	}
	if len(slides) == 0 {
		return nil, fmt.Errorf("PPT file has no slides")
	}

	out := &Preview{Title: title, Source: "ooxml"}
	for _, s := range slides {
		var sp SlidePreview
		if s.Slide != nil {
			sp.Title = s.Slide.Title()
			for _, sh := range s.Slide.Shapes {
				if sh.Type == "title" {
					continue
				}
				for _, para := range sh.Paragraphs {
					sp.add(para.Text())
				}
			}
		}
		out.Slides = append(out.Slides, sp)
	}
	return out, nil
}

// add makes the first text the title and truncates the rest.
func (sp *SlidePreview) add(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if sp.Title == "" {
		sp.Title = text
		return
	}
	if r := []rune(text); len(r) > maxTextRunes {
		text = string(r[:maxTextRunes-2]) + ".."
	}
	sp.Texts = append(sp.Texts, text)
}
