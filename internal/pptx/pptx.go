package pptx

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ThumbnailsAvailable reports whether the external converters used by
// ExtractSlidesToPNG are installed.
func ThumbnailsAvailable() bool {
	for _, bin := range []string{"libreoffice", "pdftoppm"} {
		if _, err := exec.LookPath(bin); err != nil {
			return false
		}
	}
	return true
}

// ExtractSlidesToPNG converts a PPTX file to a series of PNG images using LibreOffice and pdftoppm.
func ExtractSlidesToPNG(ctx context.Context, pptxPath, outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	// One scratch dir per conversion, concurrent runs must not share the PDF.
	taskDir, err := os.MkdirTemp("", "promptdeck_pdf_*")
	if err != nil {
		return nil, fmt.Errorf("failed to create pdf scratch dir: %w", err)
	}
	defer os.RemoveAll(taskDir)

	// Step 1: PPTX to PDF using LibreOffice
	cmd := exec.CommandContext(ctx, "libreoffice", "--headless", "--convert-to", "pdf", "--outdir", taskDir, pptxPath)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("libreoffice conversion failed: %w (output: %s)", err, string(output))
	}

	pdfName := filepath.Base(pptxPath)
	pdfName = pdfName[:len(pdfName)-len(filepath.Ext(pdfName))] + ".pdf"
	pdfPath := filepath.Join(taskDir, pdfName)

	if _, err := os.Stat(pdfPath); os.IsNotExist(err) {
		var foundFiles []string
		if entries, err := os.ReadDir(taskDir); err == nil {
			for _, entry := range entries {
				foundFiles = append(foundFiles, entry.Name())
			}
		}
		return nil, fmt.Errorf("pdf file not found after conversion: %v (expected %s, found: %v)", pdfPath, pdfName, foundFiles)
	}

	// Step 2: PDF to PNG using pdftoppm
	outputBase := filepath.Join(outputDir, "slide")
	cmd = exec.CommandContext(ctx, "pdftoppm", "-png", "-rx", "150", "-ry", "150", pdfPath, outputBase)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm conversion failed: %w", err)
	}

	// Step 3: Rename slide-N.png to slide-000N.png for better sorting
	files, err := filepath.Glob(filepath.Join(outputDir, "slide-*.png"))
	if err != nil {
		return nil, err
	}

	re := regexp.MustCompile(`slide-(\d+)\.png$`)
	for _, f := range files {
		matches := re.FindStringSubmatch(f)
		if len(matches) > 1 {
			num, _ := strconv.Atoi(matches[1])
			newPath := filepath.Join(outputDir, fmt.Sprintf("slide-%04d.png", num))
			if err := os.Rename(f, newPath); err != nil {
				return nil, err
			}
		}
	}

	finalFiles, _ := filepath.Glob(filepath.Join(outputDir, "slide-*.png"))
	sort.Strings(finalFiles)

	return finalFiles, nil
}

// SlideData holds extracted text and structure information for a slide.
type SlideData struct {
	SlideNumber int        `json:"slide_number"`
	Text        string     `json:"text"`
	Slide       *JSONSlide `json:"slide"`
}

// Structures for rich JSON extraction
type JSONSlide struct {
	Index  int            `json:"index"`
	Shapes []ShapeContent `json:"shapes"`
}

type ShapeContent struct {
	Type       string             `json:"type"` // title | subtitle | body | other
	Paragraphs []ParagraphContent `json:"paragraphs"`
}

type ParagraphContent struct {
	Level int       `json:"level"`
	Align string    `json:"align,omitempty"`
	Runs  []TextRun `json:"runs"`
}

type TextRun struct {
	Text  string `json:"text"`
	Bold  bool   `json:"bold,omitempty"`
	Size  int    `json:"size,omitempty"` // pt
	Font  string `json:"font,omitempty"`
	Color string `json:"color,omitempty"`
}

// Text joins the runs of the paragraph.
func (p ParagraphContent) Text() string {
	var b strings.Builder
	for _, r := range p.Runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

// Title returns the text of the first title shape, or "".
func (s *JSONSlide) Title() string {
	for _, sh := range s.Shapes {
		if sh.Type == "title" && len(sh.Paragraphs) > 0 {
			return sh.Paragraphs[0].Text()
		}
	}
	return ""
}

// ShapesOf returns the shapes of the given type in document order.
func (s *JSONSlide) ShapesOf(kind string) []ShapeContent {
	var out []ShapeContent
	for _, sh := range s.Shapes {
		if sh.Type == kind {
			out = append(out, sh)
		}
	}
	return out
}

// ExtractSlideContent extracts text and rich structure info from all slides in a PPTX.
func ExtractSlideContent(pptxPath string) (map[int]SlideData, error) {
	r, err := zip.OpenReader(pptxPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	result := make(map[int]SlideData)

	for _, f := range r.File {
		// Proper check for slide files: starts with ppt/slides/slide and ends with .xml
		if strings.HasPrefix(f.Name, "ppt/slides/slide") && strings.HasSuffix(f.Name, ".xml") {
			// Extract index from filename, e.g., ppt/slides/slide1.xml -> 1
			baseName := filepath.Base(f.Name)
			numStr := strings.TrimSuffix(strings.TrimPrefix(baseName, "slide"), ".xml")
			slideNum, err := strconv.Atoi(numStr)
			if err != nil {
				continue
			}

			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", f.Name, err)
			}

			jsonSlide, plainText, err := parseSlideXML(rc, slideNum)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", f.Name, err)
			}

			result[slideNum] = SlideData{
				SlideNumber: slideNum,
				Text:        strings.TrimSpace(plainText),
				Slide:       jsonSlide,
			}
		}
	}

	return result, nil
}

// ReadSlides is ExtractSlideContent ordered by slide number.
func ReadSlides(pptxPath string) ([]SlideData, error) {
	byNum, err := ExtractSlideContent(pptxPath)
	if err != nil {
		return nil, err
	}
	slides := make([]SlideData, 0, len(byNum))
	for _, s := range byNum {
		slides = append(slides, s)
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].SlideNumber < slides[j].SlideNumber })
	return slides, nil
}

func parseSlideXML(r io.Reader, index int) (*JSONSlide, string, error) {
	dec := xml.NewDecoder(r)

	slide := &JSONSlide{Index: index}
	var textBuilder strings.Builder

	var currentShape *ShapeContent
	var currentPara *ParagraphContent
	var currentRun *TextRun

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, "", err
		}

		switch el := tok.(type) {

		case xml.StartElement:
			switch el.Name.Local {

			case "sp": // shape
				currentShape = &ShapeContent{Type: "other"}

			case "ph": // placeholder (title/body), nested inside the shape's nvSpPr
				if currentShape != nil {
					currentShape.Type = normalizePlaceholder(attr(el, "type"), attr(el, "idx"))
				}

			case "p": // paragraph
				if currentShape != nil {
					currentPara = &ParagraphContent{}
				}

			case "pPr":
				if currentPara != nil {
					if lvl, err := strconv.Atoi(attr(el, "lvl")); err == nil {
						currentPara.Level = lvl
					}
					currentPara.Align = attr(el, "algn")
				}

			case "r": // text run
				currentRun = &TextRun{}

			case "rPr": // run formatting
				if currentRun != nil {
					for _, a := range el.Attr {
						switch a.Name.Local {
						case "b":
							currentRun.Bold = a.Value == "1"
						case "sz":
							if sz, err := strconv.Atoi(a.Value); err == nil {
								currentRun.Size = sz / 100 // 1/100 pt
							}
						}
					}
				}

			case "latin": // font family
				if currentRun != nil {
					currentRun.Font = attr(el, "typeface")
				}

			case "srgbClr": // color
				if currentRun != nil {
					currentRun.Color = "#" + attr(el, "val")
				}

			case "t": // actual text
				if currentRun != nil {
					var text string
					if err := dec.DecodeElement(&text, &el); err == nil {
						currentRun.Text = text
					}
				}
			}

		case xml.EndElement:
			switch el.Name.Local {

			case "r":
				if currentPara != nil && currentRun != nil && currentRun.Text != "" {
					currentPara.Runs = append(currentPara.Runs, *currentRun)
					textBuilder.WriteString(currentRun.Text)
					textBuilder.WriteString(" ")
				}
				currentRun = nil

			case "p":
				if currentShape != nil && currentPara != nil && len(currentPara.Runs) > 0 {
					currentShape.Paragraphs = append(currentShape.Paragraphs, *currentPara)
				}
				currentPara = nil

			case "sp":
				if currentShape != nil && len(currentShape.Paragraphs) > 0 {
					slide.Shapes = append(slide.Shapes, *currentShape)
				}
				currentShape = nil
			}
		}
	}

	return slide, textBuilder.String(), nil
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func normalizePlaceholder(ph, idx string) string {
	switch ph {
	case "title", "ctrTitle":
		return "title"
	case "subTitle":
		return "subtitle"
	case "body", "obj":
		return "body"
	case "":
		// An untyped placeholder with an index is a content placeholder.
		if idx != "" {
			return "body"
		}
		return "other"
	default:
		return "other"
	}
}
