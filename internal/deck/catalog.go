package deck

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
)

// CatalogFS contains the deck definitions shipped with the binary.
//
//go:embed catalog/*.json
var CatalogFS embed.FS

// DefaultCatalog is the deck rendered when no catalog name is given.
const DefaultCatalog = "data_science_genai"

// CatalogProvider loads deck definitions from the embedded filesystem.
type CatalogProvider struct{}

func NewCatalogProvider() *CatalogProvider {
	return &CatalogProvider{}
}

// Load reads the named catalog entry. Theme values missing from the JSON keep
// their DefaultTheme value.
func (p *CatalogProvider) Load(name string) (*Deck, error) {
	fileName := fmt.Sprintf("catalog/%s.json", name)
	content, err := CatalogFS.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("could not read embedded catalog file %s: %w", fileName, err)
	}

	d := &Deck{Theme: DefaultTheme()}
	if err := json.Unmarshal(content, d); err != nil {
		return nil, fmt.Errorf("decode %s: %w", fileName, err)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", name, err)
	}
	return d, nil
}

// Names returns the available catalog entries.
func (p *CatalogProvider) Names() ([]string, error) {
	entries, err := CatalogFS.ReadDir("catalog")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	return names, nil
}

// DataScienceGenAI returns the fixed ten-slide "Data Science with Gen AI and
// Agentic AI" deck.
func DataScienceGenAI() *Deck {
	d, err := NewCatalogProvider().Load(DefaultCatalog)
	if err != nil {
		// The entry is compiled in; failing here means the binary is broken.
		panic(err)
	}
	return d
}
