package narrative

import (
	_ "embed"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/brightpath-advice/advicegen/internal/model"
)

//go:embed sections.yaml
var sectionsYAML []byte

// SectionDef is one catalog entry for a document type.
type SectionDef struct {
	Key      string `yaml:"key"`
	Title    string `yaml:"title"`
	Required bool   `yaml:"required"`
}

var (
	catalogOnce sync.Once
	catalog     map[string][]SectionDef
	catalogErr  error
)

func loadCatalog() {
	catalog = make(map[string][]SectionDef)
	if err := yaml.Unmarshal(sectionsYAML, &catalog); err != nil {
		catalogErr = eris.Wrap(err, "narrative: parse section catalog")
	}
}

// SectionCatalog returns the ordered section definitions for a document type.
func SectionCatalog(docType model.DocumentType) ([]SectionDef, error) {
	catalogOnce.Do(loadCatalog)
	if catalogErr != nil {
		return nil, catalogErr
	}
	defs, ok := catalog[string(docType)]
	if !ok {
		return nil, eris.Errorf("narrative: no section catalog for document type %q", docType)
	}
	return defs, nil
}

// DefaultTitle is the document heading used when the writing service does
// not supply one.
func DefaultTitle(docType model.DocumentType) string {
	catalogOnce.Do(loadCatalog)
	for _, def := range catalog[string(docType)] {
		if def.Key == "document_title" {
			return def.Title
		}
	}
	return "Advice Document"
}
