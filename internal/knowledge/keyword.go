package knowledge

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
)

type indexedFact struct {
	Content string `json:"content"`
	Subject string `json:"subject"`
	Source  string `json:"source"`
}

// keywordIndex is an in-memory bleve index over fact contents.
type keywordIndex struct {
	index bleve.Index
}

func newKeywordIndex() (*keywordIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)

	keywordFieldMapping := bleve.NewTextFieldMapping()
	keywordFieldMapping.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt("subject", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("source", keywordFieldMapping)

	im.AddDocumentMapping("fact", docMapping)
	im.DefaultType = "fact"
	im.DefaultMapping = docMapping

	index, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyword index: %w", err)
	}
	return &keywordIndex{index: index}, nil
}

func (k *keywordIndex) add(id string, doc indexedFact) error {
	return k.index.Index(id, doc)
}

// search returns fact id -> bleve score for facts of subject matching text.
func (k *keywordIndex) search(subject, text string, limit int) (map[string]float64, error) {
	match := bleve.NewMatchQuery(text)
	match.SetField("content")

	bySubject := bleve.NewTermQuery(subject)
	bySubject.SetField("subject")

	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(match, bySubject), limit, 0, false)
	res, err := k.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	scores := make(map[string]float64, len(res.Hits))
	for _, hit := range res.Hits {
		scores[hit.ID] = hit.Score
	}
	return scores, nil
}

func (k *keywordIndex) close() error {
	return k.index.Close()
}
