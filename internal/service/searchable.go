package service

import (
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// SearchableBuilder assembles a searchable document from page images and
// their recognized text. The text rides along as invisible per-page
// watermarks so viewers show the scan while selection and search hit the
// recognized layer.
type SearchableBuilder struct {
	conf *model.Configuration
}

func NewSearchableBuilder() *SearchableBuilder {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &SearchableBuilder{conf: conf}
}

// Build imports the page images into outPath and stamps each page with its
// text. pages and texts are parallel slices in page order; empty text slots
// get no stamp.
func (b *SearchableBuilder) Build(pages, texts []string, outPath string) error {
	if len(pages) == 0 {
		return fmt.Errorf("no pages to assemble")
	}
	if err := api.ImportImagesFile(pages, outPath, nil, b.conf); err != nil {
		return fmt.Errorf("failed to import page images: %w", err)
	}

	stamps := make(map[int]*model.Watermark, len(texts))
	for i, text := range texts {
		if text == "" {
			continue
		}
		wm, err := api.TextWatermark(text, invisibleTextDesc, true, false, types.POINTS)
		if err != nil {
			return fmt.Errorf("failed to build text stamp for page %d: %w", i+1, err)
		}
		stamps[i+1] = wm
	}
	if len(stamps) == 0 {
		return nil
	}

	if err := api.AddWatermarksMapFile(outPath, "", stamps, b.conf); err != nil {
		return fmt.Errorf("failed to stamp text layer: %w", err)
	}
	return nil
}

// invisibleTextDesc renders the stamp effectively invisible: tiny white
// glyphs at near-zero opacity in the page corner.
const invisibleTextDesc = "fontname:Helvetica, points:6, pos:bl, rot:0, opacity:0.05, fillcolor:#ffffff"

// MergeDocuments concatenates the given documents into a single bundle at
// outPath, in input order.
func MergeDocuments(inFiles []string, outPath string) error {
	if len(inFiles) == 0 {
		return fmt.Errorf("nothing to merge")
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.MergeCreateFile(inFiles, outPath, false, conf); err != nil {
		return fmt.Errorf("failed to merge documents: %w", err)
	}
	return nil
}
