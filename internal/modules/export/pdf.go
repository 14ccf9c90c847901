package export

import (
	"context"
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/image"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/extension"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontfamily"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/slidecraft/server/internal/models"
)

func (s *Service) renderPDF(ctx context.Context, p *models.PresentationModel) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber().
		WithLeftMargin(15).
		WithTopMargin(15).
		WithRightMargin(15).
		WithDefaultFont(&props.Font{
			Family: fontfamily.Arial,
			Size:   10,
		}).
		Build()
	m := maroto.New(cfg)

	m.AddRow(20,
		col.New(12).Add(
			text.New(deckTitle(p), props.Text{
				Size:  20,
				Style: fontstyle.Bold,
				Align: align.Center,
			}),
		),
	)

	for i, sl := range p.Slides {
		s.addPDFSlide(ctx, m, i, sl)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}
	return doc.GetBytes(), nil
}

func (s *Service) addPDFSlide(ctx context.Context, m core.Maroto, i int, sl models.Slide) {
	m.AddRow(12,
		col.New(12).Add(
			text.New(fmt.Sprintf("%d. %s", i+1, plainText(sl.Title)), props.Text{
				Size:  14,
				Style: fontstyle.Bold,
				Top:   3,
			}),
		),
	)

	for _, line := range sentences(sl.Content) {
		m.AddRow(7,
			col.New(12).Add(
				text.New("• "+line, props.Text{Size: 10, Left: 4}),
			),
		)
	}

	if img := s.loadImage(ctx, sl.ImageURL); img != nil {
		if ext, ok := pdfExtension(img.mime); ok {
			m.AddRow(70,
				col.New(12).Add(
					image.NewFromBytes(img.data, ext, props.Rect{Center: true, Percent: 100}),
				),
			)
		}
	}
	m.AddRow(5)
}

// pdfExtension maps a sniffed MIME type to a format maroto can embed.
func pdfExtension(mime string) (extension.Type, bool) {
	switch mime {
	case "image/png":
		return extension.Png, true
	case "image/jpeg":
		return extension.Jpg, true
	}
	return "", false
}
