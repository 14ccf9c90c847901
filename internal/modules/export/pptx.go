package export

import (
	"bytes"
	"context"
	"fmt"

	ppt "github.com/VantageDataChat/GoPPT"
	"github.com/slidecraft/server/internal/models"
)

// 16:9 layout, in EMU.
const (
	emuPerInch = 914400

	slideWidth  = int64(10.0 * emuPerInch)
	slideHeight = int64(5.625 * emuPerInch)

	titleX      = int64(0.5 * emuPerInch)
	titleY      = int64(0.3 * emuPerInch)
	titleWidth  = int64(0.9 * 10.0 * emuPerInch)
	titleHeight = int64(1.0 * emuPerInch)

	bulletX      = int64(0.5 * emuPerInch)
	bulletY      = int64(1.5 * emuPerInch)
	bulletStep   = int64(0.8 * emuPerInch)
	bulletWidth  = int64(0.45 * 10.0 * emuPerInch)
	bulletHeight = int64(0.7 * emuPerInch)

	imageX      = int64(6.0 * emuPerInch)
	imageY      = int64(0.3 * emuPerInch)
	imageWidth  = int64(3.5 * emuPerInch)
	imageHeight = int64(5.0 * emuPerInch)

	fontTitle  = 32
	fontBullet = 14

	colorBackground = "FF000000"
	colorText       = "FFFFFFFF"
)

func solidFill(argb string) *ppt.Fill {
	return ppt.NewFill().SetSolid(ppt.NewColor(argb))
}

func (s *Service) renderPPTX(ctx context.Context, p *models.PresentationModel) ([]byte, error) {
	deck := ppt.New()
	deck.GetDocumentProperties().Title = deckTitle(p)
	deck.GetDocumentProperties().Creator = "SlideCraft"

	for i, sl := range p.Slides {
		var slide *ppt.Slide
		if i == 0 {
			slide = deck.GetActiveSlide()
		} else {
			slide = deck.CreateSlide()
		}
		s.addSlide(ctx, slide, sl)
	}

	w, err := ppt.NewWriter(deck, ppt.WriterPowerPoint2007)
	if err != nil {
		return nil, fmt.Errorf("failed to create PPT writer: %w", err)
	}
	var buf bytes.Buffer
	if err := w.(*ppt.PPTXWriter).WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PPT: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Service) addSlide(ctx context.Context, slide *ppt.Slide, sl models.Slide) {
	bg := slide.CreateRichTextShape()
	bg.SetOffsetX(0).SetOffsetY(0)
	bg.SetWidth(slideWidth).SetHeight(slideHeight)
	bg.SetFill(solidFill(colorBackground))

	title := slide.CreateRichTextShape()
	title.SetOffsetX(titleX).SetOffsetY(titleY)
	title.SetWidth(titleWidth).SetHeight(titleHeight)
	tr := title.CreateTextRun(plainText(sl.Title))
	tr.GetFont().SetSize(fontTitle).SetBold(true).SetColor(ppt.NewColor(colorText))

	for i, line := range sentences(sl.Content) {
		bullet := slide.CreateRichTextShape()
		bullet.SetOffsetX(bulletX).SetOffsetY(bulletY + int64(i)*bulletStep)
		bullet.SetWidth(bulletWidth).SetHeight(bulletHeight)
		br := bullet.CreateTextRun("• " + line)
		br.GetFont().SetSize(fontBullet).SetColor(ppt.NewColor(colorText))
	}

	if img := s.loadImage(ctx, sl.ImageURL); img != nil {
		shape := slide.CreateDrawingShape()
		shape.SetImageData(img.data, img.mime)
		shape.SetOffsetX(imageX).SetOffsetY(imageY)
		shape.SetWidth(imageWidth).SetHeight(imageHeight)
	}
}
