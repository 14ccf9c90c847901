package export

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/slidecraft/server/internal/models"
	"go.uber.org/zap"
)

type Format string

const (
	FormatPPTX     Format = "pptx"
	FormatPDF      Format = "pdf"
	FormatMarkdown Format = "md"

	defaultTitle     = "AI Generated Presentation"
	maxImageBytes    = 10 << 20
	filenameRunes    = 30
	fetchTimeout     = 15 * time.Second
	fallbackBasename = "ai_generated"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrNotFound          = errors.New("presentation not found")

	filenameUnsafe = regexp.MustCompile(`[^a-z0-9]`)
	sentenceBreak  = regexp.MustCompile(`\.\s+`)
)

// ParseFormat maps a query value to a Format. Empty means pptx.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatPPTX:
		return FormatPPTX, nil
	case FormatPDF:
		return FormatPDF, nil
	case FormatMarkdown, "markdown":
		return FormatMarkdown, nil
	}
	return "", ErrUnsupportedFormat
}

func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	}
}

// Finder loads one of a user's decks, or nil.
type Finder interface {
	Get(userID, id string) (*models.PresentationModel, error)
}

// File is a rendered export.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Service renders stored decks into downloadable documents.
type Service struct {
	store       Finder
	client      *http.Client
	placeholder string
	logger      *zap.Logger
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger.Named("export")
		}
	}
}

// WithHTTPClient replaces the client used to fetch remote slide images.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.client = c
		}
	}
}

func NewService(store Finder, placeholder string, opts ...Option) *Service {
	s := &Service{
		store:       store,
		client:      &http.Client{Timeout: fetchTimeout},
		placeholder: placeholder,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Export renders the deck id of userID in format.
func (s *Service) Export(ctx context.Context, userID, id string, format Format) (*File, error) {
	p, err := s.store.Get(userID, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}

	var data []byte
	switch format {
	case FormatPPTX:
		data, err = s.renderPPTX(ctx, p)
	case FormatPDF:
		data, err = s.renderPDF(ctx, p)
	case FormatMarkdown:
		data = renderMarkdown(p)
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}
	return &File{
		Name:        Filename(p.Prompt, format),
		ContentType: format.ContentType(),
		Data:        data,
	}, nil
}

// Filename derives a download name from the deck prompt.
func Filename(prompt string, format Format) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return fmt.Sprintf("%s_presentation.%s", fallbackBasename, format)
	}
	r := []rune(prompt)
	if len(r) > filenameRunes {
		r = r[:filenameRunes]
	}
	base := filenameUnsafe.ReplaceAllString(strings.ToLower(string(r)), "_")
	return fmt.Sprintf("%s_presentation.%s", base, format)
}

func deckTitle(p *models.PresentationModel) string {
	if t := strings.TrimSpace(p.Prompt); t != "" {
		return t
	}
	return defaultTitle
}

// sentences splits slide content into bullet lines.
func sentences(content string) []string {
	content = plainText(content)
	if content == "" {
		return nil
	}
	parts := strings.Split(sentenceBreak.ReplaceAllString(content, ".\n"), "\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type slideImage struct {
	data []byte
	mime string
}

// loadImage resolves a slide image reference. The placeholder, relative
// paths and unreadable images yield nil.
func (s *Service) loadImage(ctx context.Context, ref string) *slideImage {
	ref = strings.TrimSpace(ref)
	if ref == "" || ref == s.placeholder {
		return nil
	}

	var data []byte
	switch {
	case strings.HasPrefix(ref, "data:"):
		parts := strings.SplitN(ref, ",", 2)
		if len(parts) != 2 || !strings.Contains(parts[0], ";base64") {
			return nil
		}
		b, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return nil
		}
		data = b
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		b, err := s.fetch(ctx, ref)
		if err != nil {
			s.logger.Debug("slide image fetch failed", zap.String("url", ref), zap.Error(err))
			return nil
		}
		data = b
	default:
		return nil
	}

	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return nil
	}
	return &slideImage{data: data, mime: mime}
}

func (s *Service) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
}
