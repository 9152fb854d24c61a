package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/depanneo/depanneo-api/internal/models"
	appErrors "github.com/depanneo/depanneo-api/pkg/errors"
	"github.com/depanneo/depanneo-api/pkg/export"
)

type usageLister interface {
	ListUsages(ctx context.Context, filter models.UsageFilter) ([]models.PromoCodeUsage, int, error)
}

type promoLookup interface {
	FindByID(ctx context.Context, id string) (*models.PromoCode, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFormat selects the rendered output type.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportResult is a rendered ledger export ready for download.
type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders the redemption ledger as downloadable files for
// finance reporting.
type ExportService struct {
	usages usageLister
	promos promoLookup
	csv    csvRenderer
	pdf    pdfRenderer
	logger *zap.Logger
	now    func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(usages usageLister, promos promoLookup, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{usages: usages, promos: promos, csv: csv, pdf: pdf, logger: logger, now: time.Now}
}

// Ledger renders the redemption ledger, optionally scoped to one promo code.
func (s *ExportService) Ledger(ctx context.Context, format ExportFormat, promoCodeID string) (*ExportResult, error) {
	format = ExportFormat(strings.ToLower(string(format)))
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	codes := map[string]string{}
	if promoCodeID != "" {
		promo, err := s.promos.FindByID(ctx, promoCodeID)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "promo code not found")
		}
		codes[promo.ID] = promo.Code
	}

	usages, _, err := s.usages.ListUsages(ctx, models.UsageFilter{PromoCodeID: promoCodeID, PageSize: 100, Page: 1})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load ledger")
	}

	dataset := export.Dataset{
		Headers: []string{"used_at", "promo_code_id", "user_id", "original_amount", "discount_amount", "final_amount"},
	}
	for _, usage := range usages {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"used_at":         usage.UsedAt.UTC().Format(time.RFC3339),
			"promo_code_id":   usage.PromoCodeID,
			"user_id":         usage.UserID,
			"original_amount": usage.OriginalAmount.StringFixed(2),
			"discount_amount": usage.DiscountAmount.StringFixed(2),
			"final_amount":    usage.FinalAmount.StringFixed(2),
		})
	}

	stamp := s.now().UTC().Format("20060102-150405")
	switch format {
	case ExportFormatPDF:
		data, err := s.pdf.Render(dataset, "Promo Redemption Ledger")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportResult{
			Filename:    fmt.Sprintf("promo-ledger-%s.pdf", stamp),
			ContentType: "application/pdf",
			Data:        data,
		}, nil
	default:
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportResult{
			Filename:    fmt.Sprintf("promo-ledger-%s.csv", stamp),
			ContentType: "text/csv",
			Data:        data,
		}, nil
	}
}
