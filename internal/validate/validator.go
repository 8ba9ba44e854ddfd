// Package validate inspects a downloaded product image after the fact:
// does it semantically look like the product, does the packaging text
// agree, and is the photo itself usable. The result is a confidence
// fraction the decision engine acts on.
package validate

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/shelfline/curator-cli/internal/clip"
	"github.com/shelfline/curator-cli/internal/imaging"
	"github.com/shelfline/curator-cli/internal/model"
	"github.com/shelfline/curator-cli/internal/ocr"
	"github.com/shelfline/curator-cli/internal/scorer"
)

// Adjustments are applied additively in a fixed order so repeated
// validation of the same image always lands on the same confidence.
const (
	brandBoost        = 0.15
	variantTokenBoost = 0.10
	titleKeywordBoost = 0.05
	titleBoostCap     = 0.15
	ocrBoostCap       = 0.30

	textIssuePenalty      = 0.10
	lowQualityPenalty     = 0.15
	unprofessionalPenalty = 0.10
	lowQualityFloor       = 50.0

	neutralBase = 0.5
)

// Report is the validation outcome for one stored image.
type Report struct {
	Confidence   float64 // 0..1
	Base         float64
	OCRBoost     float64
	Quality      QualityReport
	TextIssues   []string
	ManualReview bool
	Reason       string
}

// Validator runs post-download checks against the stored image bytes.
type Validator struct {
	clip clip.Service
	ocr  ocr.Extractor
}

// New creates a Validator. Either dependency may be nil; the matching
// signal is then skipped rather than failing the product.
func New(clipSvc clip.Service, extractor ocr.Extractor) *Validator {
	return &Validator{clip: clipSvc, ocr: extractor}
}

// Validate scores how confident we are that data shows the product.
func (v *Validator) Validate(ctx context.Context, p *model.Product, data []byte) Report {
	img, err := imaging.Decode(data)
	if err != nil {
		return Report{
			ManualReview: true,
			Reason:       "stored image could not be decoded",
		}
	}

	r := Report{Base: v.semanticBase(ctx, p, data)}

	text := v.extractText(ctx, p, data)
	r.OCRBoost, r.TextIssues = textEvidence(p, text)

	r.Quality = AnalyzeQuality(img)

	conf := r.Base + r.OCRBoost
	conf -= textIssuePenalty * float64(len(r.TextIssues))
	if r.Quality.Score < lowQualityFloor {
		conf -= lowQualityPenalty
	}
	if !r.Quality.Professional {
		conf -= unprofessionalPenalty
	}

	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	r.Confidence = conf
	return r
}

// semanticBase returns the best similarity against the description
// variants, rescaled from cosine into [0, 1]. Falls back to the neutral
// midpoint when the embedding service is unavailable.
func (v *Validator) semanticBase(ctx context.Context, p *model.Product, data []byte) float64 {
	if v.clip == nil {
		return neutralBase
	}

	sims, err := v.clip.Similarity(ctx, data, clip.Descriptions(p))
	if err != nil || len(sims) == 0 {
		zap.L().Warn("validate: semantic check unavailable",
			zap.String("sku", p.SKU),
			zap.Error(err),
		)
		return neutralBase
	}

	best := -1.0
	for _, s := range sims {
		if s > best {
			best = s
		}
	}
	return (best + 1) / 2
}

func (v *Validator) extractText(ctx context.Context, p *model.Product, data []byte) string {
	if v.ocr == nil {
		return ""
	}
	text, err := v.ocr.ExtractText(ctx, data)
	if err != nil {
		zap.L().Warn("validate: ocr unavailable",
			zap.String("sku", p.SKU),
			zap.Error(err),
		)
		return ""
	}
	return text
}

// textEvidence compares recognized packaging text against the product.
// An empty text (OCR off or failed) contributes nothing either way.
func textEvidence(p *model.Product, text string) (boost float64, issues []string) {
	if text == "" {
		return 0, nil
	}

	folded := scorer.Fold(text)
	tokens := scorer.Tokenize(text)

	if p.Brand != "" {
		if containsFold(folded, p.Brand) {
			boost += brandBoost
		} else {
			issues = append(issues, "brand text not found on packaging")
		}
	}

	if p.Variant != "" {
		found := false
		for _, tok := range scorer.Tokenize(p.Variant) {
			if len(tok) < 3 {
				continue
			}
			if containsToken(tokens, tok) {
				boost += variantTokenBoost
				found = true
			}
		}
		if !found {
			issues = append(issues, "variant text not found on packaging")
		}
	}

	titleBoost := 0.0
	matched := 0
	for _, tok := range scorer.Tokenize(p.Title) {
		if len(tok) <= 3 {
			continue
		}
		if containsToken(tokens, tok) {
			matched++
		}
	}
	if matched >= 2 {
		titleBoost = titleKeywordBoost * float64(matched)
		if titleBoost > titleBoostCap {
			titleBoost = titleBoostCap
		}
	}
	boost += titleBoost

	if boost > ocrBoostCap {
		boost = ocrBoostCap
	}
	return boost, issues
}

func containsFold(foldedText, needle string) bool {
	n := scorer.Fold(needle)
	return n != "" && strings.Contains(foldedText, n)
}

func containsToken(tokens []string, tok string) bool {
	for _, t := range tokens {
		if t == tok {
			return true
		}
	}
	return false
}
