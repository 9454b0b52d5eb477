package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/longportapp/openapi-go/quote"

	"github.com/dyike/CortexThesis/internal/dataflows"
	"github.com/dyike/CortexThesis/internal/logging"
	"github.com/dyike/CortexThesis/models"
)

// EquitySource looks up a listed security. A nil quote means unknown.
type EquitySource interface {
	Equity(ctx context.Context, symbol string) (*models.Quote, *time.Time, error)
}

// ProfileSource supplies industry classification and the earnings calendar.
type ProfileSource interface {
	Profile(ctx context.Context, symbol string) (*dataflows.CompanyProfile, error)
	NextEarnings(ctx context.Context, symbol string, now time.Time) (*time.Time, error)
}

// StaticInfoSource resolves Longport static security info.
type StaticInfoSource interface {
	GetStaticInfo(ctx context.Context, symbols []string) ([]*quote.StaticInfo, error)
}

var tradableQuoteTypes = map[string]bool{"EQUITY": true, "ETF": true}

// MarketValidator validates against Yahoo Finance and enriches the result
// with the Finnhub profile when one is available.
type MarketValidator struct {
	Equities EquitySource
	Profiles ProfileSource // optional
	Now      func() time.Time
}

func (v *MarketValidator) Validate(ctx context.Context, id models.Identity) (models.Validation, error) {
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	q, earnings, err := v.Equities.Equity(ctx, id.Ticker)
	if err != nil {
		return models.Validation{}, fmt.Errorf("lookup %s: %w", id.Ticker, err)
	}
	if q == nil || q.Price <= 0 || (q.QuoteType != "" && !tradableQuoteTypes[strings.ToUpper(q.QuoteType)]) {
		return models.Validation{IsValid: false}, nil
	}

	info := &models.TickerInfo{
		Symbol:    q.Symbol,
		Name:      q.Name,
		Exchange:  q.Exchange,
		Currency:  q.Currency,
		Price:     q.Price,
		MarketCap: q.MarketCap,
		FetchedAt: now(),
	}
	if earnings != nil && !earnings.Before(now()) {
		info.NextEarnings = earnings
	}
	out := models.Validation{IsValid: true, Business: q.Name, TickerInfo: info}
	v.enrich(ctx, id.Ticker, now(), &out)
	return out, nil
}

// enrich fills industry and earnings from the profile source. Failures
// only cost the enrichment.
func (v *MarketValidator) enrich(ctx context.Context, ticker string, now time.Time, out *models.Validation) {
	if v.Profiles == nil {
		return
	}
	logger := logging.FromContext(ctx)
	if p, err := v.Profiles.Profile(ctx, ticker); err != nil {
		logger.Debug().Err(err).Str(logging.FieldTicker, ticker).Msg("profile lookup failed")
	} else if p != nil {
		out.Industry = p.Industry
		if out.Business == "" {
			out.Business = p.Name
		}
	}
	if out.TickerInfo.NextEarnings == nil {
		if next, err := v.Profiles.NextEarnings(ctx, ticker, now); err != nil {
			logger.Debug().Err(err).Str(logging.FieldTicker, ticker).Msg("earnings calendar lookup failed")
		} else {
			out.TickerInfo.NextEarnings = next
		}
	}
}

// LongportValidator validates through Longport static info, which covers
// HK and mainland listings Yahoo resolves poorly.
type LongportValidator struct {
	Static   StaticInfoSource
	Profiles ProfileSource // optional
	Now      func() time.Time
}

func (v *LongportValidator) Validate(ctx context.Context, id models.Identity) (models.Validation, error) {
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	infos, err := v.Static.GetStaticInfo(ctx, []string{dataflows.LongportSymbol(id.Ticker)})
	if err != nil {
		return models.Validation{}, fmt.Errorf("longport static info %s: %w", id.Ticker, err)
	}
	if len(infos) == 0 || infos[0] == nil {
		return models.Validation{IsValid: false}, nil
	}
	si := infos[0]
	out := models.Validation{
		IsValid:  true,
		Business: si.NameEn,
		TickerInfo: &models.TickerInfo{
			Symbol:    si.Symbol,
			Name:      si.NameEn,
			Exchange:  si.Exchange,
			Currency:  si.Currency,
			FetchedAt: now(),
		},
	}
	mv := &MarketValidator{Profiles: v.Profiles}
	mv.enrich(ctx, id.Ticker, now(), &out)
	return out, nil
}

// FirstValid tries validators in order and returns the first positive
// result. Errors are remembered and returned only if no validator succeeds.
type FirstValid []Validator

func (fv FirstValid) Validate(ctx context.Context, id models.Identity) (models.Validation, error) {
	var lastErr error
	answered := false
	for _, v := range fv {
		res, err := v.Validate(ctx, id)
		if err != nil {
			lastErr = err
			continue
		}
		answered = true
		if res.IsValid {
			return res, nil
		}
	}
	if answered {
		return models.Validation{IsValid: false}, nil
	}
	return models.Validation{}, lastErr
}
