package businessflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/conversion-relay/models"
	"github.com/amirphl/conversion-relay/repository"
	"github.com/amirphl/conversion-relay/utils"
	"github.com/sirupsen/logrus"
)

// AttributionStep names the resolver heuristic that produced a match
type AttributionStep string

const (
	StepFacebookIDs   AttributionStep = "facebook_ids"
	StepClickIDTTCLID AttributionStep = "click_id_ttclid"
	StepClickID       AttributionStep = "click_id"
	StepSaleCode      AttributionStep = "sale_code"
	StepSubstring     AttributionStep = "substring"
	StepPriorSale     AttributionStep = "prior_sale"
	StepIPWindow      AttributionStep = "ip_window"
)

const (
	DefaultIPWindow           = time.Hour
	DefaultMinSubstringLength = 6
)

// AttributionQuery is what a sale event knows about its origin.
// Tokens are candidate click identifiers in priority order.
type AttributionQuery struct {
	Tokens    []string
	SaleCode  string
	FBC       string
	FBP       string
	IP        string
	EventTime time.Time
}

// AttributionMatch is the click a sale was attributed to and the step that found it
type AttributionMatch struct {
	Click *models.Click
	Step  AttributionStep
}

// CandidateGenerator proposes at most one click for a query
type CandidateGenerator struct {
	Step AttributionStep
	Find func(ctx context.Context, q AttributionQuery) (*models.Click, error)
}

// AttributionResolver finds the click that most plausibly produced a sale.
// Generators run in order and the first non-nil click wins; a nil match means no attribution.
type AttributionResolver interface {
	Resolve(ctx context.Context, q AttributionQuery) (*AttributionMatch, error)
}

type AttributionResolverImpl struct {
	generators []CandidateGenerator
	logger     logrus.FieldLogger
}

// AttributionOptions tunes the fuzzy steps of the resolver
type AttributionOptions struct {
	IPWindow           time.Duration
	MinSubstringLength int
}

func NewAttributionResolver(clicks repository.ClickRepository, opts AttributionOptions, logger logrus.FieldLogger) AttributionResolver {
	if opts.IPWindow <= 0 {
		opts.IPWindow = DefaultIPWindow
	}
	if opts.MinSubstringLength <= 0 {
		opts.MinSubstringLength = DefaultMinSubstringLength
	}
	return &AttributionResolverImpl{
		generators: DefaultCandidateGenerators(clicks, opts),
		logger:     logger,
	}
}

// NewAttributionResolverWithGenerators builds a resolver over an explicit generator chain
func NewAttributionResolverWithGenerators(generators []CandidateGenerator, logger logrus.FieldLogger) AttributionResolver {
	return &AttributionResolverImpl{generators: generators, logger: logger}
}

// DefaultCandidateGenerators returns the production chain:
// facebook ids once, then every token through the exact steps, then the fuzzy fallbacks.
func DefaultCandidateGenerators(clicks repository.ClickRepository, opts AttributionOptions) []CandidateGenerator {
	return []CandidateGenerator{
		{Step: StepFacebookIDs, Find: func(ctx context.Context, q AttributionQuery) (*models.Click, error) {
			if q.FBC == "" && q.FBP == "" {
				return nil, nil
			}
			return clicks.LatestByFacebookIDs(ctx, q.FBC, q.FBP)
		}},
		{Step: StepClickIDTTCLID, Find: eachToken(clicks.ByClickIDWithTTCLID)},
		{Step: StepClickID, Find: eachToken(clicks.ByClickID)},
		{Step: StepSaleCode, Find: func(ctx context.Context, q AttributionQuery) (*models.Click, error) {
			if q.SaleCode == "" {
				return nil, nil
			}
			return clicks.ByClickID(ctx, q.SaleCode)
		}},
		{Step: StepSubstring, Find: func(ctx context.Context, q AttributionQuery) (*models.Click, error) {
			for _, token := range q.Tokens {
				if len(token) < opts.MinSubstringLength {
					continue
				}
				click, err := clicks.LatestBySubstring(ctx, token)
				if err != nil || click != nil {
					return click, err
				}
			}
			return nil, nil
		}},
		{Step: StepPriorSale, Find: func(ctx context.Context, q AttributionQuery) (*models.Click, error) {
			if len(q.Tokens) == 0 {
				return nil, nil
			}
			return clicks.LatestByPriorSale(ctx, q.Tokens)
		}},
		{Step: StepIPWindow, Find: func(ctx context.Context, q AttributionQuery) (*models.Click, error) {
			if q.IP == "" {
				return nil, nil
			}
			to := q.EventTime
			if to.IsZero() {
				to = utils.UTCNow()
			}
			return clicks.LatestByIPWindow(ctx, q.IP, to.Add(-opts.IPWindow), to)
		}},
	}
}

func eachToken(lookup func(ctx context.Context, clickID string) (*models.Click, error)) func(context.Context, AttributionQuery) (*models.Click, error) {
	return func(ctx context.Context, q AttributionQuery) (*models.Click, error) {
		for _, token := range q.Tokens {
			click, err := lookup(ctx, token)
			if err != nil || click != nil {
				return click, err
			}
		}
		return nil, nil
	}
}

func (r *AttributionResolverImpl) Resolve(ctx context.Context, q AttributionQuery) (*AttributionMatch, error) {
	q.Tokens = DedupeTokens(q.Tokens...)
	q.SaleCode = strings.TrimSpace(q.SaleCode)
	q.FBC = strings.TrimSpace(q.FBC)
	q.FBP = strings.TrimSpace(q.FBP)
	q.IP = strings.TrimSpace(q.IP)

	for _, gen := range r.generators {
		click, err := gen.Find(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("attribution step %s: %w", gen.Step, err)
		}
		if click != nil {
			attributionMatches.WithLabelValues(string(gen.Step)).Inc()
			r.logger.WithFields(logrus.Fields{
				"step":      gen.Step,
				"click_id":  click.ClickID,
				"sale_code": q.SaleCode,
			}).Debug("Sale attributed")
			return &AttributionMatch{Click: click, Step: gen.Step}, nil
		}
	}
	attributionMatches.WithLabelValues("none").Inc()
	return nil, nil
}

// DedupeTokens trims the values and drops empties and repeats, keeping first-seen order
func DedupeTokens(values ...string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
