package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gradintel/tuition-cli/internal/cost"
	"github.com/gradintel/tuition-cli/internal/model"
	"github.com/gradintel/tuition-cli/internal/quota"
	"github.com/gradintel/tuition-cli/internal/store"
)

// Pipeline orchestrates extraction, verification, and bounded retry for one
// (school, program) target at a time.
type Pipeline struct {
	extractor *Extractor
	// verifier is nil when cross-verification is disabled.
	verifier    *CrossVerifier
	guard       *quota.Guard
	store       store.Store
	calc        *cost.Calculator
	geminiModel string
	claudeModel string
	cacheTTL    time.Duration

	nowFunc func() time.Time
}

// Options bundles the pipeline collaborators.
type Options struct {
	Extractor   *Extractor
	Verifier    *CrossVerifier
	Guard       *quota.Guard
	Store       store.Store
	Calculator  *cost.Calculator
	GeminiModel string
	ClaudeModel string
	CacheTTL    time.Duration
}

// New assembles a pipeline.
func New(opts Options) *Pipeline {
	return &Pipeline{
		extractor:   opts.Extractor,
		verifier:    opts.Verifier,
		guard:       opts.Guard,
		store:       opts.Store,
		calc:        opts.Calculator,
		geminiModel: opts.GeminiModel,
		claudeModel: opts.ClaudeModel,
		cacheTTL:    opts.CacheTTL,
		nowFunc:     time.Now,
	}
}

// Extract runs the full extract-verify-retry flow for one target and returns
// the final persisted attempt. At most one retry is performed, and only when
// verification recommends it; a second retry recommendation is capped into a
// manual review. Extract does not fail: every outcome, including quota denial
// and extractor failure, is encoded in the returned attempt.
func (p *Pipeline) Extract(ctx context.Context, school, program string) *model.Attempt {
	attempt := p.runAttempt(ctx, school, program, "", 0)
	if attempt.Verification == nil || !attempt.Verification.RetryRecommended {
		return attempt
	}

	zap.L().Info("retrying extraction with refined query",
		zap.String("school", school),
		zap.String("program", program),
		zap.String("query", attempt.Verification.SuggestedSearchQuery))

	return p.runAttempt(ctx, school, program, attempt.Verification.SuggestedSearchQuery, 1)
}

// runAttempt executes one quota-checked extraction attempt, verifies it, and
// persists the result.
func (p *Pipeline) runAttempt(ctx context.Context, school, program, refinement string, retryCount int) *model.Attempt {
	attempt := &model.Attempt{
		School:     school,
		Program:    program,
		RetryCount: retryCount,
	}

	decision, err := p.guard.CheckAndReserve(ctx)
	if err != nil {
		// Admission must fail closed: an unreadable counter cannot authorize
		// a paid call.
		zap.L().Error("quota check failed, denying call", zap.Error(err))
		decision = &quota.Decision{Allowed: false}
	}
	if !decision.Allowed {
		attempt.Candidate = model.ExtractionCandidate{Status: model.StatusFailed}
		attempt.Verification = &model.VerificationResult{
			Status:     model.VerificationFailed,
			Confidence: model.ConfidenceLow,
			Issues:     []string{fmt.Sprintf("daily extraction quota exhausted (%d/%d used)", decision.Used, decision.Limit)},
		}
		attempt.Verification.Reasoning = buildReasoning(attempt.Verification)
		p.persist(ctx, attempt)
		return attempt
	}

	cand := p.extractor.Extract(ctx, school, program, refinement)
	attempt.Candidate = *cand
	attempt.CostUSD = p.calc.Gemini(p.geminiModel, cand.Usage.InputTokens, cand.Usage.OutputTokens, true)

	vr, verifyCost := p.verify(ctx, cand, school, program)
	if retryCount >= 1 {
		// Retry budget is one. A second recommendation goes to a human.
		CapRetry(vr)
	}
	attempt.Verification = vr
	attempt.CostUSD += verifyCost

	p.persist(ctx, attempt)
	return attempt
}

// Verify resolves a verification verdict for a candidate without touching
// quota or persistence. Exposed for re-verification of stored attempts.
func (p *Pipeline) Verify(ctx context.Context, cand *model.ExtractionCandidate, school, program string) *model.VerificationResult {
	vr, _ := p.verify(ctx, cand, school, program)
	return vr
}

func (p *Pipeline) verify(ctx context.Context, cand *model.ExtractionCandidate, school, program string) (*model.VerificationResult, float64) {
	// Rules short-circuit terminal candidate states before any AI spend.
	if cand.Status != model.StatusSuccess {
		return Resolve(ResolveInput{Candidate: cand, School: school, Program: program}), 0
	}

	rules := EvaluateRules(cand, p.nowFunc())

	if p.verifier == nil {
		return Resolve(ResolveInput{Candidate: cand, School: school, Program: program, Rules: rules}), 0
	}

	hash := candidateHash(cand, school, program)
	if cached, err := p.store.GetCachedVerification(ctx, hash); err != nil {
		zap.L().Warn("verification cache read failed", zap.Error(err))
	} else if cached != nil {
		zap.L().Debug("verification cache hit", zap.String("hash", hash))
		return cached, 0
	}

	var verdict *CrossVerdict
	var verifyCost float64
	v, usage, err := p.verifier.Verify(ctx, cand, school, program, rules)
	if err != nil {
		// Cross-verification is advisory. Fall back to rules-only silently.
		zap.L().Warn("cross-verification unavailable, using rules only",
			zap.String("school", school),
			zap.String("program", program),
			zap.Error(err))
	} else {
		verdict = v
		verifyCost = p.calc.Claude(p.claudeModel, int(usage.InputTokens), int(usage.OutputTokens))
	}

	vr := Resolve(ResolveInput{
		Candidate: cand,
		School:    school,
		Program:   program,
		Rules:     rules,
		Verdict:   verdict,
	})

	if verdict != nil {
		if err := p.store.SetCachedVerification(ctx, hash, vr, p.cacheTTL); err != nil {
			zap.L().Warn("verification cache write failed", zap.Error(err))
		}
	}
	return vr, verifyCost
}

// ExtractBatch runs targets through the pipeline with bounded concurrency.
// Individual failures never abort the batch; results arrive in input order.
// Cancelling ctx stops not-yet-started targets from being scheduled; their
// slots stay zero. In-flight attempts run to completion.
func (p *Pipeline) ExtractBatch(ctx context.Context, targets []model.ExtractionRequest, concurrency int) []model.Attempt {
	if concurrency <= 0 {
		concurrency = 1
	}

	results := make([]model.Attempt, len(targets))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, target := range targets {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[i] = *p.Extract(ctx, target.School, target.Program)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// QuotaStatus reports the current daily budget usage.
func (p *Pipeline) QuotaStatus(ctx context.Context) (*model.QuotaStatus, error) {
	return p.guard.Status(ctx)
}

func (p *Pipeline) persist(ctx context.Context, attempt *model.Attempt) {
	stored, err := p.store.CreateAttempt(ctx, attempt)
	if err != nil {
		zap.L().Error("failed to persist attempt",
			zap.String("school", attempt.School),
			zap.String("program", attempt.Program),
			zap.Error(err))
		return
	}
	*attempt = *stored
}

// candidateHash fingerprints the verification-relevant content of a
// candidate. Identical extracted values for the same target hash alike, so a
// re-verification can reuse a cached cross-verifier verdict.
func candidateHash(c *model.ExtractionCandidate, school, program string) string {
	var b strings.Builder
	b.WriteString(school)
	b.WriteByte('|')
	b.WriteString(program)

	writeNum := func(p *float64) {
		b.WriteByte('|')
		if p != nil {
			fmt.Fprintf(&b, "%.4f", *p)
		}
	}
	writeNum(c.TuitionAmount)
	writeNum(c.CostPerCredit)
	writeNum(c.TotalCredits)

	for _, s := range []string{c.TuitionPeriod, c.AcademicYear, c.ProgramLength, c.SourceURL} {
		b.WriteByte('|')
		b.WriteString(s)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
