// Package resolver assigns incoming supplier mentions to canonical suppliers.
//
// Every mention ends in one of four decisions: a repeat of a known alias, an
// automatic attach to a sufficiently similar supplier, a pending alias waiting
// for review, or a brand-new supplier. Uniqueness of (text, source) is left to
// the store; the resolver itself keeps no identity cache.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	apperrors "github.com/camden-git/supplierresolver/errors"
	"github.com/camden-git/supplierresolver/logging"
	"github.com/camden-git/supplierresolver/models"
	"github.com/camden-git/supplierresolver/normalize"
	"github.com/camden-git/supplierresolver/realtime"
	"github.com/camden-git/supplierresolver/repository"
	"github.com/camden-git/supplierresolver/similarity"
)

// Decision is the outcome of resolving one mention.
type Decision string

const (
	DecisionRepeat   Decision = "repeat"
	DecisionAttached Decision = "attached"
	DecisionPending  Decision = "pending"
	DecisionCreated  Decision = "created"
)

// Mention is one raw observation of a supplier name.
type Mention struct {
	RawName          string `json:"raw_name"`
	Source           string `json:"source"`
	LinkedRecordID   string `json:"linked_record_id,omitempty"`
	LinkedRecordKind string `json:"linked_record_kind,omitempty"`
}

// Resolution describes what happened to a mention. Supplier is nil for
// pending decisions; Match carries the top-ranked candidate when scoring ran.
type Resolution struct {
	Decision Decision             `json:"decision"`
	Supplier *models.Supplier     `json:"supplier,omitempty"`
	Alias    *models.Alias        `json:"alias"`
	Match    *similarity.Match    `json:"match,omitempty"`
	Record   *models.LinkedRecord `json:"linked_record,omitempty"`
}

// Notifier receives review events. realtime.Hub is the production implementation.
type Notifier interface {
	Broadcast(event realtime.Event)
}

type nopNotifier struct{}

func (nopNotifier) Broadcast(realtime.Event) {}

// Config holds the decision thresholds and input limits.
type Config struct {
	LowThreshold       float64
	HighThreshold      float64
	MaxMentionLength   int
	Sources            []string
	BlockingMinAliases int
}

// Resolver implements the cluster assignment state machine.
type Resolver struct {
	suppliers  repository.SupplierRepositoryInterface
	aliases    repository.AliasRepositoryInterface
	records    repository.LinkedRecordRepositoryInterface
	normalizer *normalize.Normalizer
	scorer     *similarity.Scorer
	cfg        Config
	sources    map[string]struct{}
	notifier   Notifier
}

// Option configures optional Resolver collaborators.
type Option func(*Resolver)

// WithNotifier routes review events to n.
func WithNotifier(n Notifier) Option {
	return func(r *Resolver) {
		if n != nil {
			r.notifier = n
		}
	}
}

// New creates a Resolver. Thresholds are expected to be validated by the caller.
func New(
	suppliers repository.SupplierRepositoryInterface,
	aliases repository.AliasRepositoryInterface,
	records repository.LinkedRecordRepositoryInterface,
	normalizer *normalize.Normalizer,
	scorer *similarity.Scorer,
	cfg Config,
	opts ...Option,
) *Resolver {
	r := &Resolver{
		suppliers:  suppliers,
		aliases:    aliases,
		records:    records,
		normalizer: normalizer,
		scorer:     scorer,
		cfg:        cfg,
		sources:    make(map[string]struct{}, len(cfg.Sources)),
		notifier:   nopNotifier{},
	}
	for _, s := range cfg.Sources {
		r.sources[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Normalizer exposes the normalizer used for keys.
func (r *Resolver) Normalizer() *normalize.Normalizer {
	return r.normalizer
}

func (r *Resolver) validate(m Mention) (text, source string, err error) {
	if !utf8.ValidString(m.RawName) {
		return "", "", apperrors.NewInvalidMentionError("raw_name", "must be valid UTF-8")
	}
	text = strings.TrimSpace(m.RawName)
	if text == "" {
		return "", "", apperrors.NewInvalidMentionError("raw_name", "must not be blank")
	}
	if r.cfg.MaxMentionLength > 0 && utf8.RuneCountInString(text) > r.cfg.MaxMentionLength {
		return "", "", apperrors.NewInvalidMentionError("raw_name",
			fmt.Sprintf("must be at most %d characters", r.cfg.MaxMentionLength))
	}
	source = strings.ToLower(strings.TrimSpace(m.Source))
	if source == "" {
		return "", "", apperrors.NewInvalidMentionError("source", "must not be blank")
	}
	if len(r.sources) > 0 {
		if _, ok := r.sources[source]; !ok {
			return "", "", apperrors.NewInvalidMentionError("source", fmt.Sprintf("unknown source %q", source))
		}
	}
	if !utf8.ValidString(m.LinkedRecordID) || !utf8.ValidString(m.LinkedRecordKind) {
		return "", "", apperrors.NewInvalidMentionError("linked_record_id", "must be valid UTF-8")
	}
	return text, source, nil
}

// Ingest resolves one mention and persists the outcome.
func (r *Resolver) Ingest(ctx context.Context, m Mention) (*Resolution, error) {
	text, source, err := r.validate(m)
	if err != nil {
		return nil, err
	}
	key := r.normalizer.Normalize(text)
	in := repository.AliasInput{
		Text:          text,
		Source:        source,
		NormalizedKey: key,
		BlockingKey:   r.normalizer.BlockingKey(key),
	}
	// one retry covers a concurrent writer claiming (text, source) mid-flight
	res, err := r.ingest(ctx, m, in, true)
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Debug().
		Str("text", text).
		Str("source", source).
		Str("key", key).
		Str("decision", string(res.Decision)).
		Msg("mention resolved")
	return res, nil
}

func (r *Resolver) ingest(ctx context.Context, m Mention, in repository.AliasInput, retry bool) (*Resolution, error) {
	existing, err := r.aliases.FindByTextSource(ctx, in.Text, in.Source)
	if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		if existing.IsPending() {
			return r.pendingResolution(ctx, m, existing, nil)
		}
		return r.repeat(ctx, m, in, *existing.SupplierID, existing.Confidence)
	}

	if in.NormalizedKey == "" {
		return r.pend(ctx, m, in, nil, retry)
	}

	exact, err := r.aliases.FindConfirmedByKey(ctx, in.NormalizedKey)
	if err != nil {
		return nil, err
	}
	if len(exact) > 0 && exact[0].SupplierID != nil {
		// oldest alias wins; suppliers sharing a key are folded by the reconciler
		return r.repeat(ctx, m, in, *exact[0].SupplierID, 1.0)
	}

	candidates, err := r.candidates(ctx, in.BlockingKey)
	if err != nil {
		return nil, err
	}
	matches := r.scorer.Score(in.NormalizedKey, candidates)
	var best *similarity.Match
	if len(matches) > 0 {
		best = &matches[0]
	}

	switch {
	case best != nil && best.Similarity >= r.cfg.HighThreshold:
		return r.attach(ctx, m, in, best)
	case best != nil && best.Similarity >= r.cfg.LowThreshold:
		return r.pend(ctx, m, in, best, retry)
	default:
		return r.create(ctx, m, in, best, retry)
	}
}

func (r *Resolver) candidates(ctx context.Context, blockingKey string) ([]similarity.Candidate, error) {
	n, err := r.aliases.CountConfirmed(ctx)
	if err != nil {
		return nil, err
	}
	if n <= int64(r.cfg.BlockingMinAliases) {
		blockingKey = ""
	}
	return r.aliases.FindCandidateSet(ctx, blockingKey)
}

func (r *Resolver) repeat(ctx context.Context, m Mention, in repository.AliasInput, supplierID uint, confidence float64) (*Resolution, error) {
	in.SupplierID = supplierID
	in.Confidence = confidence
	alias, err := r.aliases.Upsert(ctx, in)
	if err != nil {
		return nil, err
	}
	match := &similarity.Match{SupplierID: *alias.SupplierID, Similarity: 1.0, MatchedKey: in.NormalizedKey, Method: similarity.MethodExact}
	return r.finish(ctx, DecisionRepeat, m, alias, match)
}

func (r *Resolver) attach(ctx context.Context, m Mention, in repository.AliasInput, best *similarity.Match) (*Resolution, error) {
	in.SupplierID = best.SupplierID
	in.Confidence = best.Similarity
	alias, err := r.aliases.Upsert(ctx, in)
	if err != nil {
		return nil, err
	}
	return r.finish(ctx, DecisionAttached, m, alias, best)
}

func (r *Resolver) create(ctx context.Context, m Mention, in repository.AliasInput, best *similarity.Match, retry bool) (*Resolution, error) {
	in.Confidence = 1.0
	_, alias, created, err := r.aliases.CreateWithNewSupplier(ctx, in.Text, in)
	if err != nil {
		return nil, err
	}
	if !created {
		if !retry {
			return nil, fmt.Errorf("alias %q from %s changed concurrently", in.Text, in.Source)
		}
		return r.ingest(ctx, m, in, false)
	}
	return r.finish(ctx, DecisionCreated, m, alias, best)
}

func (r *Resolver) pend(ctx context.Context, m Mention, in repository.AliasInput, best *similarity.Match, retry bool) (*Resolution, error) {
	var candidateID uint
	if best != nil {
		candidateID = best.SupplierID
		in.Confidence = best.Similarity
	}
	alias, created, err := r.aliases.CreatePending(ctx, in, candidateID)
	if err != nil {
		return nil, err
	}
	if !created && !alias.IsPending() {
		if !retry {
			return nil, fmt.Errorf("alias %q from %s changed concurrently", in.Text, in.Source)
		}
		return r.ingest(ctx, m, in, false)
	}
	if created {
		r.notifier.Broadcast(realtime.Event{
			Type:        realtime.EventAliasPending,
			AliasID:     alias.ID,
			CandidateID: candidateID,
			Text:        alias.Text,
			Source:      alias.Source,
			Score:       alias.Confidence,
		})
	}
	return r.pendingResolution(ctx, m, alias, best)
}

func (r *Resolver) pendingResolution(ctx context.Context, m Mention, alias *models.Alias, best *similarity.Match) (*Resolution, error) {
	res := &Resolution{Decision: DecisionPending, Alias: alias, Match: best}
	if res.Match == nil && alias.CandidateSupplierID != nil {
		res.Match = &similarity.Match{SupplierID: *alias.CandidateSupplierID, Similarity: alias.Confidence}
	}
	if m.LinkedRecordID != "" {
		record, err := r.records.MarkPending(ctx, m.LinkedRecordKind, m.LinkedRecordID, alias.ID)
		if err != nil {
			return nil, err
		}
		res.Record = record
	}
	return res, nil
}

func (r *Resolver) finish(ctx context.Context, decision Decision, m Mention, alias *models.Alias, match *similarity.Match) (*Resolution, error) {
	supplier, err := r.suppliers.GetLive(ctx, *alias.SupplierID)
	if err != nil {
		return nil, err
	}
	res := &Resolution{Decision: decision, Supplier: supplier, Alias: alias, Match: match}
	if m.LinkedRecordID != "" {
		record, err := r.records.Attach(ctx, m.LinkedRecordKind, m.LinkedRecordID, supplier.ID)
		if err != nil {
			return nil, err
		}
		res.Record = record
	}
	return res, nil
}

// AcceptPending confirms a pending alias under supplierID, or under its
// recorded candidate when supplierID is 0. Linked records waiting on the alias
// are attached in the same transaction.
func (r *Resolver) AcceptPending(ctx context.Context, aliasID, supplierID uint) (*Resolution, error) {
	alias, err := r.aliases.GetByID(ctx, aliasID)
	if err != nil {
		return nil, err
	}
	target := supplierID
	if target == 0 && alias.CandidateSupplierID != nil {
		target = *alias.CandidateSupplierID
	}
	if target == 0 && alias.IsPending() {
		return nil, apperrors.NewInvalidMentionError("supplier_id", "pending alias has no candidate, a supplier must be chosen")
	}

	confirmed, err := r.aliases.ConfirmPending(ctx, aliasID, target, alias.Confidence)
	if err != nil {
		return nil, err
	}
	supplier, err := r.suppliers.GetLive(ctx, *confirmed.SupplierID)
	if err != nil {
		return nil, err
	}
	r.notifier.Broadcast(realtime.Event{
		Type:       realtime.EventAliasResolved,
		AliasID:    confirmed.ID,
		SupplierID: supplier.ID,
		Text:       confirmed.Text,
		Source:     confirmed.Source,
		Score:      confirmed.Confidence,
	})
	return &Resolution{Decision: DecisionAttached, Supplier: supplier, Alias: confirmed}, nil
}

// RejectPending turns down the suggested match: the alias becomes the first
// alias of a new supplier named after it.
func (r *Resolver) RejectPending(ctx context.Context, aliasID uint) (*Resolution, error) {
	supplier, alias, err := r.aliases.ConfirmPendingAsNewSupplier(ctx, aliasID, "")
	if err != nil {
		return nil, err
	}
	r.notifier.Broadcast(realtime.Event{
		Type:       realtime.EventAliasResolved,
		AliasID:    alias.ID,
		SupplierID: supplier.ID,
		Text:       alias.Text,
		Source:     alias.Source,
		Score:      alias.Confidence,
	})
	return &Resolution{Decision: DecisionCreated, Supplier: supplier, Alias: alias}, nil
}
