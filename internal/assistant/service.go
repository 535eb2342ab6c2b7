// Package assistant drives one inbound platform request through the core:
// session validity, blocked/cooldown gating, paginated field collection,
// derived-field resolution, rendering and credit settlement.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/facturio-bot/server/internal/billing"
	"github.com/facturio-bot/server/internal/cooldown"
	"github.com/facturio-bot/server/internal/core"
	"github.com/facturio-bot/server/internal/derive"
	"github.com/facturio-bot/server/internal/document"
	"github.com/facturio-bot/server/internal/form"
	"github.com/facturio-bot/server/internal/session"
	logx "github.com/facturio-bot/server/pkg/logger"
)

// Accounts is the persistence collaborator boundary. *billing.Store is the
// production implementation.
type Accounts interface {
	FindOrCreate(ctx context.Context, actorID string) (billing.User, error)
	AdjustCredits(ctx context.Context, actorID string, delta int64, description string) (billing.User, error)
	RecordUsage(ctx context.Context, actorID, action, details string) error
	Transfer(ctx context.Context, fromID, toID string, amount int64, description string) error
	RedeemReferral(ctx context.Context, actorID, code string, referredBonus, referrerBonus int64) error
}

// Request is the platform-agnostic inbound descriptor. The platform's wire
// shape is parsed upstream; the core only ever sees these fields.
type Request struct {
	Actor      string
	Kind       session.Kind
	CreatedAt  time.Time
	Command    string
	TemplateID string
	PageIndex  int
	Values     map[string]string

	// transfer and referral arguments
	TargetActor string
	Amount      int64
	Code        string
}

// PagePrompt asks the actor for the next page of fields.
type PagePrompt struct {
	TemplateID string
	Page       int
	Fields     []string
}

// DocumentResult reports a finalized, rendered document.
type DocumentResult struct {
	Name     string
	Path     string
	Password string
	Cost     int64
}

// Notice is user-facing guidance, already safe to show.
type Notice struct {
	Text string
}

// Suggestions is the low-latency completion payload.
type Suggestions struct {
	IDs []string
}

// Balance reports an actor's credit standing.
type Balance struct {
	Credits      int64
	CreditsSpent int64
	Status       string
	ReferralCode string
}

// Config carries the tunables the orchestrator needs.
type Config struct {
	Cooldowns      cooldown.TierConfig
	ReferredBonus  int64
	ReferrerBonus  int64
	GenerateAction string
}

// Service wires the core components together. All state lives in the
// injected collaborators; the service itself is stateless and safe for
// concurrent use.
type Service struct {
	accounts  Accounts
	registry  *document.Registry
	renderer  *document.Renderer
	retention *document.Retention
	collector *form.Collector
	gate      *cooldown.Gate
	clock     core.Clock
	cfg       Config
}

// New builds the orchestrator. retention may be nil when rendered outputs
// are delivered inline and never stored. A nil clock defaults to the
// system clock.
func New(accounts Accounts, registry *document.Registry, renderer *document.Renderer,
	retention *document.Retention, collector *form.Collector, gate *cooldown.Gate,
	clock core.Clock, cfg Config) *Service {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if cfg.GenerateAction == "" {
		cfg.GenerateAction = "generate"
	}
	return &Service{
		accounts:  accounts,
		registry:  registry,
		renderer:  renderer,
		retention: retention,
		collector: collector,
		gate:      gate,
		clock:     clock,
		cfg:       cfg,
	}
}

// Session wraps a request descriptor in a fresh validity session bound to
// the given responder.
func (s *Service) Session(req Request, responder session.Responder) *session.Session {
	return session.New(req.Kind, req.CreatedAt, responder, s.clock)
}

// StartForm begins a paginated fill of the template's fields and responds
// with the first page, or finalizes immediately for a fieldless template.
func (s *Service) StartForm(ctx context.Context, sess *session.Session, req Request) error {
	user, err := s.accounts.FindOrCreate(ctx, req.Actor)
	if err != nil {
		return s.failGeneric(sess, req, "load account", err)
	}
	if user.Blocked {
		return sess.Respond(Notice{Text: "You are blocked from using this service."})
	}

	d := s.cfg.Cooldowns.For(user.Status.String())
	if verdict := s.gate.Check(req.Actor, s.cfg.GenerateAction, d); !verdict.Allowed {
		return sess.Respond(Notice{Text: fmt.Sprintf(
			"Please wait %d more second(s) before generating another document.", verdict.RetryAfterSeconds)})
	}

	fields, err := s.registry.FieldNames(req.TemplateID)
	if err != nil {
		if errors.Is(err, document.ErrTemplateNotFound) {
			return sess.Respond(Notice{Text: "Unknown document template."})
		}
		return s.failGeneric(sess, req, "load template", err)
	}

	res, err := s.collector.Start(ctx, req.Actor, req.TemplateID, fields)
	if err != nil {
		if errors.Is(err, form.ErrDuplicateSession) {
			return sess.Respond(Notice{Text: "You already have this form in progress. Finish it or cancel it first."})
		}
		return s.failGeneric(sess, req, "start form", err)
	}

	if res.Done {
		return s.finalize(ctx, sess, req, user, res.Values)
	}
	return sess.Respond(PagePrompt{TemplateID: req.TemplateID, Page: res.NextPage, Fields: res.NextFields})
}

// SubmitPage merges one page of answers, then either offers the next page
// or finalizes the document. Finalization acknowledges the session first:
// rendering and settlement are slow-path work.
func (s *Service) SubmitPage(ctx context.Context, sess *session.Session, req Request) error {
	res, err := s.collector.SubmitPage(ctx, req.Actor, req.TemplateID, req.PageIndex, req.Values)
	if err != nil {
		switch {
		case errors.Is(err, form.ErrStaleState):
			return sess.Respond(Notice{Text: "This form is no longer active. Please start again."})
		case errors.Is(err, form.ErrPageMismatch):
			return sess.Respond(Notice{Text: "That page was already submitted. Please continue from the current page."})
		default:
			return s.failGeneric(sess, req, "submit page", err)
		}
	}

	if !res.Done {
		return sess.Respond(PagePrompt{TemplateID: req.TemplateID, Page: res.NextPage, Fields: res.NextFields})
	}

	if _, err := sess.Acknowledge(); err != nil {
		return err
	}
	user, err := s.accounts.FindOrCreate(ctx, req.Actor)
	if err != nil {
		return s.failGeneric(sess, req, "load account", err)
	}
	return s.finalize(ctx, sess, req, user, res.Values)
}

// finalize resolves derived fields, renders, settles credits and responds
// with the document. Credits are deducted only after a successful render,
// and only from actors who pay.
func (s *Service) finalize(ctx context.Context, sess *session.Session, req Request, user billing.User, values map[string]string) error {
	tmpl, err := s.registry.Get(req.TemplateID)
	if err != nil {
		return s.failGeneric(sess, req, "load template", err)
	}

	if !user.CanAfford(tmpl.Cost) {
		return sess.Respond(Notice{Text: fmt.Sprintf(
			"You need %d credit(s) for this document but only have %d.", tmpl.Cost, user.Credits)})
	}

	completed := derive.ResolveAll(tmpl.Fields, values)
	out, err := s.renderer.Render(tmpl, completed)
	if err != nil {
		return s.failGeneric(sess, req, "render document", err)
	}

	path := ""
	if s.retention != nil {
		if path, err = s.retention.Keep(out); err != nil {
			return s.failGeneric(sess, req, "store output", err)
		}
	}

	cost := tmpl.Cost
	if user.Status == billing.StatusPremium || user.Status == billing.StatusStaff {
		cost = 0
	}
	if cost > 0 {
		if _, err := s.accounts.AdjustCredits(ctx, req.Actor, -cost,
			fmt.Sprintf("document generation (%s)", tmpl.ID)); err != nil {
			return s.failGeneric(sess, req, "deduct credits", err)
		}
	}
	if err := s.accounts.RecordUsage(ctx, req.Actor, s.cfg.GenerateAction,
		fmt.Sprintf("template=%s fields=%d", tmpl.ID, len(completed))); err != nil {
		// usage logging is best-effort once the document exists
		logx.Warn().Err(err).Str("actor", req.Actor).Str("template", tmpl.ID).Msg("usage record failed")
	}

	logx.Info().Str("actor", req.Actor).Str("template", tmpl.ID).Int64("cost", cost).Msg("document generated")
	return sess.Respond(DocumentResult{Name: out.Name, Path: path, Password: out.Password, Cost: cost})
}

// Suggest answers the low-latency completion exchange with template IDs
// matching the typed prefix. Everything it touches is in memory; the 3s
// window leaves no room for store I/O.
func (s *Service) Suggest(sess *session.Session, prefix string) error {
	ids := s.registry.IDs()
	matched := ids[:0:0]
	for _, id := range ids {
		if strings.HasPrefix(id, prefix) {
			matched = append(matched, id)
		}
	}
	return sess.Respond(Suggestions{IDs: matched})
}

// CancelForm abandons an in-progress fill.
func (s *Service) CancelForm(ctx context.Context, sess *session.Session, req Request) error {
	if err := s.collector.Abandon(ctx, req.Actor, req.TemplateID); err != nil {
		return s.failGeneric(sess, req, "abandon form", err)
	}
	return sess.Respond(Notice{Text: "Form cancelled."})
}

// Credits responds with the actor's balance.
func (s *Service) Credits(ctx context.Context, sess *session.Session, req Request) error {
	user, err := s.accounts.FindOrCreate(ctx, req.Actor)
	if err != nil {
		return s.failGeneric(sess, req, "load account", err)
	}
	return sess.Respond(Balance{
		Credits:      user.Credits,
		CreditsSpent: user.CreditsSpent,
		Status:       user.Status.String(),
		ReferralCode: user.ReferralCode,
	})
}

// Transfer moves credits to another actor.
func (s *Service) Transfer(ctx context.Context, sess *session.Session, req Request) error {
	err := s.accounts.Transfer(ctx, req.Actor, req.TargetActor, req.Amount,
		fmt.Sprintf("transfer to %s", req.TargetActor))
	switch {
	case errors.Is(err, billing.ErrInsufficientCredits):
		return sess.Respond(Notice{Text: "You do not have enough credits for that transfer."})
	case errors.Is(err, billing.ErrUserNotFound):
		return sess.Respond(Notice{Text: "That recipient is not known yet."})
	case err != nil:
		return s.failGeneric(sess, req, "transfer credits", err)
	}
	return sess.Respond(Notice{Text: fmt.Sprintf("Transferred %d credit(s) to %s.", req.Amount, req.TargetActor)})
}

// RedeemReferral applies a referral code for the actor.
func (s *Service) RedeemReferral(ctx context.Context, sess *session.Session, req Request) error {
	err := s.accounts.RedeemReferral(ctx, req.Actor, req.Code, s.cfg.ReferredBonus, s.cfg.ReferrerBonus)
	switch {
	case errors.Is(err, billing.ErrCodeNotFound):
		return sess.Respond(Notice{Text: "That referral code does not exist."})
	case errors.Is(err, billing.ErrSelfReferral):
		return sess.Respond(Notice{Text: "You cannot redeem your own referral code."})
	case errors.Is(err, billing.ErrReferralAlreadyUsed):
		return sess.Respond(Notice{Text: "You already redeemed a referral code."})
	case err != nil:
		return s.failGeneric(sess, req, "redeem referral", err)
	}
	return sess.Respond(Notice{Text: fmt.Sprintf("Referral applied, %d credit(s) added.", s.cfg.ReferredBonus)})
}

// failGeneric logs the internal classification and shows the actor a
// single generic failure notice.
func (s *Service) failGeneric(sess *session.Session, req Request, op string, err error) error {
	logx.Error().Err(err).Str("actor", req.Actor).Str("op", op).Msg("request failed")
	return sess.Respond(Notice{Text: "Something went wrong. Please try again."})
}
