// Package web implements the HTML GUI driving adapter using templ components.
package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/a-h/templ"

	vm "github.com/ericfisherdev/sponsoredissues/internal/adapter/driving/web/viewmodel"
	"github.com/ericfisherdev/sponsoredissues/internal/application"
	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
)

// Handler is the web GUI driving adapter that serves HTML via templ components
// and accepts allocation form posts.
type Handler struct {
	stats       *application.StatsService
	ledger      *application.LedgerService
	auth        *Authenticator
	paymentMode model.PaymentMode
	secure      bool
	logger      *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	stats *application.StatsService,
	ledger *application.LedgerService,
	auth *Authenticator,
	paymentMode model.PaymentMode,
	secureCookies bool,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		stats:       stats,
		ledger:      ledger,
		auth:        auth,
		paymentMode: paymentMode,
		secure:      secureCookies,
		logger:      logger,
	}
}

// Home renders global totals and the trending list.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.GlobalStats(r.Context())
	if err != nil {
		h.serverError(w, r, "failed to compute stats", err)
		return
	}
	trending, err := h.stats.Trending(r.Context(), application.DefaultTrendingLimit)
	if err != nil {
		h.serverError(w, r, "failed to compute trending issues", err)
		return
	}

	page, _ := h.page(w, r, "Fund the issues you care about")
	h.render(w, r, http.StatusOK, Layout(page, HomePage(toHomeViewModel(stats, trending))))
}

// Owner renders every sponsorable issue of an owner.
func (h *Handler) Owner(w http.ResponseWriter, r *http.Request) {
	h.listing(w, r, r.PathValue("owner"), "")
}

// Repository renders an owner's issues with the repository's issues selected.
func (h *Handler) Repository(w http.ResponseWriter, r *http.Request) {
	h.listing(w, r, r.PathValue("owner"), r.PathValue("repo"))
}

func (h *Handler) listing(w http.ResponseWriter, r *http.Request, owner, repo string) {
	if !model.IsValidName(owner) || (repo != "" && !model.IsValidName(repo)) {
		h.errorPage(w, r, http.StatusNotFound, "page not found")
		return
	}

	title := owner
	if repo != "" {
		title += "/" + repo
	}
	page, identity := h.page(w, r, title)

	listing, err := h.stats.OwnerIssues(r.Context(), application.OwnerQuery{
		Owner:  owner,
		Repo:   repo,
		Viewer: sponsorOf(identity),
	})
	if err != nil {
		h.serverError(w, r, "failed to list owner issues", err)
		return
	}

	h.render(w, r, http.StatusOK, Layout(page, OwnerPage(toOwnerViewModel(listing))))
}

// Issue renders one issue with the allocation form.
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	ref, ok := issueRefFromPath(r)
	if !ok {
		h.errorPage(w, r, http.StatusNotFound, "page not found")
		return
	}

	page, identity := h.page(w, r, ref.String())
	viewer := sponsorOf(identity)

	listing, err := h.stats.OwnerIssues(r.Context(), application.OwnerQuery{
		Owner:  ref.Owner,
		Repo:   ref.Repo,
		Number: ref.Number,
		Viewer: viewer,
	})
	if err != nil {
		h.serverError(w, r, "failed to load issue", err)
		return
	}

	h.render(w, r, http.StatusOK, Layout(page, IssuePage(toIssueViewModel(listing, ref, viewer), page.Viewer)))
}

// Allocate sets the requester's allocation on an issue from the
// donation_dollars form field, then redirects back to the issue page.
func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	ref, ok := issueRefFromPath(r)
	if !ok {
		h.errorPage(w, r, http.StatusNotFound, "page not found")
		return
	}

	identity, err := h.auth.Identify(r)
	switch {
	case errors.Is(err, ErrNotAllowed):
		h.errorPage(w, r, http.StatusForbidden, "your account is not allowed to allocate")
		return
	case err != nil:
		h.logger.Debug("allocation without valid credentials", "issue", ref.String(), "error", err)
		h.errorPage(w, r, http.StatusUnauthorized, "sign in with GitHub to fund issues")
		return
	}

	if identity.FromCookie && !validateCSRF(r) {
		h.logger.Warn("allocation rejected: CSRF token mismatch", "sponsor", identity.Sponsor.Login, "issue", ref.String())
		h.errorPage(w, r, http.StatusForbidden, "invalid CSRF token")
		return
	}

	dollars := r.PostFormValue("donation_dollars")
	_, err = h.ledger.SetAllocationDollars(r.Context(), identity.Sponsor, ref.Owner, ref, dollars)
	switch {
	case err == nil:
	case application.IsValidationError(err):
		h.errorPage(w, r, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, application.ErrIssueNotFound):
		h.errorPage(w, r, http.StatusNotFound, ref.String()+" is not sponsorable")
		return
	case errors.Is(err, application.ErrBalanceUnavailable):
		h.errorPage(w, r, http.StatusBadGateway, "could not read your sponsorship total from GitHub, try again later")
		return
	default:
		h.serverError(w, r, "failed to save allocation", err)
		return
	}

	http.Redirect(w, r, issuePath(ref), http.StatusSeeOther)
}

// page builds the layout data. Pages render for anonymous visitors too, so a
// failed identification only drops the viewer.
func (h *Handler) page(w http.ResponseWriter, r *http.Request, title string) (vm.PageViewModel, *Identity) {
	page := vm.PageViewModel{Title: title, PaymentMode: string(h.paymentMode)}

	identity, err := h.auth.Identify(r)
	if err != nil {
		if !errors.Is(err, ErrUnauthenticated) || r.Header.Get("Authorization") != "" {
			h.logger.Debug("viewer not identified", "error", err)
		}
		return page, nil
	}

	page.Viewer = &vm.ViewerViewModel{Login: identity.Sponsor.Login}
	if identity.FromCookie {
		page.Viewer.CSRFToken = csrfToken(w, r, h.secure)
	}
	return page, identity
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		h.logger.Error("failed to render page", "path", r.URL.Path, "error", err)
	}
}

func (h *Handler) errorPage(w http.ResponseWriter, r *http.Request, status int, message string) {
	page := vm.PageViewModel{Title: http.StatusText(status), PaymentMode: string(h.paymentMode)}
	h.render(w, r, status, Layout(page, ErrorPage(message)))
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "path", r.URL.Path, "error", err)
	h.errorPage(w, r, http.StatusInternalServerError, "internal server error")
}

func issueRefFromPath(r *http.Request) (model.IssueRef, bool) {
	owner, repo := r.PathValue("owner"), r.PathValue("repo")
	if !model.IsValidName(owner) || !model.IsValidName(repo) {
		return model.IssueRef{}, false
	}
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil || number < 1 {
		return model.IssueRef{}, false
	}
	return model.IssueRef{Owner: owner, Repo: repo, Number: number}, true
}

func sponsorOf(identity *Identity) *model.Sponsor {
	if identity == nil {
		return nil
	}
	return &identity.Sponsor
}
